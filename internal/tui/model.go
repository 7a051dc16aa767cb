// Package tui is the terminal front end: the claim form as a Bubble Tea
// program, one control per field, with the prediction and its probability
// bars rendered below the form.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/render"
)

const (
	title    = "Workers Compensation Claim Predictor"
	barWidth = 30
)

var (
	primary = lipgloss.Color("#8B5CF6")
	dim     = lipgloss.Color("#94A3B8")
	danger  = lipgloss.Color("#F43F5E")
	success = lipgloss.Color("#22C55E")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary)
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	focusStyle   = lipgloss.NewStyle().Foreground(primary).Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(dim).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(danger)
	metricStyle  = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// phase is where the form is in its activation cycle.
type phase int

const (
	phaseIdle phase = iota
	phaseSubmitted
)

// predictionMsg carries the outcome of one prediction back to Update.
type predictionMsg struct {
	res *predictor.Result
	err error
}

// Model is the terminal form.
type Model struct {
	ctx     context.Context
	pred    *predictor.Predictor
	loadErr error

	fields []claim.Field
	state  claim.FormState
	focus  int
	input  textinput.Model

	phase  phase
	result *predictor.Result
	err    error
	width  int
}

// New returns a form over p, or a model that only shows loadErr when the
// resources could not be loaded.
func New(ctx context.Context, p *predictor.Predictor, loadErr error) Model {
	m := Model{ctx: ctx, pred: p, loadErr: loadErr}
	if p == nil && loadErr == nil {
		m.loadErr = errors.New("no predictor configured")
	}
	if m.loadErr != nil {
		return m
	}
	res := p.Resources()
	bySection := claim.FieldsBySection(res.Choices())
	for _, s := range claim.Sections {
		m.fields = append(m.fields, bySection[s]...)
	}
	m.state = res.Defaults()
	m.input = textinput.New()
	m.input.CharLimit = 12
	m.input.SetWidth(12)
	m.syncInput()
	return m
}

// State returns the current form state.
func (m Model) State() claim.FormState { return m.state }

// Result returns the last successful prediction, if any.
func (m Model) Result() *predictor.Result { return m.result }

// Err returns the last validation or prediction error, if any.
func (m Model) Err() error { return m.err }

func (m Model) Init() tea.Cmd {
	return nil
}

// onSubmit reports whether the focus is on the submit action.
func (m Model) onSubmit() bool { return m.focus == len(m.fields) }

func (m Model) focused() (claim.Field, bool) {
	if m.onSubmit() {
		return claim.Field{}, false
	}
	return m.fields[m.focus], true
}

func isText(f claim.Field) bool {
	return f.Kind == claim.KindInt || f.Kind == claim.KindFloat
}

// syncInput loads the focused text field into the input buffer.
func (m *Model) syncInput() {
	f, ok := m.focused()
	if !ok || !isText(f) {
		m.input.Blur()
		return
	}
	m.input.SetValue(f.Value(m.state))
	m.input.CursorEnd()
	m.input.Focus()
}

// commit writes the input buffer back to the focused text field. The
// field keeps focus when the value is rejected.
func (m *Model) commit() bool {
	f, ok := m.focused()
	if !ok || !isText(f) {
		return true
	}
	next := m.state
	if err := f.Set(&next, m.input.Value()); err != nil {
		m.err = err
		return false
	}
	if err := m.pred.Resources().Validator.Check(next); err != nil {
		m.err = err
		return false
	}
	m.state = next
	m.err = nil
	return true
}

func (m *Model) move(delta int) {
	if !m.commit() {
		return
	}
	n := len(m.fields) + 1
	m.focus = ((m.focus+delta)%n + n) % n
	m.syncInput()
}

// cycle steps a choice, month or bool field through its values.
func (m *Model) cycle(delta int) {
	f, ok := m.focused()
	if !ok {
		return
	}
	var next string
	switch {
	case f.Kind == claim.KindBool:
		next = fmt.Sprint(!f.Bool(m.state))
	case len(f.Options) > 0:
		cur := f.Value(m.state)
		i := 0
		for j, o := range f.Options {
			if o.Value == cur {
				i = j
				break
			}
		}
		n := len(f.Options)
		next = f.Options[((i+delta)%n+n)%n].Value
	default:
		return
	}
	if err := f.Set(&m.state, next); err != nil {
		m.err = err
		return
	}
	m.err = nil
}

func (m Model) submit() (Model, tea.Cmd) {
	if !m.commit() {
		return m, nil
	}
	m.phase = phaseSubmitted
	p, ctx, state := m.pred, m.ctx, m.state
	return m, func() tea.Msg {
		res, err := p.Predict(ctx, state, attribute.String("surface", "tui"))
		return predictionMsg{res: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case predictionMsg:
		m.phase = phaseIdle
		m.result, m.err = msg.res, msg.err
		return m, nil

	case tea.KeyPressMsg:
		if m.loadErr != nil {
			return m, tea.Quit
		}
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}
		if m.phase == phaseSubmitted {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+s":
			return m.submit()
		case "up", "shift+tab":
			m.move(-1)
			return m, nil
		case "down", "tab":
			m.move(1)
			return m, nil
		case "enter":
			if m.onSubmit() {
				return m.submit()
			}
			f, _ := m.focused()
			if f.Kind == claim.KindBool {
				m.cycle(1)
			} else {
				m.move(1)
			}
			return m, nil
		}

		f, ok := m.focused()
		if !ok {
			return m, nil
		}
		if isText(f) {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "left", "h":
			m.cycle(-1)
		case "right", "l", "space":
			m.cycle(1)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() tea.View {
	return tea.NewView(m.Render())
}

// Render returns the form as text.
func (m Model) Render() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	if m.loadErr != nil {
		b.WriteString(errorStyle.Render("Model unavailable. " + m.loadErr.Error()))
		b.WriteString("\n\n")
		b.WriteString(hintStyle.Render("Press any key to exit."))
		b.WriteString("\n")
		return b.String()
	}

	section := ""
	for i, f := range m.fields {
		if f.Section != section {
			if section != "" {
				b.WriteString("\n")
			}
			section = f.Section
			b.WriteString(sectionStyle.Render(section))
			b.WriteString("\n")
		}
		b.WriteString(m.renderField(i, f))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	button := "[ Predict Claim Type ]"
	if m.onSubmit() {
		button = focusStyle.Render("› " + button)
	} else {
		button = "  " + button
	}
	b.WriteString(button)
	b.WriteString("\n")

	if m.phase == phaseSubmitted {
		b.WriteString(hintStyle.Render("Predicting..."))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
		var perr *predictor.PredictionError
		if errors.As(m.err, &perr) && len(perr.ColumnTypes) > 0 {
			b.WriteString(hintStyle.Render("Input data types:"))
			b.WriteString("\n")
			for _, c := range perr.ColumnTypes {
				fmt.Fprintf(&b, "  %-32s %s\n", c.Name, c.DType)
			}
		}
	}
	if m.result != nil && m.err == nil {
		b.WriteString("\nPredicted Claim Type: ")
		b.WriteString(metricStyle.Render(m.result.Label))
		b.WriteString("\n\n")
		b.WriteString(render.TextBars(m.result.Probabilities, barWidth))
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render("↑↓ move  ←→ change  space toggle  enter/ctrl+s predict  esc quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderField(i int, f claim.Field) string {
	var value string
	switch {
	case f.Kind == claim.KindBool:
		value = "[ ]"
		if f.Bool(m.state) {
			value = "[x]"
		}
	case len(f.Options) > 0:
		cur := f.Value(m.state)
		value = cur
		for _, o := range f.Options {
			if o.Value == cur {
				value = o.Label
			}
		}
		value = "‹ " + value + " ›"
	case i == m.focus:
		value = m.input.View()
	default:
		value = f.Value(m.state)
	}

	line := fmt.Sprintf("%-34s %s", f.Label, value)
	if i == m.focus {
		return focusStyle.Render("› ") + line
	}
	return "  " + line
}

// Run starts the terminal form and blocks until the user quits.
func Run(ctx context.Context, p *predictor.Predictor, loadErr error) error {
	prog := tea.NewProgram(New(ctx, p, loadErr), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("terminal form: %w", err)
	}
	return nil
}
