package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/testutil"
)

func fixturePredictor(t *testing.T) *predictor.Predictor {
	t.Helper()
	res, err := predictor.Load(context.Background(), predictor.Config{ModelPath: testutil.WriteXGBoostModel(t)})
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })
	return predictor.New(res)
}

func keyPress(r rune) tea.KeyPressMsg {
	return tea.KeyPressMsg{Code: r, Text: string(r)}
}

func specialKey(code rune) tea.KeyPressMsg {
	return tea.KeyPressMsg{Code: code}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

// focusOn moves the focus down until it reaches key.
func focusOn(t *testing.T, m Model, key string) Model {
	t.Helper()
	for i := 0; i <= len(m.fields); i++ {
		if f, ok := m.focused(); ok && f.Key == key {
			return m
		}
		m, _ = update(t, m, specialKey(tea.KeyDown))
	}
	t.Fatalf("field %s not reachable", key)
	return m
}

// runCmd executes a command and feeds its message back into the model.
func runCmd(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	return m
}

func TestNew_FieldOrderAndDefaults(t *testing.T) {
	t.Parallel()
	pred := fixturePredictor(t)
	m := New(context.Background(), pred, nil)

	require.Len(t, m.fields, 19)
	assert.Equal(t, "birth_year", m.fields[0].Key)
	assert.Equal(t, claim.SectionMedical, m.fields[len(m.fields)-1].Section)
	assert.Equal(t, pred.Resources().Defaults(), m.State())
	assert.Equal(t, "1980", m.input.Value())
	assert.Nil(t, m.Init())
}

func TestSubmitDefaults(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m, cmd := update(t, m, tea.KeyPressMsg{Code: 's', Mod: tea.ModCtrl})
	assert.Equal(t, phaseSubmitted, m.phase)
	assert.Contains(t, m.Render(), "Predicting...")

	m = runCmd(t, m, cmd)
	assert.Equal(t, phaseIdle, m.phase)
	require.NoError(t, m.Err())
	require.NotNil(t, m.Result())
	assert.Equal(t, "MED ONLY", m.Result().Label)

	view := m.Render()
	assert.Contains(t, view, "Predicted Claim Type")
	assert.Contains(t, view, "MED ONLY")
	for _, label := range claim.Labels {
		assert.Contains(t, view, label)
	}
}

func TestToggleAttorneyAndPredict(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m = focusOn(t, m, "attorney_representative")
	m, _ = update(t, m, specialKey(tea.KeySpace))
	assert.True(t, m.State().AttorneyRepresentative)

	// Walk down to the submit action and press enter.
	for !m.onSubmit() {
		m, _ = update(t, m, specialKey(tea.KeyTab))
	}
	m, cmd := update(t, m, specialKey(tea.KeyEnter))
	m = runCmd(t, m, cmd)
	require.NotNil(t, m.Result())
	assert.Equal(t, "TEMPORARY", m.Result().Label)
}

func TestCycleChoices(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m = focusOn(t, m, "district_name")
	m, _ = update(t, m, specialKey(tea.KeyRight))
	assert.Equal(t, "BINGHAMTON", m.State().DistrictName)
	m, _ = update(t, m, specialKey(tea.KeyLeft))
	m, _ = update(t, m, specialKey(tea.KeyLeft))
	assert.Equal(t, "STATEWITE", m.State().DistrictName, "wraps to the last key")

	m = focusOn(t, m, "accident_month")
	assert.Contains(t, m.Render(), "January")
	m, _ = update(t, m, specialKey(tea.KeyLeft))
	assert.Equal(t, 12, m.State().AccidentMonth)
	assert.Contains(t, m.Render(), "December")
}

func TestCycle_SetErrorIsShown(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m = focusOn(t, m, "accident_month")
	m.fields[m.focus].Options = append(m.fields[m.focus].Options, claim.Option{Value: "Smarch", Label: "Smarch"})
	m, _ = update(t, m, specialKey(tea.KeyLeft))
	require.Error(t, m.Err())
	assert.Contains(t, m.Err().Error(), "invalid integer")
	assert.Equal(t, 1, m.State().AccidentMonth, "state unchanged")
	assert.Contains(t, m.Render(), "Smarch")

	m, _ = update(t, m, specialKey(tea.KeyRight))
	assert.NoError(t, m.Err())
	assert.Equal(t, 2, m.State().AccidentMonth)
}

func TestEditNumber(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m = focusOn(t, m, "birth_year")
	for range 4 {
		m, _ = update(t, m, specialKey(tea.KeyBackspace))
	}
	for _, r := range "1975" {
		m, _ = update(t, m, keyPress(r))
	}
	m, _ = update(t, m, specialKey(tea.KeyDown))
	assert.Equal(t, 1975, m.State().BirthYear)
	assert.NoError(t, m.Err())
	assert.Equal(t, "accident_month", m.fields[m.focus].Key)
}

func TestEditNumber_RejectsOutOfRange(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m = focusOn(t, m, "birth_year")
	for range 4 {
		m, _ = update(t, m, specialKey(tea.KeyBackspace))
	}
	for _, r := range "1850" {
		m, _ = update(t, m, keyPress(r))
	}
	m, _ = update(t, m, specialKey(tea.KeyDown))

	require.Error(t, m.Err())
	assert.True(t, errors.Is(m.Err(), claim.ErrInvalid))
	assert.Equal(t, claim.DefaultBirthYear, m.State().BirthYear)
	assert.Equal(t, "birth_year", m.fields[m.focus].Key, "focus stays on the rejected field")
	assert.Contains(t, m.Render(), strings.SplitN(m.Err().Error(), "\n", 2)[0])
}

func TestEditNumber_RejectsGarbage(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	m = focusOn(t, m, "ime_4_count")
	m, _ = update(t, m, keyPress('x'))
	m, cmd := update(t, m, tea.KeyPressMsg{Code: 's', Mod: tea.ModCtrl})
	assert.Nil(t, cmd)
	assert.Error(t, m.Err())
	assert.Equal(t, phaseIdle, m.phase)
}

func TestPredictionErrorShowsColumnTypes(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	perr := &predictor.PredictionError{
		Stage:       predictor.StagePredict,
		Err:         errors.New("boom"),
		ColumnTypes: []features.Column{{Name: "Birth Year", DType: "int64"}},
	}
	m, _ = update(t, m, predictionMsg{err: perr})

	view := m.Render()
	assert.Contains(t, view, "boom")
	assert.Contains(t, view, "Input data types:")
	assert.Contains(t, view, "Birth Year")
	assert.NotContains(t, view, "Predicted Claim Type")
}

func TestHaltedShowsOnlyError(t *testing.T) {
	t.Parallel()
	loadErr := &predictor.LoadError{Path: "tuned_XGB.json", Err: errors.New("no such file")}
	m := New(context.Background(), nil, loadErr)

	view := m.Render()
	assert.Contains(t, view, "error loading model tuned_XGB.json")
	assert.NotContains(t, view, "Predict Claim Type")
	assert.NotContains(t, view, "Birth Year")

	_, cmd := update(t, m, keyPress('a'))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestQuit(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)

	_, cmd := update(t, m, specialKey(tea.KeyEscape))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestWindowSize(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), fixturePredictor(t), nil)
	m, cmd := update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Nil(t, cmd)
	assert.Equal(t, 100, m.width)
	assert.NotNil(t, m.View().Content)
}
