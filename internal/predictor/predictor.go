package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/telemetry"
	"github.com/banshee-data/claimtype/internal/timeutil"
)

// Prediction stages, reported by PredictionError.
const (
	StageEncode        = "encode"
	StagePredict       = "predict"
	StagePredictProba  = "predict_proba"
	StageProbabilities = "probabilities"
	StageLabel         = "label"
)

// ErrProbabilityShape is returned when the classifier yields a probability
// vector that does not cover exactly the known claim types.
var ErrProbabilityShape = errors.New("probability vector has unexpected length")

// ErrProbabilityValue is returned when a probability is not a finite number
// in [0, 1].
var ErrProbabilityValue = errors.New("probability out of range")

// float32 softmax output can overshoot 1 by a few ulps.
const probabilityTolerance = 1e-6

// PredictionError is the failure half of a prediction. ColumnTypes lists the
// dtypes of the submitted feature vector for diagnosis.
type PredictionError struct {
	Stage       string
	Err         error
	ColumnTypes []features.Column
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("error making prediction (%s): %v", e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// Probability is one claim type and its estimated probability.
type Probability struct {
	ClassID     int     `json:"class_id"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Result is the success half of a prediction.
type Result struct {
	ID            uuid.UUID       `json:"id"`
	Time          time.Time       `json:"time"`
	Duration      time.Duration   `json:"duration_ns"`
	ClassID       int             `json:"class_id"`
	Label         string          `json:"label"`
	Probabilities []Probability   `json:"probabilities"`
	Vector        features.Vector `json:"-"`
	State         claim.FormState `json:"form"`
}

// Features returns the submitted vector keyed by column name.
func (r *Result) Features() map[string]float64 {
	return r.Vector.Map()
}

// Recorder persists predictions. Implementations must not block the caller
// for long; a failing recorder never fails the prediction.
type Recorder interface {
	Record(ctx context.Context, state claim.FormState, res *Result, perr *PredictionError) error
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithClock overrides the time source.
func WithClock(c timeutil.Clock) Option {
	return func(p *Predictor) { p.clock = c }
}

// WithRecorder stores every prediction, successful or not.
func WithRecorder(r Recorder) Option {
	return func(p *Predictor) { p.recorder = r }
}

// WithTelemetry traces and counts predictions.
func WithTelemetry(t *telemetry.Provider) Option {
	return func(p *Predictor) { p.telemetry = t }
}

// WithIDs overrides the result id generator.
func WithIDs(f func() uuid.UUID) Option {
	return func(p *Predictor) { p.newID = f }
}

// Predictor runs predictions against shared Resources. It is safe for
// concurrent use.
type Predictor struct {
	res       *Resources
	clock     timeutil.Clock
	recorder  Recorder
	telemetry *telemetry.Provider
	newID     func() uuid.UUID
}

// New returns a Predictor over res.
func New(res *Resources, opts ...Option) *Predictor {
	p := &Predictor{res: res, clock: timeutil.RealClock{}, newID: uuid.New}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Resources returns the shared resources.
func (p *Predictor) Resources() *Resources { return p.res }

// Predict runs one prediction. Errors are always *PredictionError.
func (p *Predictor) Predict(ctx context.Context, state claim.FormState, attrs ...attribute.KeyValue) (*Result, error) {
	ctx, done := p.telemetry.TrackPrediction(ctx, attrs...)
	start := p.clock.Now()

	res, perr := p.predict(ctx, state)
	if res != nil {
		res.Time = start
		res.Duration = p.clock.Since(start)
	}

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, state, res, perr); err != nil {
			logf("failed to record prediction: %v", err)
		}
	}
	if perr != nil {
		logf("prediction failed at %s: %v", perr.Stage, perr.Err)
		done(perr)
		return nil, perr
	}
	done(nil)
	return res, nil
}

func (p *Predictor) predict(ctx context.Context, state claim.FormState) (res *Result, perr *PredictionError) {
	stage := StageEncode
	defer func() {
		if r := recover(); r != nil {
			res = nil
			perr = &PredictionError{Stage: stage, Err: fmt.Errorf("panic: %v", r), ColumnTypes: features.ColumnTypes()}
		}
	}()
	fail := func(err error) (*Result, *PredictionError) {
		return nil, &PredictionError{Stage: stage, Err: err, ColumnTypes: features.ColumnTypes()}
	}

	vec, err := p.res.Tables.Encode(state)
	if err != nil {
		return fail(err)
	}

	stage = StagePredict
	classID, err := p.res.Classifier.Predict(ctx, vec)
	if err != nil {
		return fail(err)
	}

	stage = StagePredictProba
	proba, err := p.res.Classifier.PredictProba(ctx, vec)
	if err != nil {
		return fail(err)
	}

	stage = StageProbabilities
	if len(proba) != len(p.res.Labels) {
		return fail(fmt.Errorf("%w: got %d, want %d", ErrProbabilityShape, len(proba), len(p.res.Labels)))
	}
	for i, v := range proba {
		if math.IsNaN(v) || v < 0 || v > 1+probabilityTolerance {
			return fail(fmt.Errorf("%w: class %d has %v", ErrProbabilityValue, i, v))
		}
	}

	stage = StageLabel
	label, err := claim.Label(classID)
	if err != nil {
		return fail(err)
	}

	return &Result{
		ID:            p.newID(),
		ClassID:       classID,
		Label:         label,
		Probabilities: SortProbabilities(proba, p.res.Labels[:]),
		Vector:        vec,
		State:         state,
	}, nil
}

// SortProbabilities pairs probabilities with labels and orders them from
// most to least likely. Ties keep class id order.
func SortProbabilities(proba []float64, labels []string) []Probability {
	out := make([]Probability, len(proba))
	for i, v := range proba {
		out[i] = Probability{ClassID: i, Label: labels[i], Probability: v}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}
