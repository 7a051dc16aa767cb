// Package predictor runs one claim type prediction: encode the form state,
// ask the classifier for the class and the class probabilities, and label
// the result.
package predictor

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/model"
	"github.com/banshee-data/claimtype/internal/monitoring"
)

var logf = monitoring.Component("predict")

// Config locates and configures the model artifact.
type Config struct {
	ModelPath string
	Model     model.Options
}

// LoadError is returned when the model or the lookups cannot be prepared.
// A process holding a LoadError serves no predictions.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error loading model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Resources are the immutable, shared inputs of every prediction.
type Resources struct {
	Classifier model.Classifier
	Tables     features.Tables
	Labels     [claim.NumClasses]string
	Validator  *claim.Validator
	LoadedAt   time.Time
}

// Load opens the artifact and builds the lookup tables. Any failure is
// returned as a *LoadError.
func Load(ctx context.Context, cfg Config) (*Resources, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: err}
	}
	c, err := model.Load(cfg.ModelPath, cfg.Model)
	if err != nil {
		return nil, &LoadError{Path: cfg.ModelPath, Err: err}
	}
	res, err := NewResources(c, features.DefaultTables())
	if err != nil {
		c.Close()
		return nil, &LoadError{Path: cfg.ModelPath, Err: err}
	}
	info := c.Info()
	logf("loaded %s model %s (%d classes, %d trees)", info.Format, info.Path, info.NumClass, info.NumTrees)
	return res, nil
}

// NewResources assembles resources around an already loaded classifier.
func NewResources(c model.Classifier, tables features.Tables) (*Resources, error) {
	if c == nil {
		return nil, fmt.Errorf("no classifier")
	}
	if tables.District == nil || tables.Carrier == nil || tables.MedicalFee == nil {
		return nil, fmt.Errorf("lookup tables incomplete")
	}
	v, err := claim.NewValidator(tables.Choices())
	if err != nil {
		return nil, err
	}
	for _, l := range []*features.Lookup{tables.District, tables.Carrier, tables.MedicalFee} {
		for _, o := range l.Overwritten() {
			logf("warning: %s table binds %q twice; code %d is unreachable, using %d", l.Name(), o.Key, o.Previous, o.Code)
		}
	}
	if n := c.Info().NumClass; n != 0 && n != claim.NumClasses {
		logf("warning: model reports %d classes, labels cover %d", n, claim.NumClasses)
	}
	return &Resources{
		Classifier: c,
		Tables:     tables,
		Labels:     claim.Labels,
		Validator:  v,
		LoadedAt:   time.Now(),
	}, nil
}

// Choices returns the categorical options offered by the form.
func (r *Resources) Choices() claim.Choices {
	return r.Tables.Choices()
}

// Defaults returns the initial form state.
func (r *Resources) Defaults() claim.FormState {
	return claim.NewFormState(r.Choices())
}

// Close releases the classifier.
func (r *Resources) Close() error {
	if r == nil || r.Classifier == nil {
		return nil
	}
	return r.Classifier.Close()
}
