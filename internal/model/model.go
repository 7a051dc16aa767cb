// Package model loads the trained claim type classifier and evaluates it.
//
// Two artifact formats are supported: the JSON model dump written by
// XGBoost's Booster.save_model, evaluated natively, and ONNX, evaluated
// through onnxruntime.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/claimtype/internal/features"
)

// Artifact formats.
const (
	FormatAuto        = "auto"
	FormatXGBoostJSON = "xgboost-json"
	FormatONNX        = "onnx"
)

var (
	// ErrUnsupportedFormat is returned for an unknown format or extension.
	ErrUnsupportedFormat = errors.New("unsupported model format")
	// ErrIncompatible is returned when an artifact cannot serve the feature
	// schema.
	ErrIncompatible = errors.New("incompatible model")
)

// Classifier is a trained multi-class model over features.Vector.
type Classifier interface {
	// Predict returns the most likely class id.
	Predict(ctx context.Context, v features.Vector) (int, error)
	// PredictProba returns one probability per class, indexed by class id.
	PredictProba(ctx context.Context, v features.Vector) ([]float64, error)
	Info() Info
	Close() error
}

// Info describes a loaded artifact.
type Info struct {
	Format       string   `json:"format"`
	Path         string   `json:"path"`
	Objective    string   `json:"objective,omitempty"`
	NumClass     int      `json:"num_class"`
	NumFeature   int      `json:"num_feature"`
	NumTrees     int      `json:"num_trees,omitempty"`
	FeatureNames []string `json:"feature_names,omitempty"`
	Version      string   `json:"version,omitempty"`
}

// Options selects and configures the backend.
type Options struct {
	Format string

	ONNXLibraryPath string
	ONNXInputName   string
	ONNXLabelOutput string
	ONNXProbaOutput string
}

// DetectFormat resolves FormatAuto from the file extension.
func DetectFormat(path, format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatXGBoostJSON:
		return FormatXGBoostJSON, nil
	case FormatONNX:
		return FormatONNX, nil
	case "", FormatAuto:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatXGBoostJSON, nil
	case ".onnx":
		return FormatONNX, nil
	}
	return "", fmt.Errorf("%w: cannot infer format of %q (pickled models must be exported to JSON or ONNX)", ErrUnsupportedFormat, path)
}

// Load opens the artifact at path.
func Load(path string, opts Options) (Classifier, error) {
	format, err := DetectFormat(path, opts.Format)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model artifact: %w", err)
	}
	switch format {
	case FormatXGBoostJSON:
		return LoadXGBoostFile(path)
	case FormatONNX:
		return LoadONNX(path, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// checkFeatureNames verifies that names, when present, follow the column
// order of features.Columns.
func checkFeatureNames(names []string) error {
	if len(names) == 0 {
		return nil
	}
	want := features.ColumnNames()
	if len(names) != len(want) {
		return fmt.Errorf("%w: model has %d feature names, want %d", ErrIncompatible, len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrIncompatible, i, names[i], want[i])
		}
	}
	return nil
}
