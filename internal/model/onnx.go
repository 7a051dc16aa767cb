package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/banshee-data/claimtype/internal/features"
)

// Default tensor names of an sklearn-onnx / onnxmltools classifier export.
const (
	DefaultONNXInput       = "input"
	DefaultONNXLabelOutput = "label"
	DefaultONNXProbaOutput = "probabilities"

	onnxNumClass = 8
)

var (
	ortMu    sync.Mutex
	ortUsers int
)

// acquireRuntime initialises the process-wide onnxruntime environment on
// first use.
func acquireRuntime(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortUsers == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialise onnxruntime: %w", err)
		}
	}
	ortUsers++
	return nil
}

func releaseRuntime() {
	ortMu.Lock()
	defer ortMu.Unlock()
	ortUsers--
	if ortUsers == 0 && ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}

// ONNX runs a classifier exported to ONNX with a [1,19] float32 input, an
// int64 label output and a [1,num_class] float32 probability output.
type ONNX struct {
	info Info

	// The session binds its tensors once, so runs are serialised.
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	label   *ort.Tensor[int64]
	proba   *ort.Tensor[float32]
}

// LoadONNX opens an ONNX session for path.
func LoadONNX(path string, opts Options) (*ONNX, error) {
	if err := acquireRuntime(opts.ONNXLibraryPath); err != nil {
		return nil, err
	}
	m, err := newONNX(path, opts)
	if err != nil {
		releaseRuntime()
		return nil, err
	}
	return m, nil
}

func newONNX(path string, opts Options) (*ONNX, error) {
	inName := orDefault(opts.ONNXInputName, DefaultONNXInput)
	labelName := orDefault(opts.ONNXLabelOutput, DefaultONNXLabelOutput)
	probaName := orDefault(opts.ONNXProbaOutput, DefaultONNXProbaOutput)

	input, err := ort.NewTensor(ort.NewShape(1, features.NumColumns), make([]float32, features.NumColumns))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	label, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create label tensor: %w", err)
	}
	proba, err := ort.NewEmptyTensor[float32](ort.NewShape(1, onnxNumClass))
	if err != nil {
		input.Destroy()
		label.Destroy()
		return nil, fmt.Errorf("create probability tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inName}, []string{labelName, probaName},
		[]ort.Value{input}, []ort.Value{label, proba}, nil)
	if err != nil {
		input.Destroy()
		label.Destroy()
		proba.Destroy()
		return nil, fmt.Errorf("%w: onnx session: %v", ErrIncompatible, err)
	}

	return &ONNX{
		info: Info{
			Format:     FormatONNX,
			Path:       path,
			NumClass:   onnxNumClass,
			NumFeature: features.NumColumns,
		},
		session: session,
		input:   input,
		label:   label,
		proba:   proba,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (m *ONNX) run(ctx context.Context, v features.Vector) (int64, []float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0, nil, fmt.Errorf("onnx model closed")
	}
	copy(m.input.GetData(), v.Float32())
	if err := m.session.Run(); err != nil {
		return 0, nil, fmt.Errorf("onnx run: %w", err)
	}
	raw := m.proba.GetData()
	probs := make([]float64, len(raw))
	for i, p := range raw {
		probs[i] = float64(p)
	}
	return m.label.GetData()[0], probs, nil
}

func (m *ONNX) Predict(ctx context.Context, v features.Vector) (int, error) {
	label, _, err := m.run(ctx, v)
	return int(label), err
}

func (m *ONNX) PredictProba(ctx context.Context, v features.Vector) ([]float64, error) {
	_, probs, err := m.run(ctx, v)
	return probs, err
}

func (m *ONNX) Info() Info { return m.info }

func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.input.Destroy()
	m.label.Destroy()
	m.proba.Destroy()
	m.session = nil
	releaseRuntime()
	return err
}
