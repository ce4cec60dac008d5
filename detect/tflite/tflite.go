// Package tflite runs a TensorFlow Lite YOLO export as a catset.Detector.
package tflite

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"

	catset "github.com/anatolykoptev/go-catset"
	"github.com/anatolykoptev/go-catset/detect"
)

// Options configures the interpreter.
type Options struct {
	ModelPath string
	Threads   int     // 0 = runtime.NumCPU()
	MinScore  float64 // rows below are dropped before class filtering (default 0.25)
}

// Detector wraps one interpreter. Invocations are serialized.
type Detector struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	size        int
	minScore    float64
}

var _ catset.Detector = (*Detector)(nil)

// New loads the model and allocates its tensors. The input tensor must be
// [1,S,S,3] float32 and the output [1,N,6].
func New(opts Options) (*Detector, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("tflite: model path is required")
	}
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.25
	}

	model := tflite.NewModelFromFile(opts.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("tflite: cannot load model %s", opts.ModelPath)
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(opts.Threads)
	options.SetErrorReporter(func(msg string, _ any) {
		slog.Warn("catset: tflite", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("tflite: cannot create interpreter")
	}
	d := &Detector{model: model, options: options, interpreter: interpreter, minScore: opts.MinScore}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		d.Close()
		return nil, errors.New("tflite: tensor allocation failed")
	}

	input := interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 || input.Dim(3) != 3 || input.Dim(1) != input.Dim(2) {
		d.Close()
		return nil, errors.New("tflite: expected a [1,S,S,3] input tensor")
	}
	d.size = input.Dim(1)
	slog.Info("catset: detector loaded", "model", opts.ModelPath, "input", d.size, "threads", opts.Threads)
	return d, nil
}

// Detect runs the model on img and returns detections in source pixels.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]catset.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tensor, lb, err := detect.Prepare(img, d.size)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter == nil {
		return nil, errors.New("tflite: detector is closed")
	}

	input := d.interpreter.GetInputTensor(0)
	copy(input.Float32s(), tensor)
	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("tflite: invoke failed")
	}

	output := d.interpreter.GetOutputTensor(0)
	if output == nil || output.Dim(output.NumDims()-1) != detect.RowWidth {
		return nil, fmt.Errorf("tflite: expected output rows of %d values", detect.RowWidth)
	}
	out := make([]float32, len(output.Float32s()))
	copy(out, output.Float32s())
	return detect.Decode(out, lb, d.minScore)
}

// Close releases the interpreter and the model.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter != nil {
		d.interpreter.Delete()
		d.interpreter = nil
	}
	if d.options != nil {
		d.options.Delete()
		d.options = nil
	}
	if d.model != nil {
		d.model.Delete()
		d.model = nil
	}
}
