package classifier

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// TFLiteModel runs a float32 NHWC image model through TensorFlow Lite. It is
// not safe for concurrent use; ModelClassifier serialises access.
type TFLiteModel struct {
	path        string
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	width       int
	height      int
}

// LoadTFLiteModel loads the model at path and allocates its tensors. threads
// of 0 picks a count from the number of CPUs.
func LoadTFLiteModel(path, family string, threads int) (*TFLiteModel, error) {
	start := time.Now()

	modelData, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(path, family).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(path, family).
			Context("model_size_kb", len(modelData)/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	if threads <= 0 {
		threads = max(1, runtime.NumCPU()/2)
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	m := &TFLiteModel{path: path, model: model, options: options}
	m.interpreter = tflite.NewInterpreter(model, options)
	if m.interpreter == nil {
		m.Close()
		return nil, modelInitError(path, family, "cannot create interpreter")
	}
	if status := m.interpreter.AllocateTensors(); status != tflite.OK {
		m.Close()
		return nil, modelInitError(path, family, "tensor allocation failed")
	}

	input := m.interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 || input.Dim(3) != 3 {
		m.Close()
		return nil, modelInitError(path, family, "expected a [1,H,W,3] input tensor")
	}
	m.height, m.width = input.Dim(1), input.Dim(2)

	// the interpreter keeps its own copy of the model data
	runtime.GC()

	GetLogger().Info("model initialized",
		logger.String("path", path),
		logger.String("family", family),
		logger.Int("threads", threads),
		logger.Int("input_width", m.width),
		logger.Int("input_height", m.height),
		logger.Duration("elapsed", time.Since(start)))

	return m, nil
}

func modelInitError(path, family, msg string) error {
	return errors.Newf("%s", msg).
		Component("classifier").
		Category(errors.CategoryModelInit).
		ModelContext(path, family).
		Build()
}

// InputSize returns the input tensor's width and height.
func (m *TFLiteModel) InputSize() (width, height int) {
	return m.width, m.height
}

// Infer copies input into the input tensor, invokes the interpreter and
// returns a copy of the first output tensor.
func (m *TFLiteModel) Infer(input []float32) ([]float32, error) {
	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	dst := inputTensor.Float32s()
	if len(dst) != len(input) {
		return nil, fmt.Errorf("input tensor holds %d values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	predSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	predictions := make([]float32, predSize)
	copy(predictions, outputTensor.Float32s())
	return predictions, nil
}

// Close releases the interpreter and model.
func (m *TFLiteModel) Close() {
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}
