package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// InitRuntime loads the onnxruntime shared library and initializes the
// environment. Only the first call does any work.
func InitRuntime(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = WrapError(KindModelLoad, err, "failed to initialize ONNX environment")
		}
	})
	return initErr
}

func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type ServerOptions struct {
	ModelPath  string
	InputName  string
	OutputName string
	ImageSize  int
	NumClasses int
}

// Server owns one loaded model and the tensors bound to its session. Calls to
// Predict are serialized since they share those tensors.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputShape   [4]int64
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewServer loads the model at opts.ModelPath. InitRuntime must have been
// called first.
func NewServer(opts ServerOptions) (*Server, error) {
	if err := checkArtifact(opts.ModelPath); err != nil {
		return nil, err
	}
	if opts.ImageSize <= 0 || opts.NumClasses <= 0 {
		return nil, Errorf(KindModelLoad, "invalid model geometry: image size %d, %d classes", opts.ImageSize, opts.NumClasses)
	}

	shape := InputShape(opts.ImageSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(shape[:]...))
	if err != nil {
		return nil, WrapError(KindModelLoad, err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.NumClasses)))
	if err != nil {
		inputTensor.Destroy()
		return nil, WrapError(KindModelLoad, err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, WrapError(KindModelLoad, err, fmt.Sprintf("failed to create ONNX session for %s", opts.ModelPath))
	}

	return &Server{
		session:      session,
		inputShape:   shape,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func checkArtifact(path string) error {
	if path == "" {
		return Errorf(KindModelLoad, "model path is not set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return WrapError(KindModelLoad, err, fmt.Sprintf("model artifact %s is not readable", path))
	}
	if !info.Mode().IsRegular() {
		return Errorf(KindModelLoad, "model artifact %s is not a regular file", path)
	}
	if info.Size() == 0 {
		return Errorf(KindModelLoad, "model artifact %s is empty", path)
	}
	return nil
}

func (s *Server) InputShape() [4]int64 {
	return s.inputShape
}

// Predict runs the model on t and returns a copy of the output scores.
func (s *Server) Predict(t PixelTensor) ([]float32, error) {
	if t.Shape != s.inputShape || len(t.Data) != t.Len() {
		return nil, Errorf(KindInference, "input tensor shape %v (%d values) does not match model input %v", t.Shape, len(t.Data), s.inputShape)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, Errorf(KindInference, "model server is closed")
	}

	copy(s.inputTensor.GetData(), t.Data)

	if err := s.session.Run(); err != nil {
		return nil, WrapError(KindInference, err, "inference failed")
	}

	out := s.outputTensor.GetData()
	return append([]float32(nil), out...), nil
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}
