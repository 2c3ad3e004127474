// Package classifier runs the upload -> decode -> predict -> label pipeline.
package classifier

import (
	"context"
	"log/slog"

	"github.com/jyllyver/ML-API/internal/imaging"
	"github.com/jyllyver/ML-API/internal/model"
)

// Predictor is the model runtime. *model.Server implements it.
type Predictor interface {
	Predict(t model.PixelTensor) ([]float32, error)
	InputShape() [4]int64
}

type Service struct {
	predictor Predictor
	labels    model.LabelTable
	maxPixels int
}

type Option func(*Service)

// WithMaxImagePixels overrides imaging.DefaultMaxPixels.
func WithMaxImagePixels(n int) Option {
	return func(s *Service) {
		s.maxPixels = n
	}
}

func New(predictor Predictor, labels model.LabelTable, opts ...Option) *Service {
	s := &Service{predictor: predictor, labels: labels, maxPixels: imaging.DefaultMaxPixels}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Labels() model.LabelTable {
	return s.labels
}

func (s *Service) Classify(ctx context.Context, img model.RawImage) (*model.ClassificationResult, error) {
	if img.Filename == "" {
		return nil, model.Errorf(model.KindValidation, "No selected image file")
	}
	if len(img.Data) == 0 {
		return nil, model.Errorf(model.KindValidation, "Empty image file")
	}

	size := int(s.predictor.InputShape()[1])
	tensor, err := imaging.Decode(img.Data, size, s.maxPixels)
	if err != nil {
		return nil, err
	}

	output, err := s.predictor.Predict(tensor)
	if err != nil {
		return nil, err
	}

	label, err := s.labels.Map(output)
	if err != nil {
		return nil, err
	}

	slog.Info("classified image", "filename", img.Filename, "label", label.Name, "scores", output)

	return &model.ClassificationResult{
		Label:          label.Name,
		Description:    label.Description,
		SourceFilename: img.Filename,
	}, nil
}
