package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jyllyver/ML-API/internal/model"
	"github.com/jyllyver/ML-API/internal/storage"
)

const imageField = "image"

// Classifier is implemented by *classifier.Service.
type Classifier interface {
	Classify(ctx context.Context, img model.RawImage) (*model.ClassificationResult, error)
	Labels() model.LabelTable
}

type Handler struct {
	classifier     Classifier
	maxUploadBytes int64
	archiver       *storage.Archiver
}

type ClassifyResponse struct {
	Message string `json:"message"`
	*model.ClassificationResult
}

// NewHandler wires the upload routes. archiver may be nil, in which case
// uploads are not kept.
func NewHandler(classifier Classifier, maxUploadBytes int64, archiver *storage.Archiver) *Handler {
	return &Handler{
		classifier:     classifier,
		maxUploadBytes: maxUploadBytes,
		archiver:       archiver,
	}
}

func (h *Handler) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(h.Health))
	r.Get("/labels", RestHandler(h.Labels))
	r.Post("/upload_image", RestHandler(h.UploadImage))
	r.Post("/predict/image", RestHandler(h.UploadImage))
}

func (h *Handler) Health(r *http.Request) (any, error) {
	return map[string]string{"status": "healthy"}, nil
}

func (h *Handler) Labels(r *http.Request) (any, error) {
	return h.classifier.Labels(), nil
}

func (h *Handler) UploadImage(r *http.Request) (any, error) {
	img, err := h.readUpload(r)
	if err != nil {
		return nil, err
	}

	slog.Info("received file", "filename", img.Filename, "size", len(img.Data))

	result, err := h.classifier.Classify(r.Context(), img)

	if h.archiver != nil && model.KindOf(err) != model.KindValidation {
		h.archiver.Archive(r.Context(), img.Filename, img.Data)
	}

	if err != nil {
		return nil, err
	}

	return ClassifyResponse{Message: "Image classified successfully!", ClassificationResult: result}, nil
}

func (h *Handler) readUpload(r *http.Request) (model.RawImage, error) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return model.RawImage{}, CodedErrorf(http.StatusBadRequest, model.KindValidation, "No image file part in the request")
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.RawImage{}, h.readError(err)
		}

		filename, isFile := imageFilename(part)
		if !isFile {
			part.Close()
			continue
		}
		if filename == "" {
			return model.RawImage{}, CodedErrorf(http.StatusBadRequest, model.KindValidation, "No selected image file")
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return model.RawImage{}, h.readError(err)
		}

		return model.RawImage{Data: data, Filename: filename}, nil
	}

	return model.RawImage{}, CodedErrorf(http.StatusBadRequest, model.KindValidation, "No image file part in the request")
}

// imageFilename reports whether part is a file part of the image field and
// its declared filename. Plain form values named image are not files.
func imageFilename(part *multipart.Part) (string, bool) {
	if part.FormName() != imageField {
		return "", false
	}
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	if _, ok := params["filename"]; !ok {
		return "", false
	}
	return part.FileName(), true
}

func (h *Handler) readError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return CodedErrorf(http.StatusRequestEntityTooLarge, model.KindValidation, "Image file exceeds %d bytes", h.maxUploadBytes)
	}
	return CodedErrorf(http.StatusBadRequest, model.KindValidation, "Failed to parse form")
}
