package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jyllyver/ML-API/internal/classifier"
	"github.com/jyllyver/ML-API/internal/handlers"
	"github.com/jyllyver/ML-API/internal/model"
	"github.com/jyllyver/ML-API/internal/storage"
)

type stubPredictor struct {
	output []float32
	err    error
}

func (p *stubPredictor) Predict(t model.PixelTensor) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.output, nil
}

func (p *stubPredictor) InputShape() [4]int64 {
	return model.InputShape(model.DefaultImageSize)
}

func newRouter(predictor classifier.Predictor, labels model.LabelTable) chi.Router {
	return newArchivingRouter(predictor, labels, nil)
}

func newArchivingRouter(predictor classifier.Predictor, labels model.LabelTable, archiver *storage.Archiver) chi.Router {
	svc := classifier.New(predictor, labels)
	router := chi.NewRouter()
	handlers.NewHandler(svc, 1<<20, archiver).AddRoutes(router)
	return router
}

// hangingStore blocks every write until its context ends.
type hangingStore struct {
	started chan struct{}
	done    chan struct{}
}

func newHangingStore() *hangingStore {
	return &hangingStore{started: make(chan struct{}), done: make(chan struct{})}
}

func (s *hangingStore) PutObject(ctx context.Context, key string, data io.Reader) (string, error) {
	close(s.started)
	<-ctx.Done()
	close(s.done)
	return "", ctx.Err()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := 0; i < 40; i++ {
		img.Set(i, i%20, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type part struct {
	field    string
	filename string
	data     []byte
	plain    bool
}

func multipartRequest(t *testing.T, path string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.plain {
			require.NoError(t, mw.WriteField(p.field, string(p.data)))
			continue
		}
		w, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestUploadImage(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels)

	for _, path := range []string{"/upload_image", "/predict/image"} {
		rec := serve(router, multipartRequest(t, path, part{field: "image", filename: "bottle.png", data: pngBytes(t)}))

		assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, map[string]string{
			"message":     "Image classified successfully!",
			"prediction":  "nonbio",
			"description": "Non-biodegradable waste like plastics, metals, and synthetic materials.",
			"filename":    "bottle.png",
		}, decodeBody(t, rec))
	}
}

func TestUploadImageMissingFilePart(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels)

	reqs := map[string]*http.Request{
		"other-field": multipartRequest(t, "/upload_image", part{field: "photo", filename: "a.png", data: pngBytes(t)}),
		"plain-field": multipartRequest(t, "/upload_image", part{field: "image", data: []byte("bottle.png"), plain: true}),
		"no-parts":    multipartRequest(t, "/upload_image"),
		"not-multipart": func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/upload_image", strings.NewReader(`{}`))
			req.Header.Set("Content-Type", "application/json")
			return req
		}(),
	}

	for name, req := range reqs {
		t.Run(name, func(t *testing.T) {
			rec := serve(router, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "No image file part in the request", body["message"])
			assert.Equal(t, "validation", body["error_kind"])
		})
	}
}

func TestUploadImageEmptyFilename(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels)

	rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "", data: nil}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No selected image file", decodeBody(t, rec)["message"])
}

func TestUploadImageSkipsPlainFieldBeforeFile(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.9, 0.1}}, model.WasteLabels)

	rec := serve(router, multipartRequest(t, "/upload_image",
		part{field: "image", data: []byte("not a file"), plain: true},
		part{field: "image", filename: "peel.png", data: pngBytes(t)},
	))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "bio", body["prediction"])
	assert.Equal(t, "peel.png", body["filename"])
}

func TestUploadImageEmptyFile(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels)

	rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "empty.png", data: nil}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody(t, rec)["error_kind"])
}

func TestUploadImageNotAnImage(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels)

	rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "notes.txt", data: []byte("hello")}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "decode", decodeBody(t, rec)["error_kind"])
}

func TestUploadImageTooLarge(t *testing.T) {
	router := newRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels)

	rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "big.png", data: make([]byte, 2<<20)}))

	assert.GreaterOrEqual(t, rec.Code, 400)
	assert.Less(t, rec.Code, 500)
}

func TestUploadImageServerFaults(t *testing.T) {
	cases := map[string]struct {
		predictor *stubPredictor
		labels    model.LabelTable
		kind      string
	}{
		"inference": {&stubPredictor{err: model.Errorf(model.KindInference, "run failed")}, model.WasteLabels, "inference"},
		"mapping":   {&stubPredictor{output: []float32{0.1, 0.2, 0.7}}, model.WasteLabels, "mapping"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newRouter(tc.predictor, tc.labels)
			rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "a.png", data: pngBytes(t)}))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "Prediction failed", body["message"])
			assert.Equal(t, tc.kind, body["error_kind"])
		})
	}
}

func TestHealthAndLabels(t *testing.T) {
	router := newRouter(&stubPredictor{}, model.WasteLabels)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "healthy"}, decodeBody(t, rec))

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/labels", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var labels []model.Label
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &labels))
	assert.Equal(t, []model.Label(model.WasteLabels), labels)
}

func TestUploadImageArchivesUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalObjectStore(dir)
	require.NoError(t, err)
	archiver := storage.NewArchiver(store, time.Second)
	router := newArchivingRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels, archiver)

	data := pngBytes(t)
	rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "bottle.png", data: data}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, decodeBody(t, rec), "filepath")

	archiver.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_bottle.png"), entries[0].Name())
}

func TestUploadImageDoesNotArchiveRejectedUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalObjectStore(dir)
	require.NoError(t, err)
	archiver := storage.NewArchiver(store, time.Second)
	router := newArchivingRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels, archiver)

	rec := serve(router, multipartRequest(t, "/upload_image", part{field: "image", filename: "empty.png", data: nil}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	archiver.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadImageHangingArchiveDoesNotDelayResult(t *testing.T) {
	store := newHangingStore()
	archiver := storage.NewArchiver(store, time.Minute)
	router := newArchivingRouter(&stubPredictor{output: []float32{0.1, 0.9}}, model.WasteLabels, archiver)

	ctx, cancel := context.WithCancel(context.Background())
	req := multipartRequest(t, "/upload_image", part{field: "image", filename: "bottle.png", data: pngBytes(t)}).WithContext(ctx)

	start := time.Now()
	rec := serve(router, req)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "nonbio", decodeBody(t, rec)["prediction"])
	assert.Less(t, elapsed, 5*time.Second)

	<-store.started
	cancel()
	select {
	case <-store.done:
		t.Fatal("archive write was cancelled with the request")
	case <-time.After(50 * time.Millisecond):
	}
}
