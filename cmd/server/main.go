package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jyllyver/ML-API/internal/classifier"
	"github.com/jyllyver/ML-API/internal/config"
	"github.com/jyllyver/ML-API/internal/handlers"
	"github.com/jyllyver/ML-API/internal/model"
	"github.com/jyllyver/ML-API/internal/storage"
)

func createArchive(cfg *config.Config, s3Store func(bucket, prefix string) *storage.S3ObjectStore) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		return storage.NewLocalObjectStore(cfg.UploadDir)
	case config.StorageS3:
		return s3Store(cfg.UploadBucket, cfg.UploadPrefix), nil
	default:
		return nil, nil
	}
}

func fetchModel(ctx context.Context, cfg *config.Config, s3Store func(bucket, prefix string) *storage.S3ObjectStore) error {
	bucket, key, err := storage.ParseS3URI(cfg.ModelS3URI)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.ModelPath); err == nil {
		slog.Info("model already present, skipping download", "path", cfg.ModelPath)
		return nil
	}
	return s3Store(bucket, "").DownloadObject(ctx, bucket, key, cfg.ModelPath)
}

func createServer(cfg *config.Config, svc *classifier.Service, archiver *storage.Archiver) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	handlers.NewHandler(svc, cfg.MaxUploadBytes, archiver).AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
}

func main() {
	envFile := flag.String("env", "", "optional .env file merged into the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	var s3Store func(bucket, prefix string) *storage.S3ObjectStore
	if cfg.NeedsS3() {
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		s3Store = func(bucket, prefix string) *storage.S3ObjectStore {
			return storage.NewS3ObjectStore(client, bucket, prefix)
		}
	}

	if cfg.ModelS3URI != "" {
		if err := fetchModel(ctx, cfg, s3Store); err != nil {
			log.Fatalf("Failed to fetch model from %s: %v", cfg.ModelS3URI, err)
		}
	}

	if err := model.InitRuntime(cfg.OnnxRuntimeDylib); err != nil {
		log.Fatalf("Failed to initialize ONNX runtime: %v", err)
	}
	defer func() {
		if err := model.DestroyRuntime(); err != nil {
			log.Printf("error destroying onnx env: %v", err)
		}
	}()

	slog.Info("loading model", "path", cfg.ModelPath)

	modelServer, err := model.NewServer(model.ServerOptions{
		ModelPath:  cfg.ModelPath,
		InputName:  cfg.ModelInputName,
		OutputName: cfg.ModelOutputName,
		ImageSize:  cfg.ImageSize,
		NumClasses: len(model.WasteLabels),
	})
	if err != nil {
		log.Fatalf("Failed to initialize model server: %v", err)
	}
	defer modelServer.Close()

	archive, err := createArchive(cfg, s3Store)
	if err != nil {
		log.Fatalf("Failed to create upload storage: %v", err)
	}

	var archiver *storage.Archiver
	if archive != nil {
		archiver = storage.NewArchiver(archive, cfg.ArchiveTimeout)
	}

	svc := classifier.New(modelServer, model.WasteLabels, classifier.WithMaxImagePixels(cfg.MaxImagePixels))

	server := createServer(cfg, svc, archiver)

	done := make(chan struct{})
	go func() {
		defer close(done)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server starting", "port", cfg.Port, "labels", model.WasteLabels, "storage", cfg.StorageBackend)
	log.Printf("Upload test: curl -X POST -F \"image=@bottle.jpg\" http://localhost:%d/upload_image", cfg.Port)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}

	<-done
	if archiver != nil {
		archiver.Wait()
	}
	slog.Info("server stopped")
}
