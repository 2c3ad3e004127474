package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageNone  = "none"
)

type Config struct {
	Port int `env:"PORT" envDefault:"5000"`

	ModelPath        string `env:"MODEL_PATH" envDefault:"models/waste_classifier.onnx"`
	ModelS3URI       string `env:"MODEL_S3_URI"`
	ModelInputName   string `env:"MODEL_INPUT_NAME" envDefault:"input"`
	ModelOutputName  string `env:"MODEL_OUTPUT_NAME" envDefault:"output"`
	ImageSize        int    `env:"IMAGE_SIZE" envDefault:"224"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"local"`
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"uploads"`
	UploadBucket   string `env:"UPLOAD_S3_BUCKET"`
	UploadPrefix   string `env:"UPLOAD_S3_PREFIX" envDefault:"uploads"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	MaxUploadBytes     int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	MaxImagePixels int           `env:"MAX_IMAGE_PIXELS" envDefault:"40000000"`
	ArchiveTimeout time.Duration `env:"ARCHIVE_TIMEOUT" envDefault:"30s"`
}

// Load reads the configuration from the environment. When envFile is set its
// variables are merged in first; variables already in the environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		slog.Info("loading env file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file %q: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR must be set for the local storage backend")
		}
	case StorageS3:
		if c.UploadBucket == "" {
			return fmt.Errorf("UPLOAD_S3_BUCKET must be set for the s3 storage backend")
		}
	case StorageNone:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: must be one of local, s3, none", c.StorageBackend)
	}

	if c.ImageSize <= 0 {
		return fmt.Errorf("IMAGE_SIZE must be positive, got %d", c.ImageSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	}
	if c.ArchiveTimeout <= 0 {
		return fmt.Errorf("ARCHIVE_TIMEOUT must be positive, got %s", c.ArchiveTimeout)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH must be set")
	}
	return nil
}

// NeedsS3 reports whether an S3 client is required.
func (c *Config) NeedsS3() bool {
	return c.StorageBackend == StorageS3 || c.ModelS3URI != ""
}
