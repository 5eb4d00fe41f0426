// Package config reads the process configuration from the environment once
// at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-docparser/internal/converters"
	"github.com/tendant/simple-docparser/internal/dispatch"
	"github.com/tendant/simple-docparser/internal/storage"
)

type Pipeline struct {
	Mode         dispatch.Mode
	WorkDir      string
	OutputPrefix string
	DefaultLang  string
	MaxDocuments int
	JobTimeout   time.Duration
	Options      converters.Options
}

type NATS struct {
	URL           string
	JobSubject    string
	WorkerQueue   string
	ResultSubject string
}

type Server struct {
	Addr              string
	MaxConcurrentJobs int
	ShutdownGrace     time.Duration
	MetricsAddr       string // worker metrics listener, "off" disables it
}

type Log struct {
	Format string
	Level  string
}

type Config struct {
	Storage   storage.Config
	Converter converters.Config
	Pipeline  Pipeline
	NATS      NATS
	Server    Server
	Log       Log
}

// Load reads every setting from the environment and validates the result.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Storage: storage.Config{
			Backend:  getenv("STORAGE_BACKEND", "local"),
			Bucket:   getenv("STORAGE_BUCKET", ""),
			LocalDir: getenv("STORAGE_LOCAL_DIR", "./data/objects"),
			S3: storage.S3Config{
				Region:          getenv("AWS_S3_REGION", "us-east-1"),
				AccessKeyID:     getenv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY", ""),
				Endpoint:        getenv("AWS_S3_ENDPOINT", ""),
			},
			GCS: storage.GCSConfig{
				CredentialsJSON: getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),
			},
		},
		Converter: converters.Config{
			Kind:        getenv("CONVERTER", "command"),
			Binary:      getenv("MINERU_BIN", "mineru"),
			ModelSource: getenv("MINERU_MODEL_SOURCE", ""),
			DeviceMode:  getenv("MINERU_DEVICE_MODE", ""),
			VirtualVRAM: getenv("MINERU_VIRTUAL_VRAM_SIZE", ""),
			APIURL:      getenv("MINERU_API_URL", ""),
		},
		Pipeline: Pipeline{
			WorkDir:      getenv("WORK_DIR", filepath.Join(os.TempDir(), "docparser")),
			OutputPrefix: strings.Trim(getenv("OUTPUT_PREFIX", ""), "/"),
			DefaultLang:  getenv("DEFAULT_LANG", "en"),
			Options: converters.Options{
				Backend:   getenv("MINERU_BACKEND", "pipeline"),
				Method:    getenv("MINERU_METHOD", "auto"),
				ServerURL: getenv("MINERU_SERVER_URL", ""),
			},
		},
		NATS: NATS{
			URL:           getenv("NATS_URL", "nats://127.0.0.1:4222"),
			JobSubject:    getenv("JOB_SUBJECT", "docparser.jobs"),
			WorkerQueue:   getenv("WORKER_QUEUE", "docparser-workers"),
			ResultSubject: getenv("RESULT_SUBJECT", "docparser.done"),
		},
		Server: Server{
			Addr:        getenv("HTTP_ADDR", ":8080"),
			MetricsAddr: getenv("METRICS_ADDR", ":9091"),
		},
		Log: Log{
			Format: getenv("LOG_FORMAT", "text"),
			Level:  getenv("LOG_LEVEL", "info"),
		},
	}

	var err error
	cfg.Storage.S3.UsePathStyle, err = getenvBool("AWS_S3_USE_PATH_STYLE", true)
	collect(err)
	cfg.Converter.APITimeout, err = getenvDuration("MINERU_API_TIMEOUT", 0)
	collect(err)
	cfg.Pipeline.JobTimeout, err = getenvDuration("JOB_TIMEOUT", 0)
	collect(err)
	cfg.Pipeline.Options.StartPage, err = getenvInt("START_PAGE", 0)
	collect(err)
	cfg.Pipeline.Options.EndPage, err = getenvInt("END_PAGE", -1)
	collect(err)
	cfg.Pipeline.MaxDocuments, err = getenvInt("MAX_DOCUMENTS", 0)
	collect(err)
	cfg.Server.MaxConcurrentJobs, err = getenvInt("MAX_CONCURRENT_JOBS", 1)
	collect(err)
	cfg.Server.ShutdownGrace, err = getenvDuration("SHUTDOWN_GRACE", 30*time.Second)
	collect(err)

	cfg.Pipeline.Mode, err = dispatch.ParseMode(getenv("DISPATCH_MODE", "batch"))
	collect(err)

	collect(cfg.validate())
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("STORAGE_BUCKET is required for the %s backend", c.Storage.Backend))
		}
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("STORAGE_LOCAL_DIR is required for the local backend"))
		}
	}
	if c.Converter.Kind == "api" && c.Converter.APIURL == "" {
		errs = append(errs, errors.New("MINERU_API_URL is required when CONVERTER=api"))
	}
	if err := converters.ValidateOptions(c.Pipeline.Options); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.MaxDocuments < 0 {
		errs = append(errs, fmt.Errorf("MAX_DOCUMENTS must not be negative (got %d)", c.Pipeline.MaxDocuments))
	}
	if c.Server.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_JOBS must be greater than zero (got %d)", c.Server.MaxConcurrentJobs))
	}
	if c.Pipeline.WorkDir == "" {
		errs = append(errs, errors.New("WORK_DIR must not be empty"))
	}
	return errors.Join(errs...)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(key string, defaultValue int) (int, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getenvBool(key string, defaultValue bool) (bool, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getenvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
