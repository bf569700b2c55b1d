// Package config loads this service's runtime configuration from the
// environment, optionally overlaid with a leaksense.yaml file, and
// validates the result before the server starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watershedlabs/leaksense/pkg/validation"
)

// Config is this service's full runtime configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	Port        int    `yaml:"port"`

	LeakThresholdLps       float64       `yaml:"leak_threshold_lps"`
	DetectionWindow        time.Duration `yaml:"detection_window"`
	BaselineWindow         time.Duration `yaml:"baseline_window"`
	MatrixConcurrency      int           `yaml:"matrix_concurrency"`
	UnitLeakSizeLps        float64       `yaml:"unit_leak_size_lps"`

	StorageEPANETDir  string `yaml:"storage_epanet_dir"`
	MatrixBatchLogDir string `yaml:"matrix_batch_log_dir"`
	AWSS3Bucket       string `yaml:"aws_s3_bucket"`
	AWSRegion         string `yaml:"aws_region"`
}

// Defaults matching the operational knobs SPEC_FULL.md §1.3 leaves as
// defaults.
const (
	DefaultPort              = 3000
	DefaultLeakThresholdLps  = 5.0
	DefaultDetectionWindow   = 300 * time.Second
	DefaultBaselineWindow    = 3600 * time.Second
	DefaultMatrixConcurrency = 5
	DefaultUnitLeakSizeLps   = 1.0
	DefaultStorageEPANETDir  = "./storage/epanet"
	DefaultMatrixBatchLogDir = "./storage/matrix-batches"
)

// Load reads configuration from the environment, optionally overlaid by
// yamlPath if it exists, fills in defaults, and validates the result.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{}

	if yamlPath != "" {
		if err := loadYAML(yamlPath, cfg); err != nil {
			return nil, err
		}
	}

	loadEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables on top of any YAML-provided
// values; a set environment variable always wins.
func loadEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("LEAK_THRESHOLD_LPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LeakThresholdLps = f
		}
	}
	if v := os.Getenv("DETECTION_WINDOW_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.DetectionWindow = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("BASELINE_WINDOW_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.BaselineWindow = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("MATRIX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MatrixConcurrency = n
		}
	}
	if v := os.Getenv("UNIT_LEAK_SIZE_LPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.UnitLeakSizeLps = f
		}
	}
	if v := os.Getenv("STORAGE_EPANET_DIR"); v != "" {
		cfg.StorageEPANETDir = v
	}
	if v := os.Getenv("MATRIX_BATCH_LOG_DIR"); v != "" {
		cfg.MatrixBatchLogDir = v
	}
	if v := os.Getenv("AWS_S3_BUCKET"); v != "" {
		cfg.AWSS3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
}

func applyDefaults(cfg *Config) {
	cfg.Port = validation.DefaultOrInt(cfg.Port, DefaultPort)
	cfg.LeakThresholdLps = defaultOrFloat(cfg.LeakThresholdLps, DefaultLeakThresholdLps)
	cfg.DetectionWindow = validation.DefaultOrDuration(cfg.DetectionWindow, DefaultDetectionWindow)
	cfg.BaselineWindow = validation.DefaultOrDuration(cfg.BaselineWindow, DefaultBaselineWindow)
	cfg.MatrixConcurrency = validation.DefaultOrInt(cfg.MatrixConcurrency, DefaultMatrixConcurrency)
	cfg.UnitLeakSizeLps = defaultOrFloat(cfg.UnitLeakSizeLps, DefaultUnitLeakSizeLps)
	cfg.StorageEPANETDir = validation.DefaultOr(cfg.StorageEPANETDir, DefaultStorageEPANETDir)
	cfg.MatrixBatchLogDir = validation.DefaultOr(cfg.MatrixBatchLogDir, DefaultMatrixBatchLogDir)
}

func defaultOrFloat(value, defaultValue float64) float64 {
	if value <= 0 {
		return defaultValue
	}
	return value
}

// UsesS3 reports whether blob storage should use the S3 backend.
func (c *Config) UsesS3() bool {
	return c.AWSS3Bucket != ""
}

// Validate checks the loaded configuration, matching the teacher's
// ConfigValidator fluent-builder style.
func (c *Config) Validate() error {
	v := validation.NewConfigValidator("Config")
	v.Required("DatabaseURL", c.DatabaseURL)
	v.RangeInt("Port", c.Port, 1, 65535)
	v.PositiveFloat("LeakThresholdLps", c.LeakThresholdLps)
	v.MinDuration("DetectionWindow", c.DetectionWindow, time.Second)
	v.MinDuration("BaselineWindow", c.BaselineWindow, time.Second)
	v.Positive("MatrixConcurrency", c.MatrixConcurrency)
	v.PositiveFloat("UnitLeakSizeLps", c.UnitLeakSizeLps)
	v.Required("StorageEPANETDir", c.StorageEPANETDir)
	v.Required("MatrixBatchLogDir", c.MatrixBatchLogDir)
	v.When(c.AWSS3Bucket != "", func(cv *validation.ConfigValidator) {
		cv.Required("AWSRegion", c.AWSRegion)
	})
	return v.Validate()
}
