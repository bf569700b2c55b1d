package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "PORT", "LEAK_THRESHOLD_LPS", "DETECTION_WINDOW_SECONDS",
		"BASELINE_WINDOW_SECONDS", "MATRIX_CONCURRENCY", "UNIT_LEAK_SIZE_LPS",
		"STORAGE_EPANET_DIR", "MATRIX_BATCH_LOG_DIR", "AWS_S3_BUCKET", "AWS_REGION",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultsAppliedWhenUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/leaksense")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.LeakThresholdLps != DefaultLeakThresholdLps {
		t.Errorf("LeakThresholdLps = %v, want %v", cfg.LeakThresholdLps, DefaultLeakThresholdLps)
	}
	if cfg.DetectionWindow != DefaultDetectionWindow {
		t.Errorf("DetectionWindow = %v, want %v", cfg.DetectionWindow, DefaultDetectionWindow)
	}
	if cfg.MatrixConcurrency != DefaultMatrixConcurrency {
		t.Errorf("MatrixConcurrency = %d, want %d", cfg.MatrixConcurrency, DefaultMatrixConcurrency)
	}
	if cfg.StorageEPANETDir != DefaultStorageEPANETDir {
		t.Errorf("StorageEPANETDir = %q, want %q", cfg.StorageEPANETDir, DefaultStorageEPANETDir)
	}
	if cfg.MatrixBatchLogDir != DefaultMatrixBatchLogDir {
		t.Errorf("MatrixBatchLogDir = %q, want %q", cfg.MatrixBatchLogDir, DefaultMatrixBatchLogDir)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "leaksense.yaml")
	if err := os.WriteFile(yamlPath, []byte("database_url: postgres://yaml/db\nport: 4000\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("PORT", "5000")

	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://yaml/db" {
		t.Errorf("expected DatabaseURL from YAML, got %q", cfg.DatabaseURL)
	}
	if cfg.Port != 5000 {
		t.Errorf("expected PORT env to override YAML port, got %d", cfg.Port)
	}
}

func TestLoad_MissingDatabaseURLFailsValidation(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error for missing DATABASE_URL")
	}
}

func TestLoad_S3BucketRequiresRegion(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/leaksense")
	t.Setenv("AWS_S3_BUCKET", "leaksense-inp-files")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error: AWS_S3_BUCKET set without AWS_REGION")
	}
}

func TestLoad_DetectionWindowFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/leaksense")
	t.Setenv("DETECTION_WINDOW_SECONDS", "120")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DetectionWindow != 120*time.Second {
		t.Errorf("DetectionWindow = %v, want 120s", cfg.DetectionWindow)
	}
}
