package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"HF_HTTP_ADDR", "HF_DATABASE_URL", "HF_DB_MIGRATE", "HF_SWEEP_INTERVAL", "HF_LOG_FORMAT"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL should default to empty (in-memory mode)")
	}
	if !cfg.DBMigrate {
		t.Fatalf("DBMigrate should default to true")
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("SweepInterval=%v want 1m", cfg.SweepInterval)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat=%q want json", cfg.LogFormat)
	}
}

func TestLoadConfig_SweepIntervalOff(t *testing.T) {
	for _, v := range []string{"0", "off", "OFF"} {
		t.Setenv("HF_SWEEP_INTERVAL", v)
		if got := LoadConfig().SweepInterval; got != 0 {
			t.Fatalf("HF_SWEEP_INTERVAL=%q gave %v want 0", v, got)
		}
	}

	t.Setenv("HF_SWEEP_INTERVAL", "garbage")
	if got := LoadConfig().SweepInterval; got != time.Minute {
		t.Fatalf("bad HF_SWEEP_INTERVAL gave %v want default", got)
	}
}

func TestEnvInt32(t *testing.T) {
	t.Setenv("HF_TEST_INT32", "-3")
	if got := EnvInt32("HF_TEST_INT32", 7); got != 7 {
		t.Fatalf("negative value should fall back, got %d", got)
	}
	t.Setenv("HF_TEST_INT32", "12")
	if got := EnvInt32("HF_TEST_INT32", 7); got != 12 {
		t.Fatalf("EnvInt32=%d want 12", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hfauth.env")
	if err := os.WriteFile(path, []byte("HF_HTTP_ADDR=127.0.0.1:9999\nHF_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("HF_ENV_FILE", path)
	t.Setenv("HF_HTTP_ADDR", "")
	t.Setenv("HF_LOG_LEVEL", "warn")
	// godotenv only fills variables that are absent.
	if err := os.Unsetenv("HF_HTTP_ADDR"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	got, err := LoadEnvFile()
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got != path {
		t.Fatalf("loaded %q want %q", got, path)
	}
	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q want value from file", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel=%q, existing env must win", cfg.LogLevel)
	}

	t.Setenv("HF_ENV_FILE", filepath.Join(dir, "missing.env"))
	if _, err := LoadEnvFile(); err == nil {
		t.Fatalf("expected error for missing explicit env file")
	}
}
