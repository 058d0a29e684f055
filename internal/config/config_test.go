package config

import (
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(env(map[string]string{
		"AUREO_TOKEN": "secret",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4500 {
		t.Fatalf("port = %d, want 4500", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "./data" {
		t.Fatalf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Watch.ExcelDir != "./data/excel" || cfg.Watch.PDFDir != "./data/pdf" {
		t.Fatalf("watch dirs = %q, %q", cfg.Watch.ExcelDir, cfg.Watch.PDFDir)
	}
	if !cfg.Watch.ProcessingEnabled {
		t.Fatal("processing should default to enabled")
	}
	if cfg.Watch.Debounce != 2*time.Second {
		t.Fatalf("debounce = %v", cfg.Watch.Debounce)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := loadWith(env(map[string]string{
		"AUREO_TOKEN":             "secret",
		"AUREO_PORT":              "8080",
		"AUREO_DATA_DIR":          "/var/lib/aureo",
		"EXCEL_WATCH_DIR":         "/srv/excel",
		"PDF_WATCH_DIR":           "/srv/pdf",
		"FILE_PROCESSING_ENABLED": "false",
		"AUREO_DEBOUNCE_MS":       "500",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/var/lib/aureo" {
		t.Fatalf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Watch.ExcelDir != "/srv/excel" || cfg.Watch.PDFDir != "/srv/pdf" {
		t.Fatalf("watch dirs = %q, %q", cfg.Watch.ExcelDir, cfg.Watch.PDFDir)
	}
	if cfg.Watch.ProcessingEnabled {
		t.Fatal("processing should be disabled")
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.Watch.Debounce)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	_, err := loadWith(env(map[string]string{}))
	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if !strings.Contains(err.Error(), "AUREO_TOKEN") {
		t.Fatalf("error should name the variable: %v", err)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	if _, err := loadWith(env(map[string]string{
		"AUREO_TOKEN": "secret", "AUREO_PORT": "not-a-port",
	})); err == nil {
		t.Fatal("expected error for bad port")
	}
	if _, err := loadWith(env(map[string]string{
		"AUREO_TOKEN": "secret", "AUREO_DEBOUNCE_MS": "soon",
	})); err == nil {
		t.Fatal("expected error for bad debounce")
	}
}
