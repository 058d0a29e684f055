// Package config loads service configuration from a .env file and the
// environment. Runtime toggles (watch directories, processing enabled) can be
// overridden later through the system_config table; this package only
// provides the static bootstrap values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Watch   WatchConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type WatchConfig struct {
	ExcelDir          string
	PDFDir            string
	ProcessingEnabled bool
	Debounce          time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4500,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Watch: WatchConfig{
			ExcelDir:          "./data/excel",
			PDFDir:            "./data/pdf",
			ProcessingEnabled: true,
			Debounce:          2 * time.Second,
		},
	}
}

// Load reads configuration from an optional .env file in the working
// directory, then from environment variables. The API bearer token
// (AUREO_TOKEN) is required.
func Load() (Config, error) {
	// Missing .env is fine; the environment alone is a valid source.
	_ = godotenv.Load()
	return loadWith(os.Getenv)
}

// loadWith is the testable core of Load.
func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if v := getenv("AUREO_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUREO_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("AUREO_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := getenv("AUREO_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("EXCEL_WATCH_DIR"); v != "" {
		cfg.Watch.ExcelDir = v
	}
	if v := getenv("PDF_WATCH_DIR"); v != "" {
		cfg.Watch.PDFDir = v
	}
	if v := getenv("FILE_PROCESSING_ENABLED"); v != "" {
		cfg.Watch.ProcessingEnabled = strings.EqualFold(v, "true")
	}
	if v := getenv("AUREO_DEBOUNCE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUREO_DEBOUNCE_MS %q: %w", v, err)
		}
		cfg.Watch.Debounce = time.Duration(ms) * time.Millisecond
	}

	if cfg.Server.Token == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via AUREO_TOKEN")
	}

	return cfg, nil
}
