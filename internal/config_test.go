package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkgconfig "github.com/starford/deckmark/pkg/config"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
}

func TestAnkiConfig_InvalidURL(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Anki.URL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid url should fail validation")
	}
}

func TestAnkiConfig_ShortTimeout(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Anki.Timeout = time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("sub-second timeout should fail validation")
	}
}

func TestApplicationConfig_EmptyFormatDefaultsText(t *testing.T) {
	cfg := ApplicationConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty format should default to text: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("format = %q, want %q", cfg.LogFormat, LogFormatText)
	}
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown format should fail validation")
	}
}

func TestJournalConfig(t *testing.T) {
	cfg := JournalConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("enabled journal without path should fail")
	}
	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled journal: %v", err)
	}

	cfg.Path = "j.db"
	if got := cfg.Resolve("/cards"); got != filepath.Join("/cards", "j.db") {
		t.Errorf("Resolve = %q", got)
	}
	cfg.Path = "/var/j.db"
	if got := cfg.Resolve("/cards"); got != "/var/j.db" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "deckmark.yaml")
	body := "app:\n  log_level: debug\nanki:\n  url: http://localhost:9999\n  timeout: 3s\n  api_version: 6\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(p, cfg); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.App.LogLevel)
	}
	if cfg.Anki.URL != "http://localhost:9999" || cfg.Anki.Timeout != 3*time.Second {
		t.Errorf("anki = %+v", cfg.Anki)
	}
	if cfg.Collection.Path != "." || !cfg.Journal.Enabled {
		t.Errorf("defaults lost: %+v", cfg)
	}
}
