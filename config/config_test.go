package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Loop.CallTimeout != 0 {
		t.Errorf("CallTimeout = %v", cfg.Loop.CallTimeout)
	}
	if !cfg.Loop.Console {
		t.Error("Console should default to true")
	}
	if !cfg.Handles.SweepOnRelease {
		t.Error("SweepOnRelease should default to true")
	}
	if cfg.Metrics.Namespace != "jsbridge" || cfg.Metrics.Enabled {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	data := []byte(`
loop:
  call_timeout: 250ms
  max_call_stack: 512
wasm:
  memory_limit_pages: 256
metrics:
  enabled: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JSBRIDGE_METRICS_NAMESPACE", "edge")
	t.Setenv("JSBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"call timeout", cfg.Loop.CallTimeout, 250 * time.Millisecond},
		{"max call stack", cfg.Loop.MaxCallStack, 512},
		{"console default", cfg.Loop.Console, true},
		{"memory pages", cfg.Wasm.MemoryLimitPages, uint32(256)},
		{"metrics enabled", cfg.Metrics.Enabled, true},
		{"namespace from env", cfg.Metrics.Namespace, "edge"},
		{"level from env", cfg.Log.Level, "debug"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLogConfig_Logger(t *testing.T) {
	if _, err := (LogConfig{Level: "loud"}).Logger(); err == nil {
		t.Error("unknown level must fail")
	}
	log, err := LogConfig{Level: "warn", Development: true}.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Error("debug must be disabled at warn level")
	}
}
