package config

import (
	"os"
	"path/filepath"
	"testing"

	"pointdrift/pkg/normalize"
	"pointdrift/pkg/runner"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Registration.MaxIterations != runner.DefaultMaxIterations {
		t.Errorf("MaxIterations = %d, want %d",
			cfg.Registration.MaxIterations, runner.DefaultMaxIterations)
	}
	if cfg.Registration.OutlierWeight != runner.DefaultOutlierWeight {
		t.Errorf("OutlierWeight = %v, want %v",
			cfg.Registration.OutlierWeight, runner.DefaultOutlierWeight)
	}
	if cfg.Registration.Normalize != "same-scale" {
		t.Errorf("Normalize = %q, want same-scale", cfg.Registration.Normalize)
	}
	if cfg.Rigid.Scale || cfg.Rigid.AllowReflections {
		t.Error("Scaling and reflections must be off by default")
	}
	if cfg.Processing.NumCores < 1 {
		t.Errorf("NumCores = %d, want at least 1", cfg.Processing.NumCores)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("A missing config file must yield defaults, got %v", err)
	}
	if cfg.Registration.MaxIterations != runner.DefaultMaxIterations {
		t.Error("Missing config file did not yield defaults")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`registration:
  maxIterations: 42
  outlierWeight: 0.25
  normalize: independent
rigid:
  scale: true
processing:
  numCores: 3
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Registration.MaxIterations != 42 {
		t.Errorf("MaxIterations = %d, want 42", cfg.Registration.MaxIterations)
	}
	if cfg.Registration.OutlierWeight != 0.25 {
		t.Errorf("OutlierWeight = %v, want 0.25", cfg.Registration.OutlierWeight)
	}
	// Unspecified values keep their defaults
	if cfg.Registration.ErrorChangeThreshold != runner.DefaultErrorChangeThreshold {
		t.Error("Unspecified values must keep defaults")
	}

	r, err := cfg.Runner()
	if err != nil {
		t.Fatalf("Failed to build runner: %v", err)
	}
	if r.MaxIterations != 42 || r.Normalize != normalize.Independent || r.Workers != 3 {
		t.Errorf("Runner not built from config: %+v", r)
	}
	if !cfg.RigidMethod().Scale {
		t.Error("Rigid method not built from config")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := DefaultConfig()
	cfg.Registration.MaxIterations = 7
	cfg.Rigid.AllowReflections = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Registration.MaxIterations != 7 || !loaded.Rigid.AllowReflections {
		t.Errorf("Round trip lost values: %+v", loaded)
	}
}

func TestRunnerRejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.Normalize = "sideways"
	if _, err := cfg.Runner(); err == nil {
		t.Error("Expected an unknown normalization strategy to be rejected")
	}
}
