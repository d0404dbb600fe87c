package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
	if cfg.Registration.UpsampleFactor != 10 {
		t.Errorf("Expected default upsample factor 10, got %d", cfg.Registration.UpsampleFactor)
	}
	if cfg.Registration.Workers < 1 {
		t.Errorf("Expected at least one worker, got %d", cfg.Registration.Workers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Output.ReportFile != DefaultConfig().Output.ReportFile {
		t.Errorf("Expected defaults for a missing file, got %+v", cfg)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Registration.UpsampleFactor = 25
	cfg.Registration.Axis = "x"
	cfg.Registration.ReferenceIndex = 3
	cfg.Output.Format = "tiff"
	cfg.Output.Verbose = false

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Registration.UpsampleFactor != 25 || loaded.Registration.Axis != "x" ||
		loaded.Registration.ReferenceIndex != 3 {
		t.Errorf("Registration section not preserved: %+v", loaded.Registration)
	}
	if loaded.Output.Format != "tiff" || loaded.Output.Verbose {
		t.Errorf("Output section not preserved: %+v", loaded.Output)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("registration:\n  upsampleFactor: 4\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registration.UpsampleFactor != 4 {
		t.Errorf("Expected upsample factor 4, got %d", cfg.Registration.UpsampleFactor)
	}
	if cfg.Registration.Axis != "z" || cfg.Output.Format != "png" {
		t.Errorf("Expected defaults for unset keys, got %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero upsample", "registration:\n  upsampleFactor: 0\n"},
		{"bad axis", "registration:\n  axis: w\n"},
		{"negative reference", "registration:\n  referenceIndex: -1\n"},
		{"bad format", "output:\n  format: gif\n"},
		{"extension without dot", "input:\n  extensions: [png]\n"},
		{"malformed", "registration: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registration.Axis != "z" {
		t.Errorf("Expected axis z, got %q", cfg.Registration.Axis)
	}
}
