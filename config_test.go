// config_test.go

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if *cfg != *want {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmkern.toml")
	content := `
slice-interval-ms = 25
core-start-index = 1
timeout-ms = 2000
default-resource-limit = 500
default-priority = 3
verbosity = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SliceIntervalMs != 25 || cfg.CoreStartIndex != 1 || cfg.TimeoutMs != 2000 {
		t.Fatalf("scheduler fields wrong: %+v", cfg)
	}
	if cfg.DefaultResourceLimit != 500 || cfg.DefaultPriority != 3 || cfg.Verbosity != 2 {
		t.Fatalf("vm fields wrong: %+v", cfg)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmkern.toml")
	if err := os.WriteFile(path, []byte("slice-interval-ms = 50\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SliceIntervalMs != 50 {
		t.Fatalf("slice interval = %d, want 50", cfg.SliceIntervalMs)
	}
	if cfg.TimeoutMs != DefaultConfig().TimeoutMs {
		t.Fatalf("timeout default lost: %d", cfg.TimeoutMs)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmkern.toml")
	if err := os.WriteFile(path, []byte("slice-interval-ms = -5\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("negative slice interval accepted")
	}

	if err := os.WriteFile(path, []byte("not toml [[["), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("malformed toml accepted")
	}
}
