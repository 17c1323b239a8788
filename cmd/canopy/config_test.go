package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	body := `{
		"bind_ip": "127.0.0.1",
		"bind_port": 9001,
		"is_root": true,
		"hello_interval": "2s",
		"fail_window": "20s"
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if cfg.BindIP != "127.0.0.1" || cfg.BindPort != 9001 || !cfg.IsRoot {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	hello, err := cfg.parseHelloInterval()
	if err != nil {
		t.Fatalf("parseHelloInterval: %v", err)
	}
	if hello != 2*time.Second {
		t.Fatalf("parseHelloInterval = %v, want 2s", hello)
	}

	fail, err := cfg.parseFailWindow()
	if err != nil {
		t.Fatalf("parseFailWindow: %v", err)
	}
	if fail != 20*time.Second {
		t.Fatalf("parseFailWindow = %v, want 20s", fail)
	}
}

func TestLoadFileConfigMissingFile(t *testing.T) {
	if _, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestParseHelloIntervalEmptyIsZero(t *testing.T) {
	var cfg fileConfig
	d, err := cfg.parseHelloInterval()
	if err != nil {
		t.Fatalf("parseHelloInterval: %v", err)
	}
	if d != 0 {
		t.Fatalf("parseHelloInterval on empty field = %v, want 0", d)
	}
}
