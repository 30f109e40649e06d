package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunnelsync/internal/shared/transport"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Elevated = "tcp://127.0.0.1:7702"
	cfg.BindTimeout = 750 * time.Millisecond
	cfg.PreferVPN = true
	cfg.Service.HomePages = []string{"https://home.example"}

	if err := SaveClientConfig(cfg, path); err != nil {
		t.Fatalf("SaveClientConfig() error = %v", err)
	}
	if !ConfigExists(path) {
		t.Fatal("ConfigExists() = false after save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	got, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if got.Elevated != cfg.Elevated || got.BindTimeout != cfg.BindTimeout || !got.PreferVPN {
		t.Errorf("loaded = %+v, want %+v", got, cfg)
	}
	if len(got.Service.HomePages) != 1 {
		t.Errorf("HomePages = %v, want 1 entry", got.Service.HomePages)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "prefer_vpn: true\nbind_timeout: 300ms\nservice:\n  region: CA\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.BindTimeout != 300*time.Millisecond {
		t.Errorf("BindTimeout = %v, want 300ms", cfg.BindTimeout)
	}
	if cfg.Service.Region != "CA" {
		t.Errorf("Region = %q, want CA", cfg.Service.Region)
	}
	if cfg.Control == "" || cfg.Service.StatsInterval != time.Second {
		t.Errorf("defaults lost: control=%q stats=%v", cfg.Control, cfg.Service.StatsInterval)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadClientConfig(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Errorf("LoadClientConfig(missing) error = %v, want hint to run config init", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("control: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClientConfig(bad); err == nil {
		t.Error("LoadClientConfig(bad yaml) error = nil")
	}

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	if err != nil || cfg == nil {
		t.Errorf("LoadOrDefault(missing) = %v, %v; want defaults", cfg, err)
	}
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no control", func(c *Config) { c.Control = "" }, true},
		{"bad scheme", func(c *Config) { c.Control = "http://127.0.0.1:1" }, true},
		{"websocket control", func(c *Config) { c.Control = "ws://127.0.0.1:1/ipc" }, true},
		{"websocket extra target", func(c *Config) { c.WebSocket = "ws://127.0.0.1:1/ipc" }, false},
		{"negative timeout", func(c *Config) { c.BindTimeout = -time.Second }, true},
		{"no state dir", func(c *Config) { c.StateDir = "" }, true},
		{"port range", func(c *Config) { c.Service.HTTPProxyPort = 70000 }, true},
		{"valid key", func(c *Config) { c.Service.ExchangeKey = key }, false},
		{"short key", func(c *Config) { c.Service.ExchangeKey = "c2hvcnQ=" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestTargetsAndServiceEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Control = "unix:///tmp/ts.sock"
	cfg.Elevated = "tcp://127.0.0.1:7702"
	cfg.WebSocket = "ws://127.0.0.1:7703/ipc"

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets() error = %v", err)
	}
	if len(targets) != 3 || targets[2].Scheme != transport.SchemeWS {
		t.Errorf("Targets() = %v, want control, elevated, websocket", targets)
	}

	ep, _ := cfg.ServiceEndpoint(false)
	if ep.Scheme != transport.SchemeUnix {
		t.Errorf("ServiceEndpoint(false) = %v, want control", ep)
	}
	ep, _ = cfg.ServiceEndpoint(true)
	if ep.Scheme != transport.SchemeTCP {
		t.Errorf("ServiceEndpoint(true) = %v, want elevated", ep)
	}
}

func TestFilePreferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	prefs := FilePreferences{Path: path}

	if prefs.WantVPN() {
		t.Error("WantVPN() = true without a config file")
	}

	cfg := Default()
	cfg.PreferVPN = true
	if err := SaveClientConfig(cfg, path); err != nil {
		t.Fatal(err)
	}
	if !prefs.WantVPN() {
		t.Error("WantVPN() = false after saving prefer_vpn")
	}
}
