// Package config loads and saves the tunnelsync configuration file,
// ~/.tunnelsync/config.yaml by default. One file configures both the
// client and the service it launches.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tunnelsync/internal/shared/transport"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".tunnelsync"
	configFileName = "config.yaml"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the tunnelsync configuration
type Config struct {
	// Control is the always-present service endpoint
	Control string `yaml:"control"`
	// Elevated is the endpoint a VPN mode service listens on, if distinct
	Elevated string `yaml:"elevated,omitempty"`
	// WebSocket is an optional ws:// endpoint raced with the others
	WebSocket string `yaml:"websocket,omitempty"`

	// BindTimeout overrides the per-transport default when set
	BindTimeout time.Duration `yaml:"bind_timeout,omitempty"`

	// PreferVPN is the user's VPN mode preference
	PreferVPN bool `yaml:"prefer_vpn"`

	PropagationChannelID string `yaml:"propagation_channel_id,omitempty"`

	// StateDir holds the service socket, log and pid files
	StateDir string `yaml:"state_dir"`

	Service ServiceConfig `yaml:"service"`
}

// ServiceConfig configures `tunnelsync service run`
type ServiceConfig struct {
	WebSocketListen string        `yaml:"websocket_listen,omitempty"`
	Region          string        `yaml:"region"`
	SponsorID       string        `yaml:"sponsor_id"`
	HTTPProxyPort   int           `yaml:"http_proxy_port"`
	SOCKSProxyPort  int           `yaml:"socks_proxy_port"`
	HomePages       []string      `yaml:"home_pages,omitempty"`
	EstablishDelay  time.Duration `yaml:"establish_delay,omitempty"`
	StatsInterval   time.Duration `yaml:"stats_interval,omitempty"`
	ExchangeKey     string        `yaml:"exchange_key,omitempty"`
	Workers         int           `yaml:"workers,omitempty"`
}

// DefaultConfigDir returns ~/.tunnelsync
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configDirName
	}
	return filepath.Join(home, configDirName)
}

// DefaultClientConfigPath returns the default config file path
func DefaultClientConfigPath() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// Default returns a configuration that works out of the box on this
// machine
func Default() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Control:  "unix://" + filepath.Join(dir, "control.sock"),
		StateDir: dir,
		Service: ServiceConfig{
			Region:         "US",
			SponsorID:      "default",
			HTTPProxyPort:  8118,
			SOCKSProxyPort: 1080,
			EstablishDelay: 2 * time.Second,
			StatsInterval:  time.Second,
		},
	}
}

func resolve(path string) string {
	if path == "" {
		return DefaultClientConfigPath()
	}
	return path
}

// LoadClientConfig reads the config file at path, or the default path
// when empty. Missing fields keep their defaults.
func LoadClientConfig(path string) (*Config, error) {
	path = resolve(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, run 'tunnelsync config init' first", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is LoadClientConfig falling back to Default when the
// file does not exist
func LoadOrDefault(path string) (*Config, error) {
	if !ConfigExists(path) {
		return Default(), nil
	}
	return LoadClientConfig(path)
}

// SaveClientConfig writes cfg to path, or the default path when empty
func SaveClientConfig(cfg *Config, path string) error {
	path = resolve(path)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ConfigExists reports whether a config file exists at path, or the
// default path when empty
func ConfigExists(path string) bool {
	_, err := os.Stat(resolve(path))
	return err == nil
}

// Validate checks endpoints, timeouts, ports and the exchange key
func (c *Config) Validate() error {
	if c.Control == "" {
		return fmt.Errorf("%w: control endpoint is not set", ErrInvalidConfig)
	}
	if _, err := c.Targets(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.ServiceEndpoint(false); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.BindTimeout < 0 {
		return fmt.Errorf("%w: bind_timeout must not be negative", ErrInvalidConfig)
	}
	if c.StateDir == "" {
		return fmt.Errorf("%w: state_dir is not set", ErrInvalidConfig)
	}

	s := c.Service
	for name, port := range map[string]int{"http_proxy_port": s.HTTPProxyPort, "socks_proxy_port": s.SOCKSProxyPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, port)
		}
	}
	if s.EstablishDelay < 0 || s.StatsInterval < 0 {
		return fmt.Errorf("%w: service durations must not be negative", ErrInvalidConfig)
	}
	if s.ExchangeKey != "" {
		raw, err := base64.StdEncoding.DecodeString(s.ExchangeKey)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: exchange_key must be 32 bytes, base64 encoded", ErrInvalidConfig)
		}
	}
	return nil
}

// Targets returns the endpoints a client races on every bind
func (c *Config) Targets() ([]transport.Endpoint, error) {
	var targets []transport.Endpoint
	for _, raw := range []string{c.Control, c.Elevated, c.WebSocket} {
		if raw == "" {
			continue
		}
		ep, err := transport.ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, ep)
	}
	return targets, nil
}

// ServiceEndpoint returns the endpoint a service listens on: the
// elevated one in VPN mode when configured, the control one otherwise
func (c *Config) ServiceEndpoint(vpn bool) (transport.Endpoint, error) {
	raw := c.Control
	if vpn && c.Elevated != "" {
		raw = c.Elevated
	}
	ep, err := transport.ParseEndpoint(raw)
	if err != nil {
		return transport.Endpoint{}, err
	}
	if ep.Scheme != transport.SchemeUnix && ep.Scheme != transport.SchemeTCP {
		return transport.Endpoint{}, fmt.Errorf("service endpoint %s must be unix or tcp", raw)
	}
	return ep, nil
}

// WantVPN returns the VPN preference
func (c *Config) WantVPN() bool {
	return c.PreferVPN
}

// FilePreferences reads the VPN preference from the config file on every
// call, so a restart decision sees the latest saved value
type FilePreferences struct {
	Path string
}

// WantVPN loads the preference; an unreadable file means no VPN
func (p FilePreferences) WantVPN() bool {
	cfg, err := LoadOrDefault(p.Path)
	if err != nil {
		return false
	}
	return cfg.PreferVPN
}
