// Package config loads and validates the server configuration from YAML.
// Validation happens once at load; the rest of the process can assume a
// well-formed configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openstarscape/starsync/errors"
)

// Listener modes accepted in configuration.
const (
	ModePlain    = "plain"
	ModeTLS      = "tls"
	ModeRedirect = "redirect"
)

// Config is the complete server configuration.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	Datagram  DatagramConfig   `yaml:"datagram"`
	Nats      NatsConfig       `yaml:"nats"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Shutdown  ShutdownConfig   `yaml:"shutdown"`
}

// ListenerConfig describes one HTTP listener.
type ListenerConfig struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatagramConfig describes the UDP endpoint. An empty Addr disables it.
type DatagramConfig struct {
	Addr string `yaml:"addr"`
}

// NatsConfig describes the optional event feed broker. An empty URL
// disables the feed.
type NatsConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// MetricsConfig describes the Prometheus scrape endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// ShutdownConfig bounds graceful teardown.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is supplied: one
// plain listener and the datagram endpoint on loopback, no feed.
func Default() *Config {
	return &Config{
		Listeners: []ListenerConfig{
			{Name: "main", Addr: "127.0.0.1:56560", Mode: ModePlain},
		},
		Datagram: DatagramConfig{Addr: "127.0.0.1:56561"},
		Metrics:  MetricsConfig{Path: "/metrics"},
		Shutdown: ShutdownConfig{Timeout: 200 * time.Millisecond},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "read "+path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints: every listener needs a name,
// address, and known mode, and TLS listeners need both certificate files.
func (c *Config) Validate() error {
	if len(c.Listeners) == 0 && c.Datagram.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"no listeners or datagram endpoint configured")
	}

	names := make(map[string]struct{}, len(c.Listeners))
	for i, l := range c.Listeners {
		if l.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("listener %d has no name", i))
		}
		if _, dup := names[l.Name]; dup {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"duplicate listener name "+l.Name)
		}
		names[l.Name] = struct{}{}

		if l.Addr == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"listener "+l.Name+" has no address")
		}
		switch l.Mode {
		case ModePlain, ModeRedirect:
		case ModeTLS:
			if l.CertFile == "" || l.KeyFile == "" {
				return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
					"listener "+l.Name+" is tls but missing cert_file or key_file")
			}
		default:
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("listener %s has unknown mode %q", l.Name, l.Mode))
		}
	}

	if c.Shutdown.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"shutdown timeout must not be negative")
	}
	return nil
}
