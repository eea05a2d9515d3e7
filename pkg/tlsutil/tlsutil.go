// Package tlsutil provides TLS configuration utilities for encrypted listeners.
package tlsutil

import (
	"crypto/tls"

	"github.com/openstarscape/starsync/errors"
)

// ServerConfig describes the TLS material for an encrypted listener.
// Certificate and key are file paths, never embedded material; missing or
// invalid files fail listener construction.
type ServerConfig struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" (default) or "1.3"
}

// Load creates a tls.Config from the server configuration. The certificate
// and private key are read and parsed eagerly so a bad path or malformed
// PEM fails fast instead of degrading to plaintext.
func Load(cfg ServerConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig,
			"tlsutil", "Load", "certificate and key paths required")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "Load", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// parseTLSVersion maps a config string to a tls constant, defaulting to 1.2.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
