// Package config loads the static bootstrap configuration: connection
// target, TLS material, storage root, and connector count. This is
// distinct from internal/configuration's Store, which holds the runtime,
// server-writable OCPP configuration keys (HeartbeatInterval,
// MeterValueSampleInterval, …) — the split mirrors the source's static
// YAML config.Config (config/config.go) versus the core's in-band
// Configuration<T> registry (design note, spec section 9).
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TLSConfig holds TLS certificate configuration for the WebSocket dial.
type TLSConfig struct {
	CAFile         string `yaml:"ca_file"`
	ServerCertFile string `yaml:"server_cert_file"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
	SkipVerify     bool   `yaml:"skip_verify"`
}

// Config holds the bootstrap configuration of one charge point process.
type Config struct {
	OCPPVersion   string     `yaml:"ocpp_version"` // "1.6" or "2.0.1"
	ChargerID     string     `yaml:"charger_id"`
	ServerURL     string     `yaml:"server_url"`
	TLS           *TLSConfig `yaml:"tls"`
	NumConnectors int        `yaml:"num_connectors"`
	StorageRoot   string     `yaml:"storage_root"`
	VendorName    string     `yaml:"vendor_name"`
	Model         string     `yaml:"model"`
	FirmwareVersion string   `yaml:"firmware_version"`
}

// Load reads and parses the configuration file, applying defaults first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{
		NumConnectors:   1,
		StorageRoot:     "./data",
		VendorName:      "Simulator",
		Model:           "GO-EVSE-1",
		FirmwareVersion: "1.0.0",
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.OCPPVersion != "1.6" && c.OCPPVersion != "2.0.1" {
		return fmt.Errorf("ocpp_version must be '1.6' or '2.0.1', got '%s'", c.OCPPVersion)
	}
	if c.ChargerID == "" {
		return fmt.Errorf("charger_id is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.NumConnectors <= 0 {
		return fmt.Errorf("num_connectors must be positive")
	}
	return nil
}

// GetTLSConfig returns the tls.Config for the WebSocket dial, or nil if
// TLS material was not configured (plain ws://).
func (c *Config) GetTLSConfig() (*tls.Config, error) {
	if c.TLS == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{}
	if c.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	certPool := x509.NewCertPool()
	hasCerts := false

	if c.TLS.CAFile != "" {
		caCert, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		hasCerts = true
	}

	if c.TLS.ServerCertFile != "" {
		serverCert, err := os.ReadFile(c.TLS.ServerCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read server certificate: %w", err)
		}
		if !certPool.AppendCertsFromPEM(serverCert) {
			return nil, fmt.Errorf("failed to parse server certificate")
		}
		hasCerts = true
	}

	if hasCerts {
		tlsConfig.RootCAs = certPool
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// IsOCPP16 returns true if the configured version is 1.6.
func (c *Config) IsOCPP16() bool { return c.OCPPVersion == "1.6" }

// IsOCPP201 returns true if the configured version is 2.0.1.
func (c *Config) IsOCPP201() bool { return c.OCPPVersion == "2.0.1" }

// Subprotocol returns the WebSocket subprotocol name for the configured
// OCPP version (spec section 6: "ocpp1.6" / "ocpp2.0.1").
func (c *Config) Subprotocol() string {
	if c.IsOCPP16() {
		return "ocpp1.6"
	}
	return "ocpp2.0.1"
}
