// Package config provides YAML configuration loading and validation for
// the rvtrace decode pipeline.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for a decode run.
type Config struct {
	// EncodedTrace is the path to the packet-stream input file. Required.
	EncodedTrace string `yaml:"encoded_trace"`

	// Binary is the path to the traced RV64 ELF executable. Required.
	Binary string `yaml:"binary"`

	// DecodedTrace is the path the txt sink writes to. Defaults to
	// "trace.dump" when omitted.
	DecodedTrace string `yaml:"decoded_trace"`

	// Gcno is the path to the GCNO coverage-notes file. Required when
	// Sinks.Gcda is enabled.
	Gcno string `yaml:"gcno"`

	Sinks SinksConfig `yaml:"sinks"`

	// Remote, HistoryDB, and AuditLog configure the EXP.2/EXP.3
	// additions — all optional, defaulting off.
	Remote    RemoteConfig `yaml:"remote"`
	HistoryDB string       `yaml:"history_db"`
	AuditLog  string       `yaml:"audit_log"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// SinksConfig toggles each analysis sink independently. Txt defaults on;
// every other sink defaults off (§6).
type SinksConfig struct {
	Txt        bool `yaml:"txt"`
	TxtSummary bool `yaml:"txt_summary"`
	JSON       bool `yaml:"json"`
	Afdo       bool `yaml:"afdo"`
	Gcda       bool `yaml:"gcda"`
	Speedscope bool `yaml:"speedscope"`
	Vpp        bool `yaml:"vpp"`
}

// RemoteConfig holds the mTLS connection details for the EXP.2.1
// streaming sink. Enabled when Addr is non-empty.
type RemoteConfig struct {
	Addr     string `yaml:"addr"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
	CAPath   string `yaml:"ca_path"`

	// SpoolPath is the local WAL-mode SQLite database that durably
	// buffers events while the collector stream is unreachable. Defaults
	// to "<decoded_trace>.spool.db" when empty.
	SpoolPath string `yaml:"spool_path"`

	// Insecure disables mTLS. Testing only.
	Insecure bool `yaml:"insecure"`
}

// Enabled reports whether the remote sink should be attached.
func (r RemoteConfig) Enabled() bool { return r.Addr != "" }

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates all required fields. It returns a
// typed error describing every validation failure found, not just the
// first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible
// defaults. Txt is special-cased on only when the YAML document omitted
// the whole sinks block (Sinks is the zero value), so an explicit
// "txt: false" in a loaded file is still honored.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DecodedTrace == "" {
		cfg.DecodedTrace = "trace.dump"
	}
	if cfg.Sinks == (SinksConfig{}) {
		cfg.Sinks.Txt = true
	}
	if cfg.Remote.Enabled() && cfg.Remote.SpoolPath == "" {
		cfg.Remote.SpoolPath = cfg.DecodedTrace + ".spool.db"
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.EncodedTrace == "" {
		errs = append(errs, errors.New("encoded_trace is required"))
	}
	if cfg.Binary == "" {
		errs = append(errs, errors.New("binary is required"))
	}
	if cfg.Sinks.Gcda && cfg.Gcno == "" {
		errs = append(errs, errors.New("gcno is required when sinks.gcda is enabled"))
	}
	if cfg.Remote.Enabled() && !cfg.Remote.Insecure {
		if cfg.Remote.CertPath == "" {
			errs = append(errs, errors.New("remote.cert_path is required when remote.addr is set"))
		}
		if cfg.Remote.KeyPath == "" {
			errs = append(errs, errors.New("remote.key_path is required when remote.addr is set"))
		}
		if cfg.Remote.CAPath == "" {
			errs = append(errs, errors.New("remote.ca_path is required when remote.addr is set"))
		}
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
