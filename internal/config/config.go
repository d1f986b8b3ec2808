// Package config loads and validates the mediator's configuration,
// grounded on the teacher's internal/core/config package: a viper-backed
// loader, yaml.v3 struct tags, env-prefixed overrides, and an explicit
// NewDefaultConfig/ValidateConfig pair rather than ad hoc flag parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/meshcomm/didcomm-mediator/internal/merr"
)

// Config is every setting spec §6 names as "config, not code": the
// mediator's own DID and admin DID, access mode, global ACL default,
// JWT key material and token expiries, the admin validity window, queue
// limits, attachment size caps, the forward horizon, and the
// message-expiry horizon.
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Auth   AuthConfig   `yaml:"auth" mapstructure:"auth"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`
	LogLevel    string  `yaml:"log_level" mapstructure:"log_level"`
	LogEncoding string  `yaml:"log_encoding" mapstructure:"log_encoding"`
}

// ServerConfig is the mediator's own network and DID identity.
type ServerConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	MediatorDID string `yaml:"mediator_did" mapstructure:"mediator_did"`
	AdminDID    string `yaml:"admin_did" mapstructure:"admin_did"`
}

// AuthConfig carries the JWT signing key material (base64-encoded
// ed25519 seed) and token lifetimes.
type AuthConfig struct {
	SigningKeySeedB64 string        `yaml:"signing_key_seed_b64" mapstructure:"signing_key_seed_b64"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" mapstructure:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl" mapstructure:"refresh_token_ttl"`
	ChallengeTTL      time.Duration `yaml:"challenge_ttl" mapstructure:"challenge_ttl"`
	AdminValidityWindow time.Duration `yaml:"admin_validity_window" mapstructure:"admin_validity_window"`
}

// QueueConfig is the default per-account message queue limits (spec §4.H
// sentinels: -1 unlimited, -2 disabled).
type QueueConfig struct {
	DefaultSoftLimit int `yaml:"default_soft_limit" mapstructure:"default_soft_limit"`
	DefaultHardLimit int `yaml:"default_hard_limit" mapstructure:"default_hard_limit"`
}

// LimitsConfig bounds attachment size, forward-chain depth, and how long
// a queued message may sit before it is swept as expired.
type LimitsConfig struct {
	MaxAttachmentBytes int64         `yaml:"max_attachment_bytes" mapstructure:"max_attachment_bytes"`
	MaxForwardHops     int           `yaml:"max_forward_hops" mapstructure:"max_forward_hops"`
	MessageExpiry      time.Duration `yaml:"message_expiry" mapstructure:"message_expiry"`
}

// NewDefaultConfig returns a Config with every field set to a sane
// default, the starting point FileLoader overlays file/env values onto.
func NewDefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Auth: AuthConfig{
			AccessTokenTTL:      15 * time.Minute,
			RefreshTokenTTL:     7 * 24 * time.Hour,
			ChallengeTTL:        2 * time.Minute,
			AdminValidityWindow: 24 * time.Hour,
		},
		Queue: QueueConfig{DefaultSoftLimit: 100, DefaultHardLimit: 1000},
		Limits: LimitsConfig{
			MaxAttachmentBytes: 1 << 20,
			MaxForwardHops:     5,
			MessageExpiry:      30 * 24 * time.Hour,
		},
		LogLevel:    "info",
		LogEncoding: "json",
	}
}

// FileLoader reads an optional yaml config file at path and overlays
// MEDIATOR_-prefixed environment variables on top, returning the merged
// Config starting from NewDefaultConfig.
func FileLoader(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, merr.Wrap(merr.CodeConfig, "config.FileLoader: defaults", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, merr.Wrap(merr.CodeConfig, fmt.Sprintf("config.FileLoader: read %s", path), err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, merr.Wrap(merr.CodeConfig, fmt.Sprintf("config.FileLoader: unmarshal %s", path), err)
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, merr.Wrap(merr.CodeConfig, "config.FileLoader: validate", err)
	}
	return cfg, nil
}

// DumpYAML renders cfg back to YAML, the shape it was read in (minus the
// signing key seed, never worth logging), for a startup log line an
// operator can diff against the file on disk.
func (c Config) DumpYAML() (string, error) {
	redacted := c
	if redacted.Auth.SigningKeySeedB64 != "" {
		redacted.Auth.SigningKeySeedB64 = "<redacted>"
	}
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return "", merr.Wrap(merr.CodeConfig, "config.DumpYAML", err)
	}
	return string(out), nil
}

// ValidateConfig checks the invariants the rest of the mediator assumes
// hold: a non-empty mediator DID, non-negative queue limits or the -1/-2
// sentinels, and a positive challenge TTL (an expired-on-arrival
// challenge would make authentication impossible).
func ValidateConfig(cfg Config) error {
	if cfg.Server.MediatorDID == "" {
		return fmt.Errorf("server.mediator_did must be set")
	}
	if cfg.Auth.ChallengeTTL <= 0 {
		return fmt.Errorf("auth.challenge_ttl must be positive")
	}
	if cfg.Queue.DefaultSoftLimit < -2 {
		return fmt.Errorf("queue.default_soft_limit must be >= -2")
	}
	if cfg.Queue.DefaultHardLimit < -2 {
		return fmt.Errorf("queue.default_hard_limit must be >= -2")
	}
	if cfg.Limits.MaxForwardHops < 1 {
		return fmt.Errorf("limits.max_forward_hops must be >= 1")
	}
	return nil
}
