// Package config loads the YAML configuration for a castctl client: default
// target device, timeouts, and logging. Grounded on
// ValiantChip-osp/server/server.go's own Config/DEFAULT_CONFIG/yaml loading
// shape (spec.md's ambient configuration stack, §2.2 of SPEC_FULL.md).
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ValiantChip/goutils/pointer"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk client configuration. Pointer fields distinguish
// "unset, use default" from an explicit zero value, the same convention
// server.go's Config uses.
type Config struct {
	Host       string  `yaml:"host"`
	Port       *int    `yaml:"port,omitempty"`
	SenderID   *string `yaml:"sender_id,omitempty"`
	RemoteName *string `yaml:"remote_name,omitempty"`

	RequestTimeoutMs     *int `yaml:"request_timeout_ms,omitempty"`
	HeartbeatPeriodMs    *int `yaml:"heartbeat_period_ms,omitempty"`
	HeartbeatFirstFireMs *int `yaml:"heartbeat_first_fire_ms,omitempty"`

	LogLevel *string `yaml:"log_level,omitempty"`
}

// Default mirrors server.go's DEFAULT_CONFIG: a fully populated struct that
// Load merges a user file on top of.
var Default = Config{
	Port:                 pointer.New(8009),
	SenderID:             pointer.New("sender-gocast"),
	RemoteName:           pointer.New("gocast"),
	RequestTimeoutMs:     pointer.New(30000),
	HeartbeatPeriodMs:    pointer.New(10000),
	HeartbeatFirstFireMs: pointer.New(1000),
	LogLevel:             pointer.New("info"),
}

// Load reads a YAML document from path on top of Default. A missing file at
// the caller-supplied default path is not an error (mirrors
// ReturnWithExitCode's "-c ./config.yaml" tolerance); a missing file at an
// explicitly requested path is.
func Load(path string, pathWasExplicit bool) (Config, error) {
	cfg := Default
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !pathWasExplicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := decode(f, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.Host == "" {
		return Config{}, fmt.Errorf("config: %s: host must be set", path)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	return yaml.NewDecoder(r).Decode(cfg)
}

// RequestTimeout returns the configured request timeout as a Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(pointer.ValIfNil(c.RequestTimeoutMs, 30000)) * time.Millisecond
}

// HeartbeatPeriod returns the configured heartbeat period as a Duration.
func (c Config) HeartbeatPeriod() time.Duration {
	return time.Duration(pointer.ValIfNil(c.HeartbeatPeriodMs, 10000)) * time.Millisecond
}

// HeartbeatFirstFire returns the configured heartbeat first-fire delay.
func (c Config) HeartbeatFirstFire() time.Duration {
	return time.Duration(pointer.ValIfNil(c.HeartbeatFirstFireMs, 1000)) * time.Millisecond
}

// PortOrDefault returns the configured port, defaulting to 8009.
func (c Config) PortOrDefault() int {
	return pointer.ValIfNil(c.Port, 8009)
}

// SenderIDOrDefault returns the configured sender id.
func (c Config) SenderIDOrDefault() string {
	return pointer.ValIfNil(c.SenderID, "sender-gocast")
}

// RemoteNameOrDefault returns the configured remote display name.
func (c Config) RemoteNameOrDefault() string {
	return pointer.ValIfNil(c.RemoteName, "gocast")
}

// LogLevelOrDefault returns the configured slog level name.
func (c Config) LogLevelOrDefault() string {
	return pointer.ValIfNil(c.LogLevel, "info")
}
