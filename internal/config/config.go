// Package config provides configuration management for the dontbug MCP
// server.
//
// Configuration controls:
//   - Capability mode (readonly vs full): determines which tools are available
//   - Permission flags: control program launch and expression evaluation
//   - Dispatch settings: which tracepoint policy is installed
//   - Protocol settings: DBGp idekey and negotiated limits
//   - Safety limits: maximum sessions and session timeout
//
// Configuration is loaded from a TOML file or uses sensible defaults.
// The readonly mode exposes only inspection tools, while full mode enables
// execution control and live protocol commands.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ctagard/dontbug/internal/errors"
	"github.com/ctagard/dontbug/internal/tracepoint"
)

// CapabilityMode defines the level of debugging capabilities exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // Inspection tools only
	ModeFull     CapabilityMode = "full"     // All tools enabled
)

// Duration is a time.Duration read from a string such as "30m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the server configuration
type Config struct {
	// Capability levels
	Mode         CapabilityMode `toml:"mode"`
	AllowLaunch  bool           `toml:"allow_launch"`
	AllowExecute bool           `toml:"allow_execute"`

	// Limits for safety
	MaxSessions    int      `toml:"max_sessions"`
	SessionTimeout Duration `toml:"session_timeout"`

	Dispatch DispatchConfig `toml:"dispatch"`
	Protocol ProtocolConfig `toml:"protocol"`
	Log      LogConfig      `toml:"log"`
}

// DispatchConfig selects the tracepoint policy
type DispatchConfig struct {
	Granularity    string `toml:"granularity"` // "instruction" or "statement"
	MaxLocationLen int    `toml:"max_location_len"`
}

// ProtocolConfig holds DBGp settings
type ProtocolConfig struct {
	IDEKey      string `toml:"idekey"`
	MaxChildren int    `toml:"max_children"`
	MaxData     int    `toml:"max_data"`
	MaxDepth    int    `toml:"max_depth"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:           ModeFull,
		AllowLaunch:    true,
		AllowExecute:   true,
		MaxSessions:    10,
		SessionTimeout: Duration{30 * time.Minute},
		Dispatch: DispatchConfig{
			Granularity:    string(tracepoint.GranularityInstruction),
			MaxLocationLen: tracepoint.MaxLocationLen,
		},
		Protocol: ProtocolConfig{
			IDEKey:      "dontbug",
			MaxChildren: 32,
			MaxData:     1024,
			MaxDepth:    1,
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.ConfigInvalid(path, err.Error()).WithCause(err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.ConfigInvalid(path, "unknown keys: "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigInvalid(path, err.Error()).WithCause(err)
	}

	return cfg, nil
}

// Validate checks values that decoding alone cannot.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeReadOnly, ModeFull:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeReadOnly, ModeFull, c.Mode)
	}
	if _, err := tracepoint.ParseGranularity(c.Dispatch.Granularity); err != nil {
		return err
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.Dispatch.MaxLocationLen < 0 || c.Protocol.MaxChildren < 0 || c.Protocol.MaxData < 0 || c.Protocol.MaxDepth < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// Granularity returns the configured dispatch policy.
func (c *Config) Granularity() tracepoint.Granularity {
	g, err := tracepoint.ParseGranularity(c.Dispatch.Granularity)
	if err != nil {
		return tracepoint.GranularityInstruction
	}
	return g
}

// CanUseControlTools returns true if control tools are enabled
func (c *Config) CanUseControlTools() bool {
	return c.Mode == ModeFull
}

// CanLaunch returns true if loading programs is allowed
func (c *Config) CanLaunch() bool {
	return c.AllowLaunch
}

// CanEvaluate returns true if expression evaluation is allowed
func (c *Config) CanEvaluate() bool {
	return c.AllowExecute
}

// CanDispatchLive returns true if protocol commands may run against the
// live session context instead of a frozen copy
func (c *Config) CanDispatchLive() bool {
	return c.Mode == ModeFull
}
