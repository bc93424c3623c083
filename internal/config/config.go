// Package config provides configuration management for luahook.
//
// Configuration controls:
//   - Debugger log level and developer logging
//   - Path resolution: case sensitivity, absolute vs basename mode, cwd and
//     the default file extension for chunk names
//   - Hook behaviour: poll interval, stop on entry, disabled-level sampling
//     rate, ignored sources
//   - The control-channel peer address and transport
//   - Safety limits: maximum replay sessions, idle timeout, output buffer size
//
// Configuration is read with viper from an optional file (JSON, YAML or TOML),
// overlaid with LUAHOOK_* environment variables, over the defaults below.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ctagard/luahook/pkg/types"
)

// PathMode selects how source paths are matched against breakpoints
type PathMode string

const (
	PathModeAbsolute PathMode = "absolute" // Full normalized path
	PathModeBasename PathMode = "basename" // File name only, lossy
)

// Transport selects how the runtime reaches the debugger front end
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
)

// PeerConfig holds the control-channel peer settings
type PeerConfig struct {
	Address     string        `mapstructure:"address"`
	Transport   Transport     `mapstructure:"transport"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

// Config holds the runtime configuration
type Config struct {
	LogLevel types.LogLevel `mapstructure:"logLevel"`
	Debug    bool           `mapstructure:"debug"`

	// Path resolution
	PathCaseSensitive bool     `mapstructure:"pathCaseSensitive"`
	PathMode          PathMode `mapstructure:"pathMode"`
	Cwd               string   `mapstructure:"cwd"`
	FileExtension     string   `mapstructure:"fileExtension"`

	// Hook behaviour
	IgnoredSources     []string      `mapstructure:"ignoredSources"`
	StopOnEntry        bool          `mapstructure:"stopOnEntry"`
	PollInterval       time.Duration `mapstructure:"pollInterval"`
	DisabledSampleRate int           `mapstructure:"disabledSampleRate"`
	ConditionTimeout   time.Duration `mapstructure:"conditionTimeout"`

	Peer PeerConfig `mapstructure:"peer"`

	// Limits for safety
	MaxSessions      int           `mapstructure:"maxSessions"`
	SessionTimeout   time.Duration `mapstructure:"sessionTimeout"`
	OutputBufferSize int           `mapstructure:"outputBufferSize"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel:           types.LogLevelInfo,
		PathCaseSensitive:  true,
		PathMode:           PathModeAbsolute,
		FileExtension:      ".lua",
		IgnoredSources:     []string{"LuaPanda.lua", "DebugTools.lua"},
		PollInterval:       time.Second,
		DisabledSampleRate: 1000000,
		ConditionTimeout:   time.Second,
		Peer: PeerConfig{
			Address:     "127.0.0.1:8818",
			Transport:   TransportTCP,
			DialTimeout: 5 * time.Second,
		},
		MaxSessions:      10,
		SessionTimeout:   30 * time.Minute,
		OutputBufferSize: 64 * 1024,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("logLevel", int(d.LogLevel))
	v.SetDefault("debug", d.Debug)
	v.SetDefault("pathCaseSensitive", d.PathCaseSensitive)
	v.SetDefault("pathMode", string(d.PathMode))
	v.SetDefault("cwd", d.Cwd)
	v.SetDefault("fileExtension", d.FileExtension)
	v.SetDefault("ignoredSources", d.IgnoredSources)
	v.SetDefault("stopOnEntry", d.StopOnEntry)
	v.SetDefault("pollInterval", d.PollInterval)
	v.SetDefault("disabledSampleRate", d.DisabledSampleRate)
	v.SetDefault("conditionTimeout", d.ConditionTimeout)
	v.SetDefault("peer.address", d.Peer.Address)
	v.SetDefault("peer.transport", string(d.Peer.Transport))
	v.SetDefault("peer.dialTimeout", d.Peer.DialTimeout)
	v.SetDefault("maxSessions", d.MaxSessions)
	v.SetDefault("sessionTimeout", d.SessionTimeout)
	v.SetDefault("outputBufferSize", d.OutputBufferSize)
}

// LoadConfig loads configuration from an optional file, the environment and defaults
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LUAHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	switch {
	case c.LogLevel < types.LogLevelVerbose || c.LogLevel > types.LogLevelError:
		return fmt.Errorf("logLevel must be 0, 1 or 2, got %d", c.LogLevel)
	case c.PathMode != PathModeAbsolute && c.PathMode != PathModeBasename:
		return fmt.Errorf("pathMode must be %q or %q, got %q", PathModeAbsolute, PathModeBasename, c.PathMode)
	case c.Peer.Transport != TransportTCP && c.Peer.Transport != TransportWebSocket:
		return fmt.Errorf("peer.transport must be %q or %q, got %q", TransportTCP, TransportWebSocket, c.Peer.Transport)
	case c.PollInterval <= 0:
		return fmt.Errorf("pollInterval must be positive")
	case c.DisabledSampleRate <= 0:
		return fmt.Errorf("disabledSampleRate must be positive")
	case c.MaxSessions <= 0:
		return fmt.Errorf("maxSessions must be positive")
	case c.OutputBufferSize <= 0:
		return fmt.Errorf("outputBufferSize must be positive")
	}
	return nil
}

// CaseInsensitivePaths returns true if path identities are case folded
func (c *Config) CaseInsensitivePaths() bool {
	return !c.PathCaseSensitive
}

// UsesWebSocket returns true if the peer is reached over WebSocket
func (c *Config) UsesWebSocket() bool {
	return c.Peer.Transport == TransportWebSocket
}
