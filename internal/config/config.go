// Package config loads the engine configuration from YAML files and
// environment variables via viper. Environment variables use the DIRE_
// prefix with underscores for nesting, e.g. DIRE_SERVER_ADDRESS.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the dire server.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	FIX         FIXConfig          `mapstructure:"fix"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Auth        AuthConfig         `mapstructure:"auth"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
	DepthLevels     int    `mapstructure:"depth_levels"`
}

// FIXConfig configures the FIX acceptor.
type FIXConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Address          string `mapstructure:"address"`
	SenderCompID     string `mapstructure:"sender_comp_id"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig maps API keys to principals. An empty key list disables
// authentication entirely, which is the development default.
type AuthConfig struct {
	Keys []APIKeyConfig `mapstructure:"keys"`
}

// APIKeyConfig is one API key principal.
type APIKeyConfig struct {
	Key    string `mapstructure:"key"`
	Name   string `mapstructure:"name"`
	Role   string `mapstructure:"role"`
	Trader uint64 `mapstructure:"trader"`
}

// InstrumentConfig seeds one instrument at startup.
type InstrumentConfig struct {
	ID     uint64 `mapstructure:"id"`
	Symbol string `mapstructure:"symbol"`
}

// Load reads the configuration from an optional YAML file path plus the
// environment. A missing file is not an error; defaults and environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("server.depth_levels", 20)

	v.SetDefault("fix.enabled", false)
	v.SetDefault("fix.address", ":9878")
	v.SetDefault("fix.sender_comp_id", "DIRE")
	v.SetDefault("fix.heartbeat_seconds", 30)

	v.SetDefault("logging.level", "info")

	v.SetDefault("instruments", []map[string]any{
		{"id": 1, "symbol": "DIRE-USD"},
	})
}

func (c *Config) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.DepthLevels <= 0 {
		return fmt.Errorf("server.depth_levels must be positive, got %d", c.Server.DepthLevels)
	}
	if c.FIX.Enabled {
		if c.FIX.Address == "" {
			return fmt.Errorf("fix.address must not be empty when fix is enabled")
		}
		if c.FIX.HeartbeatSeconds <= 0 {
			return fmt.Errorf("fix.heartbeat_seconds must be positive, got %d", c.FIX.HeartbeatSeconds)
		}
	}
	seen := make(map[uint64]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.ID == 0 {
			return fmt.Errorf("instrument id must be non-zero")
		}
		if seen[inst.ID] {
			return fmt.Errorf("duplicate instrument id %d", inst.ID)
		}
		seen[inst.ID] = true
	}
	for _, k := range c.Auth.Keys {
		switch k.Role {
		case "trader", "admin", "operator":
		default:
			return fmt.Errorf("api key %q has unknown role %q", k.Name, k.Role)
		}
		if k.Key == "" {
			return fmt.Errorf("api key %q has an empty key", k.Name)
		}
	}
	return nil
}
