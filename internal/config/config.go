// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Input multiplexer configuration
	Input InputConfig `mapstructure:"input"`

	// Virtual terminal configuration
	VT VTConfig `mapstructure:"vt"`

	// Device monitor configuration
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// InputConfig selects the keyboard layout and repeat behavior
type InputConfig struct {
	Model         string `mapstructure:"model"`
	Layout        string `mapstructure:"layout"`
	Variant       string `mapstructure:"variant"`
	Options       string `mapstructure:"options"`
	RepeatDelayMS int    `mapstructure:"repeat_delay_ms"`
	RepeatRateMS  int    `mapstructure:"repeat_rate_ms"`
	// Exclude lists node glob patterns that are never attached
	Exclude []string `mapstructure:"exclude"`
}

// VTConfig controls session allocation
type VTConfig struct {
	// Type is "auto", "real" or "fake"
	Type string `mapstructure:"type"`
	Seat string `mapstructure:"seat"`
	Name string `mapstructure:"name"`
}

// MonitorConfig tunes device discovery
type MonitorConfig struct {
	// SeatRules pin device node patterns to seats
	SeatRules []SeatRuleConfig `mapstructure:"seat_rules"`
}

// SeatRuleConfig assigns nodes matching Pattern to Seat
type SeatRuleConfig struct {
	Seat    string `mapstructure:"seat"`
	Pattern string `mapstructure:"pattern"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Input: InputConfig{
			Layout:        "us",
			RepeatDelayMS: 250,
			RepeatRateMS:  50,
		},
		VT: VTConfig{
			Type: "auto",
			Seat: "seat0",
			Name: "uterm",
		},
		Logging: LoggingConfig{},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("uterm")
	viper.SetConfigType("yaml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		viper.AddConfigPath("/etc/uterm")
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "uterm"))
		}
		viper.AddConfigPath(".")
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("input.model", DefaultConfig.Input.Model)
	viper.SetDefault("input.layout", DefaultConfig.Input.Layout)
	viper.SetDefault("input.variant", DefaultConfig.Input.Variant)
	viper.SetDefault("input.options", DefaultConfig.Input.Options)
	viper.SetDefault("input.repeat_delay_ms", DefaultConfig.Input.RepeatDelayMS)
	viper.SetDefault("input.repeat_rate_ms", DefaultConfig.Input.RepeatRateMS)
	viper.SetDefault("input.exclude", DefaultConfig.Input.Exclude)

	viper.SetDefault("vt.type", DefaultConfig.VT.Type)
	viper.SetDefault("vt.seat", DefaultConfig.VT.Seat)
	viper.SetDefault("vt.name", DefaultConfig.VT.Name)

	viper.SetDefault("monitor.seat_rules", DefaultConfig.Monitor.SeatRules)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Path returns the config file viper resolved, if any
func Path() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	return viper.ConfigFileUsed()
}
