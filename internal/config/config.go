// Package config loads and saves the apca CLI configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jonandersen/apca/pkg/tradeapi"
)

const (
	// DefaultBaseURL is the paper trading endpoint, so a fresh install never
	// places live orders.
	DefaultBaseURL  = tradeapi.PaperBaseURL
	DefaultDataURL  = tradeapi.DataBaseURL
	DefaultFeed     = tradeapi.FeedIEX
	DefaultLogLevel = "warn"
)

// ErrTradingDisabled is returned by commands that place or cancel orders
// while trading is disabled in the configuration.
var ErrTradingDisabled = errors.New("trading is disabled: set trading_enabled: true in " + ConfigPath())

// Config holds the CLI configuration. The secret key is kept in the
// keyring, never in this file.
type Config struct {
	KeyID          string      `yaml:"key_id" mapstructure:"key_id"`
	BaseURL        string      `yaml:"base_url" mapstructure:"base_url"`
	DataURL        string      `yaml:"data_url" mapstructure:"data_url"`
	Feed           string      `yaml:"feed" mapstructure:"feed"`
	TradingEnabled bool        `yaml:"trading_enabled" mapstructure:"trading_enabled"`
	Retry          RetryConfig `yaml:"retry" mapstructure:"retry"`
	Log            LogConfig   `yaml:"log" mapstructure:"log"`
}

// RetryConfig overrides the REST retry policy.
type RetryConfig struct {
	Max   int           `yaml:"max" mapstructure:"max"`
	Wait  time.Duration `yaml:"wait" mapstructure:"wait"`
	Codes []int         `yaml:"codes,flow" mapstructure:"codes"`
}

// Policy converts the configuration to a tradeapi.RetryPolicy.
func (r RetryConfig) Policy() tradeapi.RetryPolicy {
	return tradeapi.RetryPolicy{MaxRetries: r.Max, Wait: r.Wait, StatusCodes: r.Codes}
}

// MarshalYAML writes the wait as a duration string so Load reads it back
// unchanged.
func (r RetryConfig) MarshalYAML() (any, error) {
	return struct {
		Max   int    `yaml:"max"`
		Wait  string `yaml:"wait"`
		Codes []int  `yaml:"codes,flow"`
	}{r.Max, r.Wait.String(), r.Codes}, nil
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	Dev   bool   `yaml:"dev" mapstructure:"dev"`
}

// envBindings maps config keys to the environment variables overriding them.
var envBindings = map[string]string{
	"key_id":          tradeapi.EnvKeyID,
	"base_url":        tradeapi.EnvBaseURL,
	"data_url":        tradeapi.EnvDataURL,
	"feed":            "APCA_DATA_FEED",
	"trading_enabled": "APCA_TRADING_ENABLED",
	"retry.max":       tradeapi.EnvRetryMax,
	"retry.wait":      tradeapi.EnvRetryWait,
	"retry.codes":     tradeapi.EnvRetryCodes,
	"log.level":       "APCA_LOG_LEVEL",
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		DataURL: DefaultDataURL,
		Feed:    DefaultFeed,
		Retry: RetryConfig{
			Max:   tradeapi.DefaultMaxRetries,
			Wait:  tradeapi.DefaultRetryWait,
			Codes: append([]int(nil), tradeapi.DefaultRetryStatusCodes...),
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// ConfigDir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/apca.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "apca")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "apca")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads configuration from path, applies environment overrides and
// fills missing values with defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("base_url", defaults.BaseURL)
	v.SetDefault("data_url", defaults.DataURL)
	v.SetDefault("feed", defaults.Feed)
	v.SetDefault("trading_enabled", defaults.TradingEnabled)
	v.SetDefault("retry.max", defaults.Retry.Max)
	v.SetDefault("retry.wait", defaults.Retry.Wait)
	v.SetDefault("retry.codes", defaults.Retry.Codes)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.dev", defaults.Log.Dev)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func decode(input map[string]any, target *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// secondsToDurationHook reads bare numbers as seconds, matching the
// APCA_RETRY_WAIT convention. Strings with a unit fall through.
func secondsToDurationHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return data, nil
		}
		return time.Duration(secs * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}
