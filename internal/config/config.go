// Package config wraps viper with nil-safe accessors and builds the
// process configuration from defaults, overlays, environment and flags.
package config

import "github.com/spf13/viper"

// Config is a read-only, nil-safe view over a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields a Config that returns zero values.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

func (c *Config) GetString(key string) string {
	if c == nil || c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

func (c *Config) GetStringSlice(key string) []string {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.GetStringSlice(key)
}

// Unmarshal decodes the whole tree into target using mapstructure tags.
// Unset fields in target keep their current values.
func (c *Config) Unmarshal(target any) error {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}
