package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WOLO_PULSE_INTERVAL.
const EnvPrefix = "WOLO"

// Default source locations.
const (
	DefaultConfigPath = "/etc/wolo/config.toml"
	DefaultHostsPath  = "/etc/hosts"
	DefaultEthersPath = "/etc/ethers"
	DefaultBind       = "0.0.0.0:3000"
)

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind", DefaultBind)
	v.SetDefault("require_hosts", false)
	v.SetDefault("http.max_connections", 256)
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.jwt_issuer", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sources.config", []string{DefaultConfigPath})
	v.SetDefault("sources.hosts", []string{DefaultHostsPath})
	v.SetDefault("sources.ethers", []string{DefaultEthersPath})
	v.SetDefault("sources.ignore_hosts", []string{})

	v.SetDefault("pulse.enabled", true)
	v.SetDefault("pulse.interval", "10s")
	v.SetDefault("pulse.timeout", "2s")
	v.SetDefault("pulse.concurrency", 16)
	v.SetDefault("pulse.success_threshold", 1)
	v.SetDefault("pulse.failure_threshold", 2)
	v.SetDefault("pulse.method", "icmp")
	v.SetDefault("pulse.tcp_ports", []int{22, 80, 443})
	v.SetDefault("pulse.ping_count", 1)
	v.SetDefault("pulse.privileged", runtime.GOOS == "windows")
	v.SetDefault("pulse.resolve_ttl", "15s")
	v.SetDefault("pulse.mdns", false)
	v.SetDefault("pulse.mdns_interval", "60s")

	v.SetDefault("wake.enabled", true)
	v.SetDefault("wake.port", 9)
	v.SetDefault("wake.broadcast", "255.255.255.255")
	v.SetDefault("wake.rate_limit", 1.0)
	v.SetDefault("wake.burst", 3)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "wolo")
	v.SetDefault("mqtt.topic_prefix", "wolo")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.commands", false)
	v.SetDefault("mqtt.connect_timeout", "10s")
	v.SetDefault("mqtt.connect_retry_interval", "30s")
}

// NewFlagSet declares the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringArray("config", []string{DefaultConfigPath}, "TOML config file (repeatable, later files win)")
	fs.StringArray("hosts", []string{DefaultHostsPath}, "hosts-format file (repeatable)")
	fs.StringArray("ethers", []string{DefaultEthersPath}, "ethers-format file (repeatable)")
	fs.StringArray("ignore-host", nil, "hostname or address to ignore (repeatable)")
	fs.String("bind", DefaultBind, "HTTP listen address")
	fs.Bool("require-hosts", false, "exit if no hosts are configured")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("version", false, "print version and exit")
	return fs
}

var flagKeys = map[string]string{
	"config":        "sources.config",
	"hosts":         "sources.hosts",
	"ethers":        "sources.ethers",
	"ignore-host":   "sources.ignore_hosts",
	"bind":          "bind",
	"require-hosts": "require_hosts",
	"log-level":     "log.level",
}

// Load builds a viper instance from defaults, WOLO_* environment variables
// and the parsed flags in fs. Flags take precedence over everything else.
// fs may be nil.
func Load(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}
	return v, nil
}

// MergeOverlay merges settings read from a config overlay. Later calls win
// over earlier ones; flags and environment still win over both.
func MergeOverlay(v *viper.Viper, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	if err := v.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("merge overlay settings: %w", err)
	}
	return nil
}
