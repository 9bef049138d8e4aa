// Package config loads the server settings.
//
// Sources, highest precedence first:
//  1. CLI flags bound with BindFlags
//  2. Environment variables (FASTFTP_*, nested keys joined by "_")
//  3. An optional YAML configuration file
//  4. Defaults
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "FASTFTP"

// PublicIPAuto asks the server to look up its public address at startup.
const PublicIPAuto = "auto"

type Config struct {
	ListenAddr    string `mapstructure:"listen_addr" yaml:"listen_addr"`
	DataPortStart int    `mapstructure:"data_port_start" yaml:"data_port_start"`
	DataPortEnd   int    `mapstructure:"data_port_end" yaml:"data_port_end"`

	// Root is the directory served to clients. "/" serves the whole host.
	Root string `mapstructure:"root" yaml:"root"`

	// PublicIPv4 is announced in PASV replies. Empty means the address of
	// the control connection, PublicIPAuto means ask ipify.
	PublicIPv4 string `mapstructure:"public_ipv4" yaml:"public_ipv4"`

	Banner     string `mapstructure:"banner" yaml:"banner"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	ZeroCopy   bool   `mapstructure:"zero_copy" yaml:"zero_copy"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`

	SFTP    SFTPConfig    `mapstructure:"sftp" yaml:"sftp"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// SFTPConfig enables the SFTP server when Addr is set.
type SFTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// HostKey is the path of the host key, generated when missing. Empty
	// means a new key on every start.
	HostKey     string `mapstructure:"host_key" yaml:"host_key"`
	HostKeyType string `mapstructure:"host_key_type" yaml:"host_key_type"`
}

// MetricsConfig enables the /metrics and /healthz endpoints when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":2121")
	v.SetDefault("data_port_start", 2122)
	v.SetDefault("data_port_end", 2221)
	v.SetDefault("root", "/")
	v.SetDefault("public_ipv4", "")
	v.SetDefault("banner", "fastftp ready")
	v.SetDefault("buffer_size", 2<<20)
	v.SetDefault("zero_copy", true)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("sftp.addr", "")
	v.SetDefault("sftp.host_key", "")
	v.SetDefault("sftp.host_key_type", "ed25519")
	v.SetDefault("metrics.addr", "")
}

// BindFlags registers the command line flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("listen", ":2121", "control connection listen address")
	fs.Int("data-port-start", 2122, "first passive data port (0 for ephemeral ports)")
	fs.Int("data-port-end", 2221, "last passive data port")
	fs.String("root", "/", "directory served to clients")
	fs.String("public-ip", "", `IPv4 announced in PASV replies, or "auto"`)
	fs.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	fs.String("sftp-addr", "", "SFTP listen address, disabled when empty")
	fs.String("metrics-addr", "", "metrics HTTP listen address, disabled when empty")

	bindings := map[string]string{
		"listen_addr":     "listen",
		"data_port_start": "data-port-start",
		"data_port_end":   "data-port-end",
		"root":            "root",
		"public_ipv4":     "public-ip",
		"log_level":       "log-level",
		"sftp.addr":       "sftp-addr",
		"metrics.addr":    "metrics-addr",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configPath, if not empty, and decodes the merged settings.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.DataPortStart < 0 || c.DataPortStart > 65535 || c.DataPortEnd < 0 || c.DataPortEnd > 65535 {
		result = multierror.Append(result, fmt.Errorf("data ports must be between 0 and 65535"))
	}
	if c.DataPortStart > 0 && c.DataPortEnd < c.DataPortStart {
		result = multierror.Append(result, fmt.Errorf("data_port_end %d is below data_port_start %d", c.DataPortEnd, c.DataPortStart))
	}
	if c.BufferSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("buffer_size must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.PublicIPv4 != "" && c.PublicIPv4 != PublicIPAuto {
		addr, err := netip.ParseAddr(c.PublicIPv4)
		if err != nil || !addr.Is4() {
			result = multierror.Append(result, fmt.Errorf("public_ipv4 %q is not an IPv4 address", c.PublicIPv4))
		}
	}

	info, err := os.Stat(c.Root)
	switch {
	case err != nil:
		result = multierror.Append(result, fmt.Errorf("root: %w", err))
	case !info.IsDir():
		result = multierror.Append(result, fmt.Errorf("root %s is not a directory", c.Root))
	}

	return result.ErrorOrNil()
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
