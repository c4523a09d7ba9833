// Package config loads rawls settings from flags, environment and an
// optional configuration file.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable (RAWLS_READER,
// RAWLS_LOGGING_LEVEL, ...).
const EnvPrefix = "RAWLS"

// Config is the complete rawls configuration.
//
// Sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (RAWLS_*)
//  3. Configuration file (YAML)
//  4. Defaults
type Config struct {
	// Reader selects the directory enumeration backend.
	// Valid values: auto, batch, portable
	Reader string `mapstructure:"reader" validate:"required,oneof=auto batch getdents portable"`

	// BatchSize is the buffer size of one bulk directory read. Accepts
	// plain byte counts or sizes such as "8MiB".
	BatchSize ByteSize `mapstructure:"batch_size" validate:"gte=32768,lte=1073741824"`

	// MaxPathLen is the longest path that can be listed.
	MaxPathLen int `mapstructure:"max_path" validate:"gte=256,lte=1048576"`

	// OutputBuffer is the buffer size in front of standard output.
	OutputBuffer ByteSize `mapstructure:"output_buffer" validate:"gte=4096"`

	// Stats prints a summary to standard error after the listing.
	Stats bool `mapstructure:"stats"`

	Logging LoggingConfig `mapstructure:"logging"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// LoggingConfig controls diagnostics and debug output.
type LoggingConfig struct {
	// Level is the minimum level of the debug logger.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// Format of the skip/error diagnostics: plain or json.
	Format string `mapstructure:"format" validate:"required,oneof=plain text json"`
}

// WatchConfig configures `rawls watch`.
type WatchConfig struct {
	// Timeout stops watching after this long; 0 watches until interrupted.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// MetricsAddr serves Prometheus metrics on host:port while watching.
	// Empty disables the metrics server.
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

// ByteSize is a size in bytes that can be written as "8MiB" or "64k".
type ByteSize uint64

// Int returns the size as an int.
func (b ByteSize) Int() int { return int(b) }

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("reader", "auto")
	v.SetDefault("batch_size", "8MiB")
	v.SetDefault("max_path", 4096)
	v.SetDefault("output_buffer", "1MiB")
	v.SetDefault("stats", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "plain")
	v.SetDefault("watch.timeout", "0s")
	v.SetDefault("watch.metrics_addr", "")
}

// Load reads configuration from v. If configFile is set it must exist;
// otherwise a missing default file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// byteSizeHook decodes strings such as "8MiB" into ByteSize.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(ByteSize(0))
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != target || f.Kind() != reflect.String {
			return data, nil
		}
		n, err := humanize.ParseBytes(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", data, err)
		}
		return ByteSize(n), nil
	}
}
