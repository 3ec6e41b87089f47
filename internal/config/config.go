package config

import (
	"os"

	"codeberg.org/mutker/clevoctl/internal/curve"
	"codeberg.org/mutker/clevoctl/internal/errors"
	"codeberg.org/mutker/clevoctl/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultInterval is the worker poll period in milliseconds.
	DefaultInterval = 200

	defaultTelemetryDB = "/var/lib/clevoctl/telemetry.db"

	configName = "clevoctl"
	configEnv  = "CLEVOCTL_CONFIG"
)

type Config struct {
	Interval    int    `mapstructure:"interval"`
	Debug       bool   `mapstructure:"debug"`
	Verbose     bool   `mapstructure:"verbose"`
	Monitor     bool   `mapstructure:"monitor"`
	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"database"`

	// Fan curve tables, falling back to the built-in defaults when the
	// config file omits or malforms them.
	CPUCurve curve.Table `mapstructure:"-"`
	GPUCurve curve.Table `mapstructure:"-"`

	// Args holds the positional command arguments left after flag parsing.
	Args []string `mapstructure:"-"`
}

func Load() (*Config, error) {
	errFactory := errors.New()
	cfg := &Config{}

	flags := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	flags.Int("interval", DefaultInterval, "Milliseconds between control cycles")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.Bool("monitor", false, "Only monitor temperatures and fan state")
	flags.Bool("telemetry", false, "Record control cycles to the telemetry database")
	flags.String("database", defaultTelemetryDB, "Path to the telemetry database")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	if path := os.Getenv(configEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}

	// A missing file means defaults. A malformed one must not take the
	// daemon down either: the built-in configuration still drives the fans.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("Malformed config file, using defaults")
		}
	}

	if err := v.BindPFlags(flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	cfg.Args = flags.Args()
	cfg.CPUCurve = loadCurve(v, "curve.cpu", curve.DefaultCPU())
	cfg.GPUCurve = loadCurve(v, "curve.gpu", curve.DefaultGPU())

	return cfg, nil
}

// loadCurve reads one curve table from the config file. A missing or
// invalid table is not fatal: the built-in default applies instead.
func loadCurve(v *viper.Viper, key string, fallback curve.Table) curve.Table {
	if !v.IsSet(key) {
		return fallback
	}

	var table curve.Table
	if err := v.UnmarshalKey(key, &table); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Malformed fan curve, using built-in default")
		return fallback
	}

	if err := table.Validate(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Invalid fan curve, using built-in default")
		return fallback
	}

	return table
}
