// Package config resolves the service configuration from flags, environment
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Keys double as flag names. Environment variables use the upper-case
// underscore form, e.g. DATABASE_DSN.
const (
	KeyConfig          = "config"
	KeyHTTPAddr        = "http-addr"
	KeyStore           = "store"
	KeyDatabaseDSN     = "database-dsn"
	KeyRunMigrations   = "run-migrations"
	KeyRabbitMQURL     = "rabbitmq-url"
	KeyHoldTTL         = "hold-ttl"
	KeySweepInterval   = "sweep-interval"
	KeySweepBatch      = "sweep-batch"
	KeySeedFile        = "seed-file"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyOTLPEndpoint    = "otlp-endpoint"
	KeyShutdownTimeout = "shutdown-timeout"
)

type Config struct {
	HTTPAddr        string
	Store           string
	DatabaseDSN     string
	RunMigrations   bool
	RabbitMQURL     string
	HoldTTL         time.Duration
	SweepInterval   time.Duration
	SweepBatch      int
	SeedFile        string
	LogLevel        string
	LogFormat       string
	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

// RegisterFlags declares every key on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyConfig, "", "path to a YAML/JSON/TOML config file")
	fs.String(KeyHTTPAddr, ":8080", "HTTP listen address")
	fs.String(KeyStore, StorePostgres, "stock store: postgres or memory")
	fs.String(KeyDatabaseDSN, "", "Postgres connection string")
	fs.Bool(KeyRunMigrations, true, "apply database migrations on startup")
	fs.String(KeyRabbitMQURL, "", "AMQP URL; empty disables event publishing and the payment consumer")
	fs.Duration(KeyHoldTTL, 2*time.Minute, "how long a hold reserves stock")
	fs.Duration(KeySweepInterval, 30*time.Second, "interval between expiry sweeps")
	fs.Int(KeySweepBatch, 100, "maximum holds expired per sweep transaction")
	fs.String(KeySeedFile, "", "YAML file of products created on startup (memory store only)")
	fs.String(KeyLogLevel, "info", "log level: trace, debug, info, warn, error")
	fs.String(KeyLogFormat, "json", "log format: json or console")
	fs.String(KeyOTLPEndpoint, "", "OTLP/HTTP trace endpoint; empty disables tracing")
	fs.Duration(KeyShutdownTimeout, 10*time.Second, "grace period for in-flight work on shutdown")
}

// Bind wires flags and environment variables into v.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// ReadFile loads the file named by the config key, if any.
func ReadFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString(KeyConfig))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:        v.GetString(KeyHTTPAddr),
		Store:           strings.ToLower(strings.TrimSpace(v.GetString(KeyStore))),
		DatabaseDSN:     v.GetString(KeyDatabaseDSN),
		RunMigrations:   v.GetBool(KeyRunMigrations),
		RabbitMQURL:     v.GetString(KeyRabbitMQURL),
		HoldTTL:         v.GetDuration(KeyHoldTTL),
		SweepInterval:   v.GetDuration(KeySweepInterval),
		SweepBatch:      v.GetInt(KeySweepBatch),
		SeedFile:        v.GetString(KeySeedFile),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		OTLPEndpoint:    v.GetString(KeyOTLPEndpoint),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("database-dsn is required for the postgres store"))
		}
		if c.SeedFile != "" {
			errs = append(errs, errors.New("seed-file applies to the memory store only; use the seed command for postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http-addr is required"))
	}
	if c.HoldTTL <= 0 {
		errs = append(errs, errors.New("hold-ttl must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep-interval must be positive"))
	}
	if c.SweepBatch <= 0 {
		errs = append(errs, errors.New("sweep-batch must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown-timeout must be positive"))
	}
	return errors.Join(errs...)
}
