package conduct

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-wide configuration. It is built once at startup
// and passed by reference to the components that need it; there is no
// global mutable state.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Carrier  CarrierConfig  `mapstructure:"carrier"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	// Driver is one of "memory", "postgres", "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig configures the optional Redis idempotency store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig configures workflow execution.
type EngineConfig struct {
	// DefaultTimeout bounds a workflow run when the caller supplies none.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// IdempotencyTTL is how long an in-progress idempotency claim is held
	// before a crashed run's key becomes reclaimable.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// OutboxConfig configures the outbox dispatcher loop.
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// CarrierConfig configures shipping providers.
type CarrierConfig struct {
	// Default is the provider used when an unrecognized name is requested.
	Default string        `mapstructure:"default"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RatePerSecond caps outbound provider calls.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// LoggerConfig configures slog output.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from the given YAML file, overlaying
// environment variables, and applies defaults for anything unset.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CONDUCT")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("conduct: read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("conduct: unmarshal config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg) //nolint:errcheck
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("engine.default_timeout", 30*time.Second)
	v.SetDefault("engine.idempotency_ttl", 5*time.Minute)
	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.concurrency", 4)
	v.SetDefault("carrier.default", "static")
	v.SetDefault("carrier.timeout", 15*time.Second)
	v.SetDefault("carrier.rate_per_second", 10)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
