package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates all configuration settings for the engine.
type Config struct {
	// Environment indicates the running environment (e.g., "development", "production").
	Environment string `mapstructure:"environment"`
	// LogLevel sets the global logging verbosity.
	LogLevel string `mapstructure:"log_level"`
	// Backtest holds default simulation settings.
	Backtest BacktestConfig `mapstructure:"backtest"`
	// Optimization holds settings for parameter search runs.
	Optimization OptimizationConfig `mapstructure:"optimization"`
	// Database holds configuration for the candle store connection.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis holds configuration for the result cache connection.
	Redis RedisConfig `mapstructure:"redis"`
	// Telemetry holds configuration for tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BacktestConfig defines default values for backtest option fields.
type BacktestConfig struct {
	// InitialCapital is the default starting account value.
	InitialCapital float64 `mapstructure:"initial_capital"`
	// CommissionRate is the default per-side commission fraction.
	CommissionRate float64 `mapstructure:"commission_rate"`
	// SlippageRate is the default per-side slippage fraction.
	SlippageRate float64 `mapstructure:"slippage_rate"`
	// MaxPositionSize is the default sizing limit.
	MaxPositionSize float64 `mapstructure:"max_position_size"`
	// PositionSizing selects "percent" or "fixed" sizing.
	PositionSizing string `mapstructure:"position_sizing"`
	// UseFractionalSizes allows non-integer position sizes.
	UseFractionalSizes bool `mapstructure:"use_fractional_sizes"`
	// RiskFreeRate is the annual risk-free rate used by risk-adjusted metrics.
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
	// TradingDaysPerYear is the annualization factor.
	TradingDaysPerYear int `mapstructure:"trading_days_per_year"`
	// EnableShortPositions allows sell signals to open short positions.
	EnableShortPositions bool `mapstructure:"enable_short_positions"`
}

// OptimizationConfig defines settings for parameter search runs.
type OptimizationConfig struct {
	// MaxWorkers bounds the evaluation worker pool. Zero means auto-size
	// from the physical core count.
	MaxWorkers int `mapstructure:"max_workers"`
	// DefaultEvaluations is the evaluation budget when the caller gives none.
	DefaultEvaluations int `mapstructure:"default_evaluations"`
	// MaxGridSize is the absolute ceiling on grid enumeration before
	// subsampling kicks in.
	MaxGridSize int `mapstructure:"max_grid_size"`
	// Seed fixes the sampling RNG for reproducible runs. Zero means
	// time-based seeding.
	Seed int64 `mapstructure:"seed"`
}

// DatabaseConfig defines the PostgreSQL candle store connection settings.
type DatabaseConfig struct {
	// Host is the database server hostname or IP.
	Host string `mapstructure:"host"`
	// Port is the database server port.
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password.
	Password string `mapstructure:"password"`
	// DBName is the name of the database to connect to.
	DBName string `mapstructure:"dbname"`
	// SSLMode defines the SSL connection mode.
	SSLMode string `mapstructure:"sslmode"`
}

// RedisConfig defines the Redis connection settings.
type RedisConfig struct {
	// Host is the Redis server hostname.
	Host string `mapstructure:"host"`
	// Port is the Redis server port.
	Port int `mapstructure:"port"`
	// Password is the Redis authentication password.
	Password string `mapstructure:"password"`
	// DB is the Redis database index to use.
	DB int `mapstructure:"db"`
	// ResultTTLMinutes is how long cached backtest results live.
	ResultTTLMinutes int `mapstructure:"result_ttl_minutes"`
}

// TelemetryConfig defines settings for tracing.
type TelemetryConfig struct {
	// Enabled controls whether span export is active.
	Enabled bool `mapstructure:"enabled"`
	// SampleRate is the trace sampling ratio.
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from the environment and an optional config file.
// A .env file is honored when present, matching local development workflows.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("backtest.initial_capital", 10000.0)
	v.SetDefault("backtest.commission_rate", 0.001)
	v.SetDefault("backtest.slippage_rate", 0.0005)
	v.SetDefault("backtest.max_position_size", 1.0)
	v.SetDefault("backtest.position_sizing", "percent")
	v.SetDefault("backtest.use_fractional_sizes", true)
	v.SetDefault("backtest.risk_free_rate", 0.02)
	v.SetDefault("backtest.trading_days_per_year", 252)
	v.SetDefault("backtest.enable_short_positions", false)

	v.SetDefault("optimization.max_workers", 0)
	v.SetDefault("optimization.default_evaluations", 50)
	v.SetDefault("optimization.max_grid_size", 10000)
	v.SetDefault("optimization.seed", 0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "quantlab")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.result_ttl_minutes", 60)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sample_rate", 0.2)
}
