/**
 * @description
 * Service configuration. Values come from the environment, optionally seeded
 * from a .env file; out-of-range values fall back to their defaults with a
 * warning rather than failing startup.
 *
 * @dependencies
 * - github.com/spf13/viper: env binding, defaults and .env parsing.
 */

package config

import (
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultPostingMaxRetries = 3
	defaultDBMaxConns        = 20
	defaultDBMinConns        = 2
)

// Config is the finance-service runtime configuration.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	StoreDriver               string `mapstructure:"STORE_DRIVER"`
	DBMaxConns                int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32  `mapstructure:"DB_MIN_CONNS"`
	JWTSecret                 string `mapstructure:"JWT_SECRET"`
	AuthAllowHeaderFallback   bool   `mapstructure:"AUTH_ALLOW_HEADER_FALLBACK"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	PostingRateLimitPerMinute int    `mapstructure:"POSTING_RATE_LIMIT_PER_MINUTE"`
	PostingMaxRetries         int    `mapstructure:"POSTING_MAX_RETRIES"`
	ReconcileSchedule         string `mapstructure:"RECONCILE_SCHEDULE"`
	DefaultCurrency           string `mapstructure:"DEFAULT_CURRENCY"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                  string `mapstructure:"LOG_LEVEL"`
	BcryptCost                int    `mapstructure:"BCRYPT_COST"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("DB_MAX_CONNS", defaultDBMaxConns)
	viper.SetDefault("DB_MIN_CONNS", defaultDBMinConns)
	viper.SetDefault("AUTH_ALLOW_HEADER_FALLBACK", false)
	viper.SetDefault("EVENTS_EXCHANGE", "finance.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "finance:rate_limit")
	viper.SetDefault("POSTING_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("POSTING_MAX_RETRIES", defaultPostingMaxRetries)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 1h")
	viper.SetDefault("DEFAULT_CURRENCY", "USD")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)

	// Unmarshal only sees keys viper knows about.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("AUTH_ALLOW_HEADER_FALLBACK")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "FINANCE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("POSTING_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("POSTING_MAX_RETRIES")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("BCRYPT_COST")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown store driver; using postgres\" driver=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = defaultDBMaxConns
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		log.Printf("level=warn component=config msg=\"invalid DB_MIN_CONNS; coercing\" min=%d max=%d", config.DBMinConns, config.DBMaxConns)
		config.DBMinConns = min(defaultDBMinConns, config.DBMaxConns)
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "finance:rate_limit"
	}
	if config.PostingRateLimitPerMinute < 0 {
		config.PostingRateLimitPerMinute = 0
	}

	if config.PostingMaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative posting retries configured; using default\" retries=%d", config.PostingMaxRetries)
		config.PostingMaxRetries = defaultPostingMaxRetries
	}

	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "USD"
	}
	if strings.TrimSpace(config.EventsExchange) == "" {
		config.EventsExchange = "finance.events"
	}

	if config.BcryptCost < bcrypt.MinCost || config.BcryptCost > bcrypt.MaxCost {
		log.Printf("level=warn component=config msg=\"bcrypt cost out of range; using default\" cost=%d", config.BcryptCost)
		config.BcryptCost = bcrypt.DefaultCost
	}

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
