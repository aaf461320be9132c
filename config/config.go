package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config collects every runtime knob the platform reads from the environment.
type Config struct {
	ServiceName string
	LoggerLevel string

	AppPort int

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	JWTSecret string

	ProcessorBaseURL string
	ProcessorAPIKey  string

	HoldTimeout     time.Duration
	PlatformFeeRate float64
}

// Load reads .env (if present) and assembles the config with defaults.
func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "travelmatch"))
	cfg.LoggerLevel = cast.ToString(getOrReturnDefault("LOGGER_LEVEL", "info"))
	cfg.AppPort = cast.ToInt(getOrReturnDefault("APP_PORT", 8080))

	cfg.PostgresHost = cast.ToString(getOrReturnDefault("POSTGRES_HOST", "localhost"))
	cfg.PostgresPort = cast.ToString(getOrReturnDefault("POSTGRES_PORT", "5432"))
	cfg.PostgresUser = cast.ToString(getOrReturnDefault("POSTGRES_USER", "postgres"))
	cfg.PostgresPassword = cast.ToString(getOrReturnDefault("POSTGRES_PASSWORD", "postgres"))
	cfg.PostgresDB = cast.ToString(getOrReturnDefault("POSTGRES_DB", "travelmatch"))

	cfg.JWTSecret = cast.ToString(getOrReturnDefault("JWT_SECRET", ""))

	cfg.ProcessorBaseURL = cast.ToString(getOrReturnDefault("PROCESSOR_BASE_URL", ""))
	cfg.ProcessorAPIKey = cast.ToString(getOrReturnDefault("PROCESSOR_API_KEY", ""))

	cfg.HoldTimeout = cast.ToDuration(getOrReturnDefault("ESCROW_HOLD_TIMEOUT", "10s"))
	cfg.PlatformFeeRate = cast.ToFloat64(getOrReturnDefault("PLATFORM_FEE_RATE", 0.10))

	return cfg
}

// DatabaseURL assembles the pgx connection string. DATABASE_URL wins when set.
func (c Config) DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
	)
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
