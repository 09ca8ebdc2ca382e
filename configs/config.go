package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type R2 struct {
	AccountID  string `env:"R2_ACCOUNT_ID"`
	AccessKey  string `env:"R2_ACCESS_KEY"`
	SecretKey  string `env:"R2_SECRET_KEY"`
	BucketName string `env:"R2_BUCKET_NAME"`
	PublicURL  string `env:"R2_PUBLIC_URL"`
}

type Worker struct {
	Schedule     string        `env:"WORKER_SCHEDULE" envDefault:"@every 1m"`
	BatchSize    int           `env:"WORKER_BATCH_SIZE" envDefault:"50"`
	MaxRetries   int           `env:"WORKER_MAX_RETRIES" envDefault:"3"`
	RetryBackoff time.Duration `env:"WORKER_RETRY_BACKOFF" envDefault:"2m"`
	MaxBackoff   time.Duration `env:"WORKER_MAX_BACKOFF" envDefault:"1h"`
	ClaimLease   time.Duration `env:"WORKER_CLAIM_LEASE" envDefault:"5m"`
	TickLeaseTTL time.Duration `env:"WORKER_TICK_LEASE_TTL" envDefault:"30s"`
	PublishRate  float64       `env:"WORKER_PUBLISH_RATE" envDefault:"5"`
	LeaseKey     string        `env:"WORKER_LEASE_KEY" envDefault:"crosspost-scheduler:publish-tick"`
}

type Config struct {
	Port               string        `env:"PORT" envDefault:"3000"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"text"`
	PostgresURI        string        `env:"POSTGRES_URI"`
	RedisURI           string        `env:"REDIS_URI"`
	MongoURI           string        `env:"MONGO_URI"`
	MongoDatabase      string        `env:"MONGO_DATABASE" envDefault:"campaigns"`
	FrontendURL        string        `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	SecretKey          string        `env:"SECRET_KEY"`
	CookieName         string        `env:"COOKIE_NAME" envDefault:"session"`
	PublisherBaseURL   string        `env:"PUBLISHER_BASE_URL" envDefault:"https://graph.threads.net/v1.0"`
	GeneratorURL       string        `env:"GENERATOR_URL"`
	Platform           string        `env:"PLATFORM" envDefault:"threads"`
	ScheduleWindowDays int           `env:"SCHEDULE_WINDOW_DAYS" envDefault:"15"`
	ExternalRowBudget  int           `env:"EXTERNAL_ROW_BUDGET" envDefault:"50"`
	ScopeCacheTTL      time.Duration `env:"SCOPE_CACHE_TTL" envDefault:"30s"`
	ScopeCacheSize     int           `env:"SCOPE_CACHE_SIZE" envDefault:"512"`
	CreditUnitPrice    float64       `env:"CREDIT_UNIT_PRICE" envDefault:"1.2"`
	R2                 R2
	Worker             Worker
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.PostgresURI == "" {
		return errors.New("POSTGRES_URI is required")
	}
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.ScheduleWindowDays <= 0 {
		return errors.New("SCHEDULE_WINDOW_DAYS must be positive")
	}
	if c.Worker.MaxRetries <= 0 {
		return errors.New("WORKER_MAX_RETRIES must be positive")
	}
	if c.CreditUnitPrice <= 0 {
		return errors.New("CREDIT_UNIT_PRICE must be positive")
	}
	return nil
}

func (c *Config) ScheduleWindow() time.Duration {
	return time.Duration(c.ScheduleWindowDays) * 24 * time.Hour
}
