package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port int `env:"PORT" env-default:"8080"`

	Database   DatabaseConfig
	Redis      RedisConfig
	Summarizer ServiceConfig
	Reconciler ReconcilerConfig
	Dispatch   DispatchConfig
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" env-default:"localhost"`
	Port     int    `env:"DB_PORT" env-default:"5432"`
	Name     string `env:"DB_NAME" env-default:"meetloop"`
	User     string `env:"DB_USER" env-default:"meetloop"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE" env-default:"disable"`

	// InMemory swaps the postgres store for the in-process one. Dev only.
	InMemory bool `env:"DB_IN_MEMORY" env-default:"false"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`

	// Enabled gates the realtime consumer; HTTP ingest works without it.
	Enabled bool `env:"REDIS_ENABLED" env-default:"true"`
}

type ServiceConfig struct {
	Url  string `env:"SUMMARIZER_URL" env-default:"localhost"`
	Port int    `env:"SUMMARIZER_PORT" env-default:"8090"`
}

type ReconcilerConfig struct {
	StaleAfter    time.Duration `env:"STALE_AFTER" env-default:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" env-default:"5m"`
	SweepBudget   time.Duration `env:"SWEEP_BUDGET" env-default:"1m"`
}

type DispatchConfig struct {
	Workers   int `env:"DISPATCH_WORKERS" env-default:"4"`
	QueueSize int `env:"DISPATCH_QUEUE_SIZE" env-default:"256"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}
	return &cfg
}
