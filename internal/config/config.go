package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	HTTP     HTTP     `envPrefix:"HTTP_"`
	Store    Store    `envPrefix:"STORE_"`
	Postgres Postgres `envPrefix:"POSTGRES_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Storage  Storage  `envPrefix:"STORAGE_"`
	OpenAI   OpenAI   `envPrefix:"OPENAI_"`
	Pipeline Pipeline `envPrefix:"PIPELINE_"`
	Log      Log      `envPrefix:"LOG_"`
}

type HTTP struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*"`
}

// Store selects the task store backend: "memory" or "postgres".
type Store struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
}

type Postgres struct {
	DSN          string        `env:"DSN"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnLifetime time.Duration `env:"CONN_LIFETIME" envDefault:"30m"`
	AutoMigrate  bool          `env:"AUTO_MIGRATE" envDefault:"true"`
}

// Redis carries progress events between processes. Empty Addr keeps events in process.
type Redis struct {
	Addr          string        `env:"ADDRESS"`
	Password      string        `env:"PASSWORD"`
	DB            int           `env:"DB" envDefault:"0"`
	ChannelPrefix string        `env:"CHANNEL_PREFIX" envDefault:"progress:"`
	LastEventTTL  time.Duration `env:"LAST_EVENT_TTL" envDefault:"1h"`
}

// Storage is an S3-compatible bucket holding recordings. Empty Endpoint uses an in-memory fake.
type Storage struct {
	Endpoint   string        `env:"ENDPOINT"`
	AccessKey  string        `env:"ACCESS_KEY"`
	SecretKey  string        `env:"SECRET_KEY"`
	Bucket     string        `env:"BUCKET" envDefault:"recordings"`
	Region     string        `env:"REGION" envDefault:"us-east-1"`
	UseSSL     bool          `env:"USE_SSL" envDefault:"true"`
	URLExpires time.Duration `env:"URL_EXPIRES" envDefault:"1h"`
}

type OpenAI struct {
	APIKey             string        `env:"API_KEY"`
	BaseURL            string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	TranscriptionModel string        `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	ChatModel          string        `env:"CHAT_MODEL" envDefault:"gpt-4"`
	MaxTokens          int           `env:"MAX_TOKENS" envDefault:"2000"`
	Temperature        float64       `env:"TEMPERATURE" envDefault:"0.3"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"2m"`
	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseBackoff        time.Duration `env:"BASE_BACKOFF" envDefault:"500ms"`
	MaxBackoff         time.Duration `env:"MAX_BACKOFF" envDefault:"10s"`
	// Mock replaces the provider with canned results. Forced on when APIKey is empty.
	Mock bool `env:"MOCK" envDefault:"false"`
}

// Pipeline tunes task attempts. MaxRetries 0 disables retries.
type Pipeline struct {
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"3"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"10m"`
	Workers      int           `env:"WORKERS" envDefault:"4"`
	QueueSize    int           `env:"QUEUE_SIZE" envDefault:"100"`
	StaleAfter   time.Duration `env:"STALE_AFTER" envDefault:"30m"`
	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"1m"`
}

type Log struct {
	Level   string `env:"LEVEL" envDefault:"info"`
	Console bool   `env:"CONSOLE" envDefault:"false"`
}

// Parse reads the configuration from the environment and validates it.
func Parse() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads an optional .env file and then the environment. It exits on invalid configuration.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("read .env")
	}
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return c
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, errors.New("PIPELINE_MAX_RETRIES must not be negative"))
	}
	if c.Pipeline.CallTimeout <= 0 {
		errs = append(errs, errors.New("PIPELINE_CALL_TIMEOUT must be positive"))
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0 {
		errs = append(errs, errors.New("PIPELINE_WORKERS and PIPELINE_QUEUE_SIZE must be positive"))
	}
	if c.Pipeline.ReapInterval <= 0 || c.Pipeline.StaleAfter <= 0 {
		errs = append(errs, errors.New("PIPELINE_REAP_INTERVAL and PIPELINE_STALE_AFTER must be positive"))
	}
	if err := c.Pipeline.CheckStaleAfter(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckStaleAfter rejects a stale threshold the reaper could hit while a capability call is still allowed to run.
func (p Pipeline) CheckStaleAfter() error {
	if p.StaleAfter <= p.CallTimeout {
		return fmt.Errorf("PIPELINE_STALE_AFTER (%s) must exceed PIPELINE_CALL_TIMEOUT (%s)", p.StaleAfter, p.CallTimeout)
	}
	return nil
}

// UseMockAI reports whether the AI provider should be replaced by canned results.
func (o OpenAI) UseMockAI() bool {
	return o.Mock || o.APIKey == ""
}
