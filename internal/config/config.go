// Package config loads server settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables take precedence over it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/community"
)

var validate = validator.New()

// Config holds every setting of cmd/server.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080" validate:"required"`
	ServerName string `env:"SERVER_NAME,default=community-chat"`

	// Empty DatabaseURL selects in-memory stores.
	DatabaseURL   string `env:"DATABASE_URL"`
	RunMigrations bool   `env:"RUN_MIGRATIONS,default=true"`
	// Empty RedisAddr selects the in-process limiter and disables presence.
	RedisAddr string `env:"REDIS_ADDR"`
	// Empty NATSURL leaves crisis alerts log-only.
	NATSURL string `env:"NATS_URL"`

	JWTSecret string `env:"JWT_SECRET,required=true" validate:"required,min=8"`
	JWTIssuer string `env:"JWT_ISSUER"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `env:"LOG_FORMAT,default=text" validate:"oneof=text json"`

	SendTimeout    time.Duration `env:"SEND_TIMEOUT,default=5s" validate:"gt=0"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=75s" validate:"gt=0"`
	PingInterval   time.Duration `env:"PING_INTERVAL,default=30s" validate:"gte=0"`
	MaxConnections int           `env:"MAX_CONNECTIONS,default=100000" validate:"gt=0"`
	// Comma-separated; empty allows any origin.
	CORSOrigins string `env:"CORS_ORIGINS"`

	ClassifierURL           string        `env:"CLASSIFIER_URL" validate:"omitempty,url"`
	ClassifierTimeout       time.Duration `env:"CLASSIFIER_TIMEOUT,default=3s" validate:"gt=0"`
	ClassifierFailurePolicy string        `env:"CLASSIFIER_FAILURE_POLICY,default=open" validate:"oneof=open closed"`

	CommunityMaxLength  int `env:"COMMUNITY_MAX_LENGTH,default=2000" validate:"gt=0"`
	ExpressionMaxLength int `env:"EXPRESSION_MAX_LENGTH,default=280" validate:"gt=0"`

	// MessageRate messages per MessageWindow per user.
	MessageRate   int           `env:"MESSAGE_RATE,default=10" validate:"gt=0"`
	MessageWindow time.Duration `env:"MESSAGE_WINDOW,default=10s" validate:"gt=0"`
	ConnectRate   int           `env:"CONNECT_RATE,default=20" validate:"gt=0"`

	CrisisQueueSize int `env:"CRISIS_QUEUE_SIZE,default=256" validate:"gt=0"`
	CrisisWorkers   int `env:"CRISIS_WORKERS,default=2" validate:"gt=0"`

	SeedDefaultRooms bool `env:"SEED_DEFAULT_ROOMS,default=true"`
}

// Load reads .env (if any) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("config: read environment: %w", err)
	}
	return Parse(es)
}

// Parse decodes and validates a set of variables.
func Parse(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Limits returns the per-kind content caps.
func (c Config) Limits() community.Limits {
	return community.Limits{
		community.KindCommunity:  c.CommunityMaxLength,
		community.KindExpression: c.ExpressionMaxLength,
	}
}

// AllowOrigins splits CORSOrigins.
func (c Config) AllowOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() (*logrus.Logger, error) {
	return newLogger(c.LogLevel, c.LogFormat)
}

func newLogger(lvl, format string) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(lvl)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// WatchConfig holds the settings of cmd/crisiswatch.
type WatchConfig struct {
	NATSURL    string `env:"NATS_URL,default=nats://127.0.0.1:4222" validate:"required"`
	QueueGroup string `env:"CRISISWATCH_QUEUE,default=crisiswatch"`
	// Empty RedisAddr disables escalation tracking; alerts are only logged.
	RedisAddr string `env:"REDIS_ADDR"`

	EscalationWindow    time.Duration `env:"ESCALATION_WINDOW,default=24h" validate:"gt=0"`
	EscalationThreshold int           `env:"ESCALATION_THRESHOLD,default=3" validate:"gt=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `env:"LOG_FORMAT,default=text" validate:"oneof=text json"`
}

// LoadWatch reads .env (if any) and the process environment.
func LoadWatch() (WatchConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return WatchConfig{}, fmt.Errorf("config: load .env: %w", err)
	}
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return WatchConfig{}, fmt.Errorf("config: read environment: %w", err)
	}
	return ParseWatch(es)
}

func ParseWatch(vars map[string]string) (WatchConfig, error) {
	var cfg WatchConfig
	if err := env.Unmarshal(env.EnvSet(vars), &cfg); err != nil {
		return WatchConfig{}, fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return WatchConfig{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func (c WatchConfig) NewLogger() (*logrus.Logger, error) {
	return newLogger(c.LogLevel, c.LogFormat)
}
