package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Ledger LedgerConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	Events EventsConfig
	Log    LogConfig
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type LedgerConfig struct {
	// Store is "postgres" or "memory".
	Store string
	// LockStrategy is "memory", "redis" or "row".
	LockStrategy string
	LockTimeout  time.Duration
	// LockTTL bounds how long a redis lock survives a crashed holder.
	LockTTL time.Duration
	// FeePolicy is "burn" or "platform".
	FeePolicy        string
	PlatformWalletID string
	UniqueWallets    bool
	RecordFailed     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type EventsConfig struct {
	// Bus is "kafka", "redis" or "log".
	Bus          string
	Workers      int
	QueueSize    int
	RedisChannel string
}

type LogConfig struct {
	Dir   string
	Level string
}

// LoadConfig reads config.env when present, then the environment. Values
// already in the environment win over the file.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     p.duration("HTTP_READ_TIMEOUT", 9*time.Second),
			WriteTimeout:    p.duration("HTTP_WRITE_TIMEOUT", 12*time.Second),
			IdleTimeout:     p.duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: p.duration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		DB: DBConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         p.int("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     os.Getenv("DB_PASSWORD"),
			Name:         getEnv("DB_NAME", "ledger"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: p.int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: p.int("DB_MAX_IDLE_CONNS", 10),
			AutoMigrate:  p.bool("DB_AUTO_MIGRATE", true),
		},
		Ledger: LedgerConfig{
			Store:            strings.ToLower(getEnv("LEDGER_STORE", "postgres")),
			LockStrategy:     strings.ToLower(getEnv("LEDGER_LOCK_STRATEGY", "memory")),
			LockTimeout:      p.duration("LEDGER_LOCK_TIMEOUT", 250*time.Millisecond),
			LockTTL:          p.duration("LEDGER_LOCK_TTL", 5*time.Second),
			FeePolicy:        strings.ToLower(getEnv("LEDGER_FEE_POLICY", "burn")),
			PlatformWalletID: os.Getenv("LEDGER_PLATFORM_WALLET_ID"),
			UniqueWallets:    p.bool("LEDGER_UNIQUE_WALLETS", true),
			RecordFailed:     p.bool("LEDGER_RECORD_FAILED", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       p.int("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:        getEnv("KAFKA_TOPIC", "wallet-events"),
			WriteTimeout: p.duration("KAFKA_WRITE_TIMEOUT", 2*time.Second),
		},
		Events: EventsConfig{
			Bus:          strings.ToLower(getEnv("LEDGER_EVENT_BUS", "log")),
			Workers:      p.int("LEDGER_EVENT_WORKERS", 2),
			QueueSize:    p.int("LEDGER_EVENT_QUEUE", 1024),
			RedisChannel: getEnv("LEDGER_EVENT_CHANNEL", "wallet_events"),
		},
		Log: LogConfig{
			Dir:   os.Getenv("LOG_DIR"),
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.Ledger.Store, "postgres", "memory") {
		errs = append(errs, fmt.Errorf("invalid LEDGER_STORE %q", c.Ledger.Store))
	}
	if !oneOf(c.Ledger.LockStrategy, "memory", "redis", "row") {
		errs = append(errs, fmt.Errorf("invalid LEDGER_LOCK_STRATEGY %q", c.Ledger.LockStrategy))
	}
	if c.Ledger.LockStrategy == "row" && c.Ledger.Store != "postgres" {
		errs = append(errs, errors.New("LEDGER_LOCK_STRATEGY=row requires LEDGER_STORE=postgres"))
	}
	if c.Ledger.LockTimeout <= 0 {
		errs = append(errs, errors.New("LEDGER_LOCK_TIMEOUT must be positive"))
	}
	if !oneOf(c.Ledger.FeePolicy, "burn", "platform") {
		errs = append(errs, fmt.Errorf("invalid LEDGER_FEE_POLICY %q", c.Ledger.FeePolicy))
	}
	if c.Ledger.FeePolicy == "platform" && c.Ledger.PlatformWalletID == "" {
		errs = append(errs, errors.New("LEDGER_FEE_POLICY=platform requires LEDGER_PLATFORM_WALLET_ID"))
	}
	if !oneOf(c.Events.Bus, "kafka", "redis", "log") {
		errs = append(errs, fmt.Errorf("invalid LEDGER_EVENT_BUS %q", c.Events.Bus))
	}
	if c.Events.Workers <= 0 || c.Events.QueueSize <= 0 {
		errs = append(errs, errors.New("LEDGER_EVENT_WORKERS and LEDGER_EVENT_QUEUE must be positive"))
	}
	return errors.Join(errs...)
}

// NeedsRedis reports whether any component is backed by redis.
func (c *Config) NeedsRedis() bool {
	return c.Ledger.LockStrategy == "redis" || c.Events.Bus == "redis"
}

type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) fail(err error) {
	p.err = errors.Join(p.err, err)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
