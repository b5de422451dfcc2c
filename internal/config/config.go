package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	DB        DBConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Auth      AuthConfig
	PageLimit int `env:"PAGE_LIMIT" envDefault:"5"`
}

type ServerConfig struct {
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"postgres"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"marketplace"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DATABASE" envDefault:"marketplace"`
}

// RedisConfig leaves the product cache and event dedup off when Addr is
// empty.
type RedisConfig struct {
	Addr       string        `env:"REDIS_ADDR" envDefault:""`
	Password   string        `env:"REDIS_PASSWORD" envDefault:""`
	DB         int           `env:"REDIS_DB" envDefault:"0"`
	ProductTTL time.Duration `env:"REDIS_PRODUCT_TTL" envDefault:"60s"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// RabbitMQConfig leaves event publishing off when URL is empty.
type RabbitMQConfig struct {
	URL string `env:"RABBITMQ_URL" envDefault:""`
}

func (c RabbitMQConfig) Enabled() bool { return c.URL != "" }

type AuthConfig struct {
	Domain       string `env:"AUTH0_DOMAIN"`
	ClientID     string `env:"AUTH0_CLIENT_ID"`
	ClientSecret string `env:"AUTH0_CLIENT_SECRET"`
	CallbackURL  string `env:"AUTH_CALLBACK_URL" envDefault:"http://localhost:8080/callback"`
	SecureCookie bool   `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
}

// BaseURL is the tenant's root, e.g. https://tenant.auth0.com.
func (c AuthConfig) BaseURL() string { return "https://" + c.Domain }

// Validate reports the settings serve needs to verify tokens.
func (c AuthConfig) Validate() error {
	if c.Domain == "" {
		return errors.New("AUTH0_DOMAIN is required")
	}
	if c.ClientID == "" {
		return errors.New("AUTH0_CLIENT_ID is required")
	}
	return nil
}

// Load reads an optional .env file and then the environment. Variables
// already set win over .env.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	switch cfg.Store.Driver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return nil, fmt.Errorf("parse config: unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	if cfg.PageLimit <= 0 {
		return nil, fmt.Errorf("parse config: PAGE_LIMIT must be positive, got %d", cfg.PageLimit)
	}
	return cfg, nil
}
