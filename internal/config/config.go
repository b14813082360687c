// Package config assembles the API configuration from, in increasing order of
// precedence: built-in defaults, an optional YAML file, a .env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 5000
	DefaultDriver          = "sqlite3"
	DefaultSQLitePath      = "task_tracker.db"
	DefaultRequestTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`

	// Debug switches logging to debug level.
	Debug bool `yaml:"debug"`
	// Testing marks a test deployment; the store is forced to in-memory SQLite.
	Testing bool `yaml:"testing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RequestTimeout bounds the store work done for a single request.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins restricts which origins may open the task event feed.
	// An empty list allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type DatabaseConfig struct {
	// Driver is one of: postgres | sqlite3.
	Driver string `yaml:"driver"`

	// URL is the full connection string. For postgres it is assembled from
	// Postgres when empty.
	URL string `yaml:"url"`

	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"db"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the connection string handed to the database driver.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" || d.Driver != "postgres" {
		return d.URL
	}
	p := d.Postgres
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		p.Host, p.User, p.Password, p.Name, p.Port, sslmode)
}

// Load builds the configuration. path may be empty, in which case no YAML
// file is read. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.Testing {
		cfg.Database.Driver = "sqlite3"
		cfg.Database.URL = ":memory:?_foreign_keys=on"
	}
	if cfg.Database.Driver == "sqlite3" && cfg.Database.URL == "" {
		cfg.Database.URL = DefaultSQLitePath + "?_foreign_keys=on"
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Driver: DefaultDriver,
			Postgres: PostgresConfig{
				Host: "localhost",
				Port: 5432,
			},
		},
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be an integer: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be a boolean: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be a duration: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	num("SERVER_PORT", &cfg.Server.Port)
	dur("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	dur("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.URL)
	str("POSTGRES_USER", &cfg.Database.Postgres.User)
	str("POSTGRES_PASSWORD", &cfg.Database.Postgres.Password)
	str("POSTGRES_DB", &cfg.Database.Postgres.Name)
	str("POSTGRES_HOST", &cfg.Database.Postgres.Host)
	num("POSTGRES_PORT", &cfg.Database.Postgres.Port)
	str("POSTGRES_SSLMODE", &cfg.Database.Postgres.SSLMode)

	flag("DEBUG", &cfg.Debug)
	flag("TESTING", &cfg.Testing)

	return errors.Join(errs...)
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("allowed origin %q is not a scheme://host URL", origin)
		}
	}

	switch cfg.Database.Driver {
	case "sqlite3":
	case "postgres":
		if cfg.Database.URL != "" {
			break
		}
		p := cfg.Database.Postgres
		required := map[string]string{
			"POSTGRES_USER": p.User,
			"POSTGRES_DB":   p.Name,
			"POSTGRES_HOST": p.Host,
		}
		for _, key := range []string{"POSTGRES_USER", "POSTGRES_DB", "POSTGRES_HOST"} {
			if required[key] == "" {
				return fmt.Errorf("%s must be set when DATABASE_URL is empty", key)
			}
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("postgres port %d is out of range [1, 65535]", p.Port)
		}
	default:
		return fmt.Errorf("database.driver %q unknown: want postgres|sqlite3", cfg.Database.Driver)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
