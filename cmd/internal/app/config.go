package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"parley/cmd/internal/broker"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Config contains the server runtime configuration.
//
// Sources, later ones winning: defaults, the YAML file named by
// PARLEY_CONFIG_FILE, then PARLEY_* environment variables (a .env file in the
// working directory is loaded into the environment first).
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	Store       string `yaml:"store"`
	PebbleDir   string `yaml:"pebble_dir"`
	DatabaseURL string `yaml:"database_url"`
	DBSchema    string `yaml:"db_schema"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	BrokerBuffer   int    `yaml:"broker_buffer"`
	BrokerOverflow string `yaml:"broker_overflow"`

	PresenceTTL time.Duration `yaml:"presence_ttl"`
	TypingTTL   time.Duration `yaml:"typing_ttl"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	// If true, PARLEY_TOKEN_HMAC_KEY must be set and invite codes are hashed with HMAC.
	RequireTokenHMAC bool `yaml:"require_token_hmac"`
}

// DefaultConfig returns the development defaults: in-memory store, pretty logs.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		Store:      StoreMemory,
		PebbleDir:  "data/pebble",
		DBSchema:   "parley",
		DBMaxConns: 10,

		BrokerBuffer:   64,
		BrokerOverflow: broker.DropOldest.String(),

		PresenceTTL: time.Minute,
		TypingTTL:   5 * time.Second,

		CORSMaxAgeSeconds: 600,
	}
}

// LoadConfig resolves Config from .env, the optional YAML file and the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path := EnvString("PARLEY_CONFIG_FILE", ""); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg = cfg.withEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) withEnv() Config {
	c.HTTPAddr = EnvString("PARLEY_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("PARLEY_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("PARLEY_LOG_FORMAT", c.LogFormat)

	c.ReadHeaderTimeout = EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration("PARLEY_HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", c.IdleTimeout)
	c.ShutdownTimeout = EnvDuration("PARLEY_HTTP_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.MaxHeaderBytes = EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.Store = strings.ToLower(EnvString("PARLEY_STORE", c.Store))
	c.PebbleDir = EnvString("PARLEY_PEBBLE_DIR", c.PebbleDir)
	c.DatabaseURL = EnvString("PARLEY_DATABASE_URL", c.DatabaseURL)
	c.DBSchema = EnvString("PARLEY_DB_SCHEMA", c.DBSchema)
	c.DBMaxConns = EnvInt32("PARLEY_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("PARLEY_DB_MIN_CONNS", c.DBMinConns)

	c.BrokerBuffer = EnvInt("PARLEY_BROKER_BUFFER", c.BrokerBuffer)
	c.BrokerOverflow = EnvString("PARLEY_BROKER_OVERFLOW", c.BrokerOverflow)

	c.PresenceTTL = EnvDuration("PARLEY_PRESENCE_TTL", c.PresenceTTL)
	c.TypingTTL = EnvDuration("PARLEY_TYPING_TTL", c.TypingTTL)

	c.CORSAllowedOrigins = EnvCSV("PARLEY_CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.CORSAllowCredentials = EnvBool("PARLEY_CORS_ALLOW_CREDENTIALS", c.CORSAllowCredentials)
	c.CORSMaxAgeSeconds = EnvInt("PARLEY_CORS_MAX_AGE_SECONDS", c.CORSMaxAgeSeconds)

	c.RequireTokenHMAC = EnvBool("PARLEY_REQUIRE_TOKEN_HMAC", c.RequireTokenHMAC)
	return c
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePebble:
		if strings.TrimSpace(c.PebbleDir) == "" {
			return errors.New("config: PARLEY_PEBBLE_DIR is required for the pebble store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: PARLEY_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q (want memory, pebble or postgres)", c.Store)
	}
	if _, err := broker.ParseOverflow(c.BrokerOverflow); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}
