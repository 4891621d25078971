// Package config loads service settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/M-ajor19/quillify/internal/extraction"
	"github.com/M-ajor19/quillify/internal/generation"
	"github.com/M-ajor19/quillify/internal/payments"
	"github.com/M-ajor19/quillify/internal/pipeline"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env     string `yaml:"env"`
	Addr    string `yaml:"addr"`
	AppURL  string `yaml:"app_url"`
	Version string `yaml:"version"`

	Log        LogConfig          `yaml:"log"`
	Database   DatabaseConfig     `yaml:"database"`
	Redis      RedisConfig        `yaml:"redis"`
	Auth       AuthConfig         `yaml:"auth"`
	LLM        LLMConfig          `yaml:"llm"`
	Stripe     StripeConfig       `yaml:"stripe"`
	Pipeline   pipeline.Config    `yaml:"pipeline"`
	Generation generation.Config  `yaml:"generation"`
	Extraction extraction.Config  `yaml:"extraction"`
	Packages   []payments.Package `yaml:"packages"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

// RedisConfig enables the shared rate limit store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SignupCredits int64         `yaml:"signup_credits"`
}

type LLMConfig struct {
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Organization   string        `yaml:"organization"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	VisionAttempts uint          `yaml:"vision_attempts"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

func Default() Config {
	return Config{
		Env:        EnvDevelopment,
		Addr:       "0.0.0.0:8080",
		AppURL:     "http://localhost:3000",
		Version:    "2.0.0",
		Log:        LogConfig{Level: "info"},
		Database:   DatabaseConfig{Driver: DriverPostgres, SQLitePath: "quillify.db"},
		Auth:       AuthConfig{TokenTTL: 24 * time.Hour, SignupCredits: 3},
		LLM:        LLMConfig{RequestTimeout: 60 * time.Second, VisionAttempts: 3},
		Pipeline:   pipeline.DefaultConfig(),
		Generation: generation.DefaultConfig(),
		Extraction: extraction.DefaultConfig(),
		Packages:   payments.DefaultPackages(),
	}
}

// Load reads the YAML file at path (if any) over the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Env, getenv("APP_ENV"))
	setString(&c.AppURL, getenv("APP_URL"))
	setString(&c.Log.Level, getenv("LOG_LEVEL"))
	setString(&c.Database.URL, getenv("DATABASE_URL"))
	setString(&c.Database.Driver, getenv("DATABASE_DRIVER"))
	setString(&c.Database.SQLitePath, getenv("SQLITE_PATH"))
	setString(&c.Redis.Addr, getenv("REDIS_ADDR"))
	setString(&c.Redis.Password, getenv("REDIS_PASSWORD"))
	setString(&c.Auth.JWTSecret, getenv("JWT_SECRET"))
	setString(&c.LLM.APIKey, getenv("OPENAI_API_KEY"))
	setString(&c.LLM.BaseURL, getenv("OPENAI_BASE_URL"))
	setString(&c.Stripe.SecretKey, getenv("STRIPE_SECRET_KEY"))
	setString(&c.Stripe.WebhookSecret, getenv("STRIPE_WEBHOOK_SECRET"))

	if port := getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT: %q is not a number", port)
		}
		host := "0.0.0.0"
		if h, _, ok := strings.Cut(c.Addr, ":"); ok && h != "" {
			host = h
		}
		c.Addr = host + ":" + port
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// required are the settings the service cannot work without. Values still
// holding a "your_..._here" placeholder count as missing.
func (c *Config) required() map[string]string {
	return map[string]string{
		"OPENAI_API_KEY":        c.LLM.APIKey,
		"STRIPE_SECRET_KEY":     c.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": c.Stripe.WebhookSecret,
		"JWT_SECRET":            c.Auth.JWTSecret,
		"APP_URL":               c.AppURL,
	}
}

// Validate checks the configuration. Missing required settings are an error
// in production and returned as warnings otherwise.
func (c *Config) Validate() (warnings []string, err error) {
	var missing []string
	req := c.required()
	for _, key := range sortedKeys(req) {
		v := req[key]
		if v == "" || strings.HasPrefix(v, "your_") {
			missing = append(missing, key)
		}
	}

	var errs []error
	if len(missing) > 0 {
		msg := "missing required settings: " + strings.Join(missing, ", ")
		if c.Env == EnvProduction {
			errs = append(errs, errors.New(msg))
		} else {
			warnings = append(warnings, msg)
		}
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	if _, ok := parseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if c.Generation.MaxInputChars <= 0 {
		errs = append(errs, errors.New("generation.max_input_chars must be positive"))
	}
	if c.Generation.Timeout <= 0 || c.Extraction.Timeout <= 0 {
		errs = append(errs, errors.New("generation and extraction timeouts must be positive"))
	}
	if c.Generation.RateLimit.MaxRequests <= 0 || c.Generation.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("generation.rate_limit must have a positive window and max_requests"))
	}
	if c.Extraction.RateLimit.MaxRequests <= 0 || c.Extraction.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("extraction.rate_limit must have a positive window and max_requests"))
	}
	if c.Extraction.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("extraction.max_image_bytes must be positive"))
	}
	if c.Auth.SignupCredits < 0 {
		errs = append(errs, errors.New("auth.signup_credits must not be negative"))
	}
	if _, err := payments.NewCatalog(c.Packages); err != nil {
		errs = append(errs, fmt.Errorf("packages: %w", err))
	}
	return warnings, errors.Join(errs...)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
