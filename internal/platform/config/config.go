// Package config assembles runtime configuration from defaults, an optional
// .env file, environment variables and explicit overrides, in that order of
// precedence.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultStoreBackend        = "memory"
	defaultFileStorePath       = "data/carts"
	defaultRedisAddr           = "localhost:6379"
	defaultFirestoreCollection = "carts"

	defaultTaxRateBps = 1000

	defaultUpstreamTimeout = 10 * time.Second

	defaultSessionCookie = "storefront_session"
	defaultSessionTTL    = 30 * time.Minute
)

// StoreBackend names supported durable store implementations.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Pricing  PricingConfig
	Upstream UpstreamConfig
	Auth     AuthConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects and configures the durable key-value backend.
type StoreConfig struct {
	Backend             string
	FilePath            string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisChannel        string
	FirestoreProjectID  string
	FirestoreCollection string
}

// PricingConfig controls summary arithmetic.
type PricingConfig struct {
	// TaxRateBps is the flat tax rate in basis points of the subtotal.
	TaxRateBps int
}

// UpstreamConfig points at the external stock and order services. Empty URLs
// switch the clients to their built-in fakes, for local development.
type UpstreamConfig struct {
	StockURL string
	OrderURL string
	Timeout  time.Duration
}

// AuthConfig configures identity consumption and session cookies.
type AuthConfig struct {
	JWTSecret     string
	SessionCookie string
	SessionTTL    time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Backend:             strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORE_BACKEND", defaultStoreBackend)),
			FilePath:            stringWithDefault(lookup, "STOREFRONT_STORE_FILE_PATH", defaultFileStorePath),
			RedisAddr:           stringWithDefault(lookup, "STOREFRONT_STORE_REDIS_ADDR", defaultRedisAddr),
			RedisPassword:       stringWithDefault(lookup, "STOREFRONT_STORE_REDIS_PASSWORD", ""),
			RedisDB:             intWithDefault(lookup, "STOREFRONT_STORE_REDIS_DB", 0),
			RedisChannel:        stringWithDefault(lookup, "STOREFRONT_STORE_REDIS_CHANNEL", ""),
			FirestoreProjectID:  stringWithDefault(lookup, "STOREFRONT_STORE_FIRESTORE_PROJECT_ID", ""),
			FirestoreCollection: stringWithDefault(lookup, "STOREFRONT_STORE_FIRESTORE_COLLECTION", defaultFirestoreCollection),
		},
		Pricing: PricingConfig{
			TaxRateBps: intWithDefault(lookup, "STOREFRONT_PRICING_TAX_RATE_BPS", defaultTaxRateBps),
		},
		Upstream: UpstreamConfig{
			StockURL: stringWithDefault(lookup, "STOREFRONT_UPSTREAM_STOCK_URL", ""),
			OrderURL: stringWithDefault(lookup, "STOREFRONT_UPSTREAM_ORDER_URL", ""),
			Timeout:  durationWithDefault(lookup, "STOREFRONT_UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		},
		Auth: AuthConfig{
			JWTSecret:     stringWithDefault(lookup, "STOREFRONT_AUTH_JWT_SECRET", ""),
			SessionCookie: stringWithDefault(lookup, "STOREFRONT_AUTH_SESSION_COOKIE", defaultSessionCookie),
			SessionTTL:    durationWithDefault(lookup, "STOREFRONT_AUTH_SESSION_TTL", defaultSessionTTL),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var fields []string

	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(cfg.Store.FilePath) == "" {
			fields = append(fields, "Store.FilePath")
		}
	case BackendRedis:
		if strings.TrimSpace(cfg.Store.RedisAddr) == "" {
			fields = append(fields, "Store.RedisAddr")
		}
	case BackendFirestore:
		if strings.TrimSpace(cfg.Store.FirestoreProjectID) == "" {
			fields = append(fields, "Store.FirestoreProjectID")
		}
	default:
		fields = append(fields, "Store.Backend")
	}

	if cfg.Pricing.TaxRateBps < 0 {
		fields = append(fields, "Pricing.TaxRateBps")
	}
	if cfg.Server.Port == "" {
		fields = append(fields, "Server.Port")
	}
	if cfg.Auth.SessionTTL <= 0 {
		fields = append(fields, "Auth.SessionTTL")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
