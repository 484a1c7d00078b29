package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	// MinSecretKeyLength is the minimum SECRET_KEY length accepted in production
	MinSecretKeyLength = 32

	EnvironmentProduction = "production"
)

// Config holds the server settings read from the environment
type Config struct {
	AppName     string
	Version     string
	Environment string
	Debug       bool

	Host string
	Port int

	// CORS origins
	AllowedHosts []string
	// Proxies whose X-Forwarded-For / X-Real-IP headers are believed
	TrustedProxies []netip.Prefix

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string

	// Share links
	SecretKey         string
	AccessTokenExpire time.Duration

	RateLimitPerMinute int
	LogLevel           string

	RedisURL     string
	DatabasePath string

	SessionTTL     time.Duration
	WorkerInterval time.Duration
}

// Load reads an optional .env file and the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	cfg := &Config{
		AppName:            getEnv("APP_NAME", "OpenV0"),
		Version:            getEnv("VERSION", "0.1.0"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		Debug:              getEnvBool("DEBUG", false),
		Host:               getEnv("HOST", "0.0.0.0"),
		Port:               getEnvInt("PORT", 8000),
		AllowedHosts:       splitList(getEnv("ALLOWED_HOSTS", "http://localhost:3000,http://127.0.0.1:3000")),
		OpenRouterAPIKey:   os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL:  getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:    getEnv("OPENROUTER_MODEL", "deepseek/deepseek-chat-v3.1:free"),
		SecretKey:          os.Getenv("SECRET_KEY"),
		AccessTokenExpire:  time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		DatabasePath:       getEnv("DATABASE_PATH", "openv0.db"),
		SessionTTL:         time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		WorkerInterval:     time.Duration(getEnvInt("WORKER_INTERVAL_SECONDS", 2)) * time.Second,
	}

	trusted, err := ParseTrustedProxies(splitList(os.Getenv("TRUSTED_PROXIES")))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = trusted

	if cfg.SecretKey == "" && !cfg.IsProduction() {
		secret, err := GenerateSecret()
		if err != nil {
			return nil, err
		}
		cfg.SecretKey = secret
		logrus.Info("Generated temporary secret key for development, set SECRET_KEY for stable share links")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values for consistency
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.IsProduction() && len(c.SecretKey) < MinSecretKeyLength {
		errs = append(errs, fmt.Errorf("SECRET_KEY must be at least %d characters in production", MinSecretKeyLength))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	if c.AccessTokenExpire <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL_HOURS must be positive"))
	}
	if c.WorkerInterval <= 0 {
		errs = append(errs, errors.New("WORKER_INTERVAL_SECONDS must be positive"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// ParseTrustedProxies accepts bare IPs and CIDR ranges
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		if strings.Contains(v, "/") {
			prefix, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", v, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// GenerationEnabled reports whether an OpenRouter key is configured
func (c *Config) GenerationEnabled() bool {
	return c.OpenRouterAPIKey != ""
}

// GenerateSecret returns a random URL-safe secret of 48 bytes
func GenerateSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// getEnv gets environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logrus.Warnf("Invalid value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		logrus.Warnf("Invalid value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
