package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Session backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Quote strategies.
const (
	StrategyTable = "table"
	StrategyLLM   = "llm"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir  string `env:"DATA_DIR" envDefault:"."`
	Timezone string `env:"TIMEZONE" envDefault:"Asia/Tokyo"`

	WAPhoneNumberID string `env:"WA_PHONE_NUMBER_ID"`
	WAAccessToken   string `env:"WA_ACCESS_TOKEN"`
	WAVerifyToken   string `env:"WA_VERIFY_TOKEN"`

	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisTLS       bool          `env:"REDIS_TLS" envDefault:"false"`
	DynamoDBTable  string        `env:"DYNAMODB_TABLE"`
	AWSRegion      string        `env:"AWS_REGION"`

	QuoteStrategy  string        `env:"QUOTE_STRATEGY" envDefault:"table"`
	LLMProvider    string        `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMFallback    string        `env:"LLM_FALLBACK"`
	OpenAIAPIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIModel    string        `env:"OPENAI_MODEL"`
	GeminiAPIKey   string        `env:"GEMINI_API_KEY"`
	GeminiModel    string        `env:"GEMINI_MODEL"`
	AnthropicKey   string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel string        `env:"ANTHROPIC_MODEL"`
	QuoteTimeout   time.Duration `env:"QUOTE_TIMEOUT" envDefault:"45s"`
	QuoteWorkers   int           `env:"QUOTE_WORKERS" envDefault:"4"`

	LockCleanupInterval time.Duration `env:"LOCK_CLEANUP_INTERVAL" envDefault:"10m"`
	LockMaxAge          time.Duration `env:"LOCK_MAX_AGE" envDefault:"30m"`

	Location *time.Location `env:"-"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	// .env is optional; production sets real env vars
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	cfg.normalize()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.WAVerifyToken == "" {
		token, err := randomHex(16)
		if err != nil {
			return nil, fmt.Errorf("config: generating verify token: %w", err)
		}
		cfg.WAVerifyToken = token
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Model returns the configured model for a provider. Empty means the
// client's default.
func (c *Config) Model(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAIModel
	case ProviderGemini:
		return c.GeminiModel
	case ProviderAnthropic:
		return c.AnthropicModel
	}
	return ""
}

// APIKey returns the credential for a provider.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderAnthropic:
		return c.AnthropicKey
	}
	return ""
}

func (c *Config) normalize() {
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	c.QuoteStrategy = strings.ToLower(strings.TrimSpace(c.QuoteStrategy))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.LLMFallback = strings.ToLower(strings.TrimSpace(c.LLMFallback))
}

func (c *Config) validate() error {
	var errs []error
	require := func(name, val string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("required env var %s is not set", name))
		}
	}

	require("WA_PHONE_NUMBER_ID", c.WAPhoneNumberID)
	require("WA_ACCESS_TOKEN", c.WAAccessToken)

	switch c.SessionBackend {
	case BackendMemory, BackendBolt:
	case BackendRedis:
		require("REDIS_ADDR", c.RedisAddr)
	case BackendDynamoDB:
		require("DYNAMODB_TABLE", c.DynamoDBTable)
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND %q is not one of memory, bolt, redis, dynamodb", c.SessionBackend))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.LockCleanupInterval <= 0 {
		errs = append(errs, errors.New("LOCK_CLEANUP_INTERVAL must be positive"))
	}

	switch c.QuoteStrategy {
	case StrategyTable:
	case StrategyLLM:
		for _, p := range []string{c.LLMProvider, c.LLMFallback} {
			if p == "" {
				continue
			}
			if !knownProvider(p) {
				errs = append(errs, fmt.Errorf("LLM provider %q is not one of openai, gemini, anthropic", p))
				continue
			}
			if c.APIKey(p) == "" {
				errs = append(errs, fmt.Errorf("provider %s needs an API key", p))
			}
		}
		if c.LLMFallback != "" && c.LLMFallback == c.LLMProvider {
			errs = append(errs, errors.New("LLM_FALLBACK must differ from LLM_PROVIDER"))
		}
		if c.QuoteWorkers < 1 {
			errs = append(errs, errors.New("QUOTE_WORKERS must be at least 1"))
		}
		if c.QuoteTimeout <= 0 {
			errs = append(errs, errors.New("QUOTE_TIMEOUT must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUOTE_STRATEGY %q is not one of table, llm", c.QuoteStrategy))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func knownProvider(p string) bool {
	return p == ProviderOpenAI || p == ProviderGemini || p == ProviderAnthropic
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
