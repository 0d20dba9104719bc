// Package config provides environment configuration for the webhook server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
)

// Store drivers and lock backends accepted by Load.
const (
	StoreMemory   = "memory"
	StoreSupabase = "supabase"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	Env                string

	// LLM settings
	LLMProvider     string
	LLMModel        string
	LLMBaseURL      string
	LLMMaxTokens    int
	LLMTemperature  float64
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Store settings
	StoreDriver     string
	SupabaseURL     string
	SupabaseAnonKey string
	SupabaseTable   string
	RedisURL        string
	RedisTTL        time.Duration
	DatabaseURL     string

	// Exclusive section per conversation
	LockBackend string
	LockTTL     time.Duration

	// Per-call timeouts
	StoreTimeout      time.Duration
	CompletionTimeout time.Duration
	DeliveryTimeout   time.Duration

	// Twilio settings
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioWhatsAppNumber    string
	TwilioValidateSignature bool
	PublicBaseURL           string

	// Identity settings
	CountryCode string
	TrunkPrefix string

	// Prompts
	PromptsFile string

	// NATS settings; an empty URL disables the event stream
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	supabaseURL := getEnv("SUPABASE_URL", "")
	defaultDriver := StoreMemory
	if supabaseURL != "" {
		defaultDriver = StoreSupabase
	}

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		Env:                getEnv("ENV", "production"),

		// LLM
		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),
		LLMMaxTokens:    getIntEnv("LLM_MAX_TOKENS", 1000),
		LLMTemperature:  getFloatEnv("LLM_TEMPERATURE", 0.7),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		// Store
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", defaultDriver)),
		SupabaseURL:     supabaseURL,
		SupabaseAnonKey: getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseTable:   getEnv("SUPABASE_TABLE", "conversations"),
		RedisURL:        getEnv("REDIS_URL", ""),
		RedisTTL:        getDurationEnv("REDIS_TTL", 0),
		DatabaseURL:     getEnv("DATABASE_URL", ""),

		// Locking
		LockBackend: strings.ToLower(getEnv("LOCK_BACKEND", LockLocal)),
		LockTTL:     getDurationEnv("LOCK_TTL", 2*time.Minute),

		// Timeouts
		StoreTimeout:      getDurationEnv("STORE_TIMEOUT", 5*time.Second),
		CompletionTimeout: getDurationEnv("COMPLETION_TIMEOUT", 30*time.Second),
		DeliveryTimeout:   getDurationEnv("DELIVERY_TIMEOUT", 10*time.Second),

		// Twilio
		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppNumber:    getEnv("TWILIO_WHATSAPP_NUMBER", ""),
		TwilioValidateSignature: getBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),
		PublicBaseURL:           strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		// Identity
		CountryCode: getEnv("COUNTRY_CODE", identity.DefaultCountryCode),
		TrunkPrefix: getEnv("TRUNK_PREFIX", identity.DefaultTrunkPrefix),

		// Prompts
		PromptsFile: getEnv("PROMPTS_FILE", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for LLM_PROVIDER=openai"))
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for LLM_PROVIDER=anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for the supabase store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for LOCK_BACKEND=redis"))
		}
		if c.LockTTL <= 3*c.StoreTimeout+c.CompletionTimeout {
			errs = append(errs, fmt.Errorf("LOCK_TTL %s must exceed 3*STORE_TIMEOUT+COMPLETION_TIMEOUT", c.LockTTL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}

	if c.StoreTimeout <= 0 || c.CompletionTimeout <= 0 || c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT, COMPLETION_TIMEOUT and DELIVERY_TIMEOUT must be positive"))
	}

	if c.TwilioEnabled() && (c.TwilioAuthToken == "" || c.TwilioWhatsAppNumber == "") {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN and TWILIO_WHATSAPP_NUMBER are required with TWILIO_ACCOUNT_SID"))
	}
	if c.TwilioValidateSignature && (c.TwilioAuthToken == "" || c.PublicBaseURL == "") {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE needs TWILIO_AUTH_TOKEN and PUBLIC_BASE_URL"))
	}

	if _, err := identity.NewNormalizer(c.CountryCode, c.TrunkPrefix); err != nil {
		errs = append(errs, fmt.Errorf("COUNTRY_CODE/TRUNK_PREFIX: %w", err))
	}

	if c.RateLimitRequests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must be positive"))
	}

	return errors.Join(errs...)
}

// TwilioEnabled reports whether outbound WhatsApp delivery is configured.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != ""
}

// NATSEnabled reports whether turns are published to JetStream.
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

// IsDevelopment reports whether ENV=development.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

// APIKey returns the key for the configured LLM provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
