package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
// Credentials are only ever read from the environment.
type Config struct {
	// Server
	Port               int
	LogLevel           string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Profile store: supabase | postgres | memory
	StoreBackend string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Postgres
	DatabaseURL string

	// Redis (webhook event de-duplication)
	RedisURL string
	DedupTTL time.Duration

	// Kafka (domain events)
	KafkaBroker       string
	KafkaTopic        string
	KafkaRetryMax     int
	KafkaRetryBackoff time.Duration

	// Identity provider tokens
	IdentityJWTSecret    string
	IdentityPublicKeyPEM string
	IdentityIssuer       string
	IdentityAudience     string

	// Collaborator tokens
	CollaboratorJWTSecret string
	CollaboratorTokenTTL  time.Duration

	// Payments
	StripeWebhookSecret string
	WebhookTolerance    time.Duration

	// Messaging provider
	MessagingAPIURL     string
	MessagingAccountSID string
	MessagingAuthToken  string
	MessagingCountry    string

	// Spreadsheet import
	DriveAPIURL              string
	GoogleServiceAccountJSON string
	MaxUploadBytes           int64
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 16<<20)),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		CacheTTL: getEnvDuration("CACHE_TTL", time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "supabase")),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		DedupTTL: getEnvDuration("WEBHOOK_DEDUP_TTL", 72*time.Hour),

		KafkaBroker:       getEnv("KAFKA_BROKER", ""),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "assistant-manager.events"),
		KafkaRetryMax:     getEnvInt("KAFKA_RETRY_MAX", 3),
		KafkaRetryBackoff: getEnvDuration("KAFKA_RETRY_BACKOFF", 200*time.Millisecond),

		IdentityJWTSecret:    getEnv("IDENTITY_JWT_SECRET", ""),
		IdentityPublicKeyPEM: getEnv("IDENTITY_PUBLIC_KEY_PEM", ""),
		IdentityIssuer:       getEnv("IDENTITY_ISSUER", ""),
		IdentityAudience:     getEnv("IDENTITY_AUDIENCE", ""),

		CollaboratorJWTSecret: getEnv("COLLABORATOR_JWT_SECRET", ""),
		CollaboratorTokenTTL:  getEnvDuration("COLLABORATOR_TOKEN_TTL", 12*time.Hour),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance:    getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),

		MessagingAPIURL:     getEnv("MESSAGING_API_URL", "https://api.twilio.com/2010-04-01"),
		MessagingAccountSID: getEnv("MESSAGING_ACCOUNT_SID", ""),
		MessagingAuthToken:  getEnv("MESSAGING_AUTH_TOKEN", ""),
		MessagingCountry:    getEnv("MESSAGING_COUNTRY", "BR"),

		DriveAPIURL:              getEnv("DRIVE_API_URL", "https://www.googleapis.com"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		MaxUploadBytes:           int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
	}
}

// Validate reports configuration that makes the server unusable.
func (c *Config) Validate() []string {
	var problems []string
	if c.IdentityJWTSecret == "" && c.IdentityPublicKeyPEM == "" {
		problems = append(problems, "IDENTITY_JWT_SECRET or IDENTITY_PUBLIC_KEY_PEM is required")
	}
	switch c.StoreBackend {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres backend")
		}
	case "memory":
	default:
		problems = append(problems, "STORE_BACKEND must be supabase, postgres or memory")
	}
	return problems
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
