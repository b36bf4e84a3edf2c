package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreSupabase = "supabase"
)

// Model backends.
const (
	ModelOpenAI = "openai"
	ModelGemini = "gemini"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port               int
	LogLevel           string
	TurnTimeout        time.Duration
	CORSAllowedOrigins []string

	// Language model
	ModelBackend      string
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	GeminiAPIKey      string
	GeminiModel       string
	InterpreterPolicy string // force-accept | allow-reject

	// Messaging transport
	WhatsAppAPIURL  string
	WhatsAppPhoneID string
	WhatsAppToken   string
	VerifyToken     string

	// Receipt rendering
	ReceiptBaseURL    string
	RenderTimeout     time.Duration
	RenderConcurrency int
	BrowserBin        string

	// Persistence
	StoreBackend       string
	SQLitePath         string
	PostgresDSN        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Per-user turn claim in shared storage (multi-instance deployments)
	DistributedLock bool
	ClaimTTL        time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Inbound message de-duplication
	DedupeTTL time.Duration

	// Observability
	OTLPEndpoint   string
	TracingEnabled bool

	// Operator support API
	AdminUser         string
	AdminPasswordHash string
	JWTSecret         string
	JWTAccessTTL      time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		TurnTimeout:        getEnvDuration("TURN_TIMEOUT", 2*time.Minute),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		ModelBackend:      strings.ToLower(getEnv("MODEL_BACKEND", ModelOpenAI)),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		InterpreterPolicy: strings.ToLower(getEnv("INTERPRETER_POLICY", "force-accept")),

		WhatsAppAPIURL:  getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppPhoneID: getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppToken:   getEnv("WHATSAPP_TOKEN", ""),
		VerifyToken:     getEnv("VERIFY_TOKEN", ""),

		ReceiptBaseURL:    getEnv("RECEIPT_BASE_URL", "http://localhost:3000/"),
		RenderTimeout:     getEnvDuration("RENDER_TIMEOUT", 60*time.Second),
		RenderConcurrency: getEnvInt("RENDER_CONCURRENCY", 2),
		BrowserBin:        getEnv("BROWSER_BIN", ""),

		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		SQLitePath:         getEnv("SQLITE_PATH", "data/receipts.db"),
		PostgresDSN:        getEnv("DATABASE_URL", ""),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		DistributedLock: getEnvBool("DISTRIBUTED_LOCK", false),
		ClaimTTL:        getEnvDuration("CLAIM_TTL", 3*time.Minute),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		DedupeTTL: getEnvDuration("DEDUPE_TTL", 10*time.Minute),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),

		AdminUser:         getEnv("ADMIN_USER", "support"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", "receipt-default-dev-secret-change-me"),
		JWTAccessTTL:      getEnvDuration("JWT_ACCESS_TTL", 30*time.Minute),
	}
}

// Validate rejects combinations the process cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.ModelBackend {
	case ModelOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai backend"))
		}
	case ModelGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MODEL_BACKEND %q", c.ModelBackend))
	}

	if c.InterpreterPolicy != "force-accept" && c.InterpreterPolicy != "allow-reject" {
		errs = append(errs, fmt.Errorf("unknown INTERPRETER_POLICY %q", c.InterpreterPolicy))
	}
	if c.RenderTimeout <= 0 {
		errs = append(errs, errors.New("RENDER_TIMEOUT must be positive"))
	}
	if c.RenderConcurrency < 1 {
		errs = append(errs, errors.New("RENDER_CONCURRENCY must be at least 1"))
	}
	if c.DistributedLock && c.ClaimTTL <= 0 {
		errs = append(errs, errors.New("CLAIM_TTL must be positive when DISTRIBUTED_LOCK is on"))
	}

	return errors.Join(errs...)
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
