package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CredentialKey is the canonical variable holding the upstream API key.
const CredentialKey = "GENERATIVE_API_KEY"

// MaxGeminiTimeout caps GEMINI_TIMEOUT.
const MaxGeminiTimeout = 60 * time.Second

// credentialAliases are accepted for older deployments and resolved once at startup.
var credentialAliases = []string{"GEMINI_API_KEY", "VITE_GEMINI_API_KEY"}

type Config struct {
	// Server
	Port string
	Env  string

	// Gemini AI
	GeminiAPIKey         string
	CredentialSource     string
	GeminiModel          string
	GeminiBaseURL        string
	GeminiAPIVersion     string
	GeminiTimeout        time.Duration
	GeminiRequestsPerMin int
	GeminiConcurrentReqs int

	// Inbound throttling
	RateLimitPerMin int
	RedisURL        string

	// Audit
	AuditDSN           string
	AuditRetentionDays int
	AuditPurgeSchedule string

	// Logging / telemetry
	LogLevel    string
	LogFile     string
	LogDir      string
	OTELEnabled bool

	// Frontend
	FrontendURL string
}

// Load reads the process environment (and a .env file if present). A missing
// credential is not fatal here: the generate handler reports it per request.
func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	apiKey, source := resolveAlias(CredentialKey, credentialAliases...)

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "4000"),
		Env:                  getEnvOrDefault("ENV", "development"),
		GeminiAPIKey:         apiKey,
		CredentialSource:     source,
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:        strings.TrimRight(getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
		GeminiAPIVersion:     getEnvOrDefault("GEMINI_API_VERSION", "v1beta"),
		GeminiTimeout:        getEnvAsDurationOrDefault("GEMINI_TIMEOUT", 30*time.Second),
		GeminiRequestsPerMin: getEnvAsIntOrDefault("GEMINI_REQUESTS_PER_MINUTE", 60),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		RateLimitPerMin:      getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		AuditDSN:             getEnvOrDefault("AUDIT_DSN", ""),
		AuditRetentionDays:   getEnvAsIntOrDefault("AUDIT_RETENTION_DAYS", 30),
		AuditPurgeSchedule:   getEnvOrDefault("AUDIT_PURGE_SCHEDULE", "@daily"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:              getEnvOrDefault("LOG_FILE", ""),
		LogDir:               getEnvOrDefault("LOG_DIR", "logs"),
		OTELEnabled:          getEnvAsBoolOrDefault("OTEL_ENABLED", false),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.GeminiConcurrentReqs < 1 {
		cfg.GeminiConcurrentReqs = 1
	}
	if cfg.GeminiTimeout > MaxGeminiTimeout {
		cfg.GeminiTimeout = MaxGeminiTimeout
	}

	return cfg
}

// HasCredential reports whether an upstream key was configured.
func (c *Config) HasCredential() bool {
	return c.GeminiAPIKey != ""
}

// LogDeprecations warns once when the credential came from an alias. Call it
// after logging is set up; it names the variable, never its value.
func (c *Config) LogDeprecations(logger *slog.Logger) {
	if c.CredentialSource != "" && c.CredentialSource != CredentialKey {
		logger.Warn("deprecated environment variable in use",
			"variable", c.CredentialSource, "replacement", CredentialKey)
	}
}

// resolveAlias returns the value of key, falling back to the first set alias,
// along with the variable it was read from.
func resolveAlias(key string, aliases ...string) (string, string) {
	if val := os.Getenv(key); val != "" {
		return val, key
	}
	for _, alias := range aliases {
		if val := os.Getenv(alias); val != "" {
			return val, alias
		}
	}
	return "", ""
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("45s") or bare seconds ("45").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
