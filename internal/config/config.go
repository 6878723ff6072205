package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// HTTP surface
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Storage. An empty DatabaseURL keeps records in memory; an empty
	// RedisAddr keeps sessions, history and locks in process.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	StoreTimeout  time.Duration
	SessionTTL    time.Duration

	// Conversation
	TurnTimeout   time.Duration
	HistoryWindow int

	// Scheduling rules; a policy file overrides these.
	ClinicName           string
	ClinicTimezone       string
	ClinicOpenDays       string
	ClinicOpenTime       string
	ClinicCloseTime      string
	BookingMinNotice     time.Duration
	BookingHorizonMonths int
	BookingSlotCapacity  int
	BookingSlotInterval  time.Duration
	BookingStrictInput   bool
	PolicyFile           string

	// Notifications
	NotifyEmail       string
	NotifyTimeout     time.Duration
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Language inference
	LLMProvider         string
	LLMFallbackProvider string
	GeminiAPIKey        string
	GeminiModel         string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	BedrockModelID      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		StoreTimeout:  getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		TurnTimeout:   getEnvAsDuration("TURN_TIMEOUT", 30*time.Second),
		HistoryWindow: getEnvAsInt("HISTORY_WINDOW", 20),

		ClinicName:           getEnv("CLINIC_NAME", "Bright Smiles Dental"),
		ClinicTimezone:       getEnv("CLINIC_TIMEZONE", "UTC"),
		ClinicOpenDays:       getEnv("CLINIC_OPEN_DAYS", "mon-fri"),
		ClinicOpenTime:       getEnv("CLINIC_OPEN_TIME", "09:00"),
		ClinicCloseTime:      getEnv("CLINIC_CLOSE_TIME", "17:00"),
		BookingMinNotice:     getEnvAsDuration("BOOKING_MIN_NOTICE", 0),
		BookingHorizonMonths: getEnvAsInt("BOOKING_HORIZON_MONTHS", 0),
		BookingSlotCapacity:  getEnvAsInt("BOOKING_SLOT_CAPACITY", 1),
		BookingSlotInterval:  getEnvAsDuration("BOOKING_SLOT_INTERVAL", 30*time.Minute),
		BookingStrictInput:   getEnvAsBool("BOOKING_STRICT_INPUT", true),
		PolicyFile:           getEnv("POLICY_FILE", ""),

		NotifyEmail:       getEnv("NOTIFY_EMAIL", ""),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Front Desk"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "auto"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
