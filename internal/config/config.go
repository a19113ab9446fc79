package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	// WhatsApp Cloud API
	WhatsAppVerifyToken       string
	WhatsAppAppSecret         string
	WhatsAppStrictSignatures  bool
	WhatsAppAccessToken       string
	WhatsAppPhoneNumberID     string
	WhatsAppBusinessNumber    string
	WhatsAppGraphAPIBase      string
	WhatsAppMaxWebhookBodyKiB int

	DefaultCountryPrefix string
	DefaultLeadName      string
	CallTimeout          time.Duration
	RecentBufferSize     int

	// Reply generation
	ReplyProvider     string
	ReplyFallbackText string
	ReplyContextTurns int
	GeminiAPIKey      string
	GeminiModelID     string
	BedrockModelID    string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Async webhook delivery
	WebhookAsync    bool
	WebhookQueueURL string
	UseMemoryQueue  bool
	WorkerCount     int

	// Read API
	ReadAPIJWTSecret   string
	ReadAPIRate        float64
	ReadAPIBurst       int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		WhatsAppVerifyToken:       getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:         getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppStrictSignatures:  getEnvAsBool("WHATSAPP_STRICT_SIGNATURES", false),
		WhatsAppAccessToken:       getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID:     getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppBusinessNumber:    getEnv("WHATSAPP_BUSINESS_NUMBER", ""),
		WhatsAppGraphAPIBase:      getEnv("WHATSAPP_GRAPH_API_BASE", "https://graph.facebook.com/v18.0"),
		WhatsAppMaxWebhookBodyKiB: getEnvAsInt("WHATSAPP_MAX_WEBHOOK_BODY_KIB", 1024),

		DefaultCountryPrefix: getEnv("DEFAULT_COUNTRY_PREFIX", "91"),
		DefaultLeadName:      getEnv("DEFAULT_LEAD_NAME", "Unknown"),
		CallTimeout:          getEnvAsDuration("CALL_TIMEOUT", 10*time.Second),
		RecentBufferSize:     getEnvAsInt("RECENT_BUFFER_SIZE", 100),

		ReplyProvider:     strings.ToLower(strings.TrimSpace(getEnv("REPLY_PROVIDER", "gemini"))),
		ReplyFallbackText: getEnv("REPLY_FALLBACK_TEXT", "Thank you for your message. An agent will respond soon."),
		ReplyContextTurns: getEnvAsInt("REPLY_CONTEXT_TURNS", 5),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", "gemini-2.5-pro"),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		WebhookAsync:    getEnvAsBool("WEBHOOK_ASYNC", false),
		WebhookQueueURL: getEnv("WEBHOOK_QUEUE_URL", ""),
		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),

		ReadAPIJWTSecret:   getEnv("READ_API_JWT_SECRET", ""),
		ReadAPIRate:        getEnvAsFloat("READ_API_RATE", 20),
		ReadAPIBurst:       getEnvAsInt("READ_API_BURST", 40),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// Validate reports configuration combinations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.WhatsAppStrictSignatures && strings.TrimSpace(c.WhatsAppAppSecret) == "" {
		errs = append(errs, errors.New("config: WHATSAPP_STRICT_SIGNATURES requires WHATSAPP_APP_SECRET"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("config: CALL_TIMEOUT must be positive"))
	}
	if c.RecentBufferSize <= 0 {
		errs = append(errs, errors.New("config: RECENT_BUFFER_SIZE must be positive"))
	}
	switch c.ReplyProvider {
	case "gemini", "bedrock", "static":
	default:
		errs = append(errs, errors.New("config: REPLY_PROVIDER must be gemini, bedrock or static"))
	}
	return errors.Join(errs...)
}

// UsesSQS reports whether async webhook delivery goes through SQS rather than the in-process queue.
func (c *Config) UsesSQS() bool {
	return c.WebhookAsync && !c.UseMemoryQueue && strings.TrimSpace(c.WebhookQueueURL) != ""
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
