package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"triage_server/pkg/apperr"
)

// Run modes accepted by Validate.
const (
	ModeServe   = "serve"
	ModeListen  = "listen"
	ModeWatch   = "watch"
	ModeUnwatch = "unwatch"
)

// Intake modes for serve.
const (
	IntakeDirect = "direct"
	IntakeQueued = "queued"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "triage"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	// Gmail
	GmailCredentialsFile string
	GmailTokenFile       string
	GmailUserID          string
	GmailWatchLabelID    string
	GmailPubSubTopic     string

	// Pub/Sub
	GoogleProjectID       string
	PubSubSubscription    string
	PubSubCredentialsFile string
	PubSubMaxOutstanding  int

	// LLM
	OpenAIAPIKey           string
	LLMBaseURL             string
	LLMClassificationModel string
	LLMGenerationModel     string
	LLMMaxRetries          int
	LLMRetryBaseDelay      time.Duration
	LLMRetryMultiplier     float64
	LLMTimeout             time.Duration
	LLMTemperature         float64
	ReplyLanguage          string
	EscalateOnReplyFailure bool

	// eBay
	EbayClientID      string
	EbayClientSecret  string
	EbayEnvironment   string
	EbayMarketplaceID string
	EbayResultLimit   int

	// Telegram
	TelegramBotToken string
	TelegramChatID   int64

	// Redis
	RedisURL       string
	StreamName     string
	StreamGroup    string
	MessageLockTTL time.Duration

	// Worker
	WorkerID    string
	WorkerCount int

	// Consumer
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int
	ConsumerMinIdleSec      int

	// Push intake
	IntakeMode         string
	PushAudience       string
	PushServiceAccount string
	PushAuthDisabled   bool

	// Watch
	WatchRenewInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		// Gmail
		GmailCredentialsFile: getEnv("GMAIL_CREDENTIALS_FILE", "credentials.json"),
		GmailTokenFile:       getEnv("GMAIL_TOKEN_FILE", "token.json"),
		GmailUserID:          getEnv("GMAIL_USER_ID", "me"),
		GmailWatchLabelID:    getEnv("GMAIL_WATCH_LABEL_ID", ""),
		GmailPubSubTopic:     getEnv("GMAIL_PUBSUB_TOPIC", ""),

		// Pub/Sub
		GoogleProjectID:       getEnv("GOOGLE_PROJECT_ID", ""),
		PubSubSubscription:    getEnv("PUBSUB_SUBSCRIPTION", ""),
		PubSubCredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
		PubSubMaxOutstanding:  getEnvInt("PUBSUB_MAX_OUTSTANDING", 4),

		// LLM
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		LLMBaseURL:             getEnv("LLM_BASE_URL", ""),
		LLMClassificationModel: getEnv("LLM_CLASSIFICATION_MODEL", "gpt-4o-mini"),
		LLMGenerationModel:     getEnv("LLM_GENERATION_MODEL", "gpt-4o-mini"),
		LLMMaxRetries:          getEnvInt("LLM_MAX_RETRIES", 3),
		LLMRetryBaseDelay:      time.Duration(getEnvInt("LLM_RETRY_BASE_DELAY_SEC", 5)) * time.Second,
		LLMRetryMultiplier:     getEnvFloat("LLM_RETRY_MULTIPLIER", 2),
		LLMTimeout:             time.Duration(getEnvInt("LLM_TIMEOUT_SEC", 60)) * time.Second,
		LLMTemperature:         getEnvFloat("LLM_TEMPERATURE", 0.2),
		ReplyLanguage:          getEnv("REPLY_LANGUAGE", "English"),
		EscalateOnReplyFailure: getEnvBool("ESCALATE_ON_REPLY_FAILURE", false),

		// eBay
		EbayClientID:      getEnv("EBAY_CLIENT_ID", ""),
		EbayClientSecret:  getEnv("EBAY_CLIENT_SECRET", ""),
		EbayEnvironment:   strings.ToLower(getEnv("EBAY_ENVIRONMENT", "sandbox")),
		EbayMarketplaceID: getEnv("EBAY_MARKETPLACE_ID", "EBAY_US"),
		EbayResultLimit:   getEnvInt("EBAY_RESULT_LIMIT", 50),

		// Telegram
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnvInt64("TELEGRAM_CHAT_ID", 0),

		// Redis
		RedisURL:       getEnv("REDIS_URL", ""),
		StreamName:     getEnv("STREAM_NAME", "triage:notifications"),
		StreamGroup:    getEnv("STREAM_GROUP", "triage-workers"),
		MessageLockTTL: time.Duration(getEnvInt("MESSAGE_LOCK_TTL_SEC", 300)) * time.Second,

		// Worker
		WorkerID:    getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount: getEnvInt("WORKER_COUNT", 4),

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),
		ConsumerMinIdleSec:      getEnvInt("CONSUMER_MIN_IDLE_SEC", 300),

		// Push intake
		IntakeMode:         strings.ToLower(getEnv("INTAKE_MODE", IntakeDirect)),
		PushAudience:       getEnv("PUSH_AUDIENCE", ""),
		PushServiceAccount: getEnv("PUSH_SERVICE_ACCOUNT", ""),
		PushAuthDisabled:   getEnvBool("PUSH_AUTH_DISABLED", false),

		// Watch
		WatchRenewInterval: time.Duration(getEnvInt("WATCH_RENEW_INTERVAL_HOUR", 24)) * time.Hour,
	}

	return cfg, nil
}

// Validate checks that every value the given run mode needs is present.
// A failure is a CONFIG_ERROR and is meant to stop the process at startup.
func (c *Config) Validate(mode string) error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	require("GMAIL_CREDENTIALS_FILE", c.GmailCredentialsFile)
	require("GMAIL_TOKEN_FILE", c.GmailTokenFile)

	switch mode {
	case ModeServe, ModeListen:
		require("OPENAI_API_KEY", c.OpenAIAPIKey)
		require("EBAY_CLIENT_ID", c.EbayClientID)
		require("EBAY_CLIENT_SECRET", c.EbayClientSecret)
		require("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
		if c.TelegramChatID == 0 {
			missing = append(missing, "TELEGRAM_CHAT_ID")
		}
		if mode == ModeListen {
			require("GOOGLE_PROJECT_ID", c.GoogleProjectID)
			require("PUBSUB_SUBSCRIPTION", c.PubSubSubscription)
		}
		if mode == ModeServe {
			if c.IntakeMode == IntakeQueued {
				require("REDIS_URL", c.RedisURL)
			}
			if !c.PushAuthDisabled {
				require("PUSH_AUDIENCE", c.PushAudience)
			}
		}
	case ModeWatch:
		require("GMAIL_PUBSUB_TOPIC", c.GmailPubSubTopic)
	case ModeUnwatch:
	default:
		return apperr.ConfigError(fmt.Sprintf("unknown run mode %q", mode))
	}

	if len(missing) > 0 {
		return apperr.ConfigError("missing required configuration").
			WithDetail("keys", strings.Join(missing, ","))
	}

	if c.EbayEnvironment != "sandbox" && c.EbayEnvironment != "production" {
		return apperr.ConfigError(fmt.Sprintf("EBAY_ENVIRONMENT must be sandbox or production, got %q", c.EbayEnvironment))
	}
	if c.IntakeMode != IntakeDirect && c.IntakeMode != IntakeQueued {
		return apperr.ConfigError(fmt.Sprintf("INTAKE_MODE must be direct or queued, got %q", c.IntakeMode))
	}
	if c.LLMMaxRetries < 1 {
		return apperr.ConfigError("LLM_MAX_RETRIES must be at least 1")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
