package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"triple-impacto/internal/fiserv"
)

type Config struct {
	Port       string
	APIBaseURL string

	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	FiservURL          string
	FiservStoreID      string
	FiservSharedSecret string
	FiservTimezone     string
	NotifyAllowedCIDRs []string

	BondaAPIURL string
	BondaAPIKey string

	TelegramBotToken    string
	TelegramAlertChatID int64

	LogLevel  string
	LogFormat string

	AffiliateRetryInterval time.Duration
	SnowflakeNode          int64
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Port:       getEnv("PORT", "3000"),
		APIBaseURL: getEnv("API_BASE_URL", ""),

		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "triple_impacto"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		FiservURL:          getEnv("FISERV_CONNECT_URL", ""),
		FiservStoreID:      getEnv("FISERV_CONNECT_STORE_ID_1", ""),
		FiservSharedSecret: getEnv("FISERV_CONNECT_SHARED_SECRET", ""),
		FiservTimezone:     getEnv("FISERV_CONNECT_TIMEZONE", fiserv.DefaultTimezone),
		NotifyAllowedCIDRs: splitList(getEnv("FISERV_NOTIFY_ALLOWED_CIDRS", "")),

		BondaAPIURL: getEnv("BONDA_API_URL", "https://apiv1.cuponstar.com"),
		BondaAPIKey: getEnv("BONDA_API_KEY", ""),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChatID: getEnvInt("TELEGRAM_ALERT_CHAT_ID", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		AffiliateRetryInterval: getEnvDuration("AFFILIATE_RETRY_INTERVAL", time.Minute),
		SnowflakeNode:          getEnvInt("SNOWFLAKE_NODE", 1),
	}
}

// FiservGateway builds the immutable gateway configuration. A nil config
// with a nil error means the gateway is not configured.
func (c *Config) FiservGateway() (*fiserv.Config, error) {
	return fiserv.NewConfig(c.FiservURL, c.FiservStoreID, c.FiservSharedSecret, c.FiservTimezone)
}

// NotificationURL is the default transactionNotificationURL, derived from API_BASE_URL.
func (c *Config) NotificationURL() string {
	if c.APIBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.APIBaseURL, "/") + "/api/payments/fiserv/notification"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
