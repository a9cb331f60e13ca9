package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreFirebase = "firebase"
)

type Config struct {
	// Session defaults; the persisted identity and broker win when these are empty
	DeviceID string
	Broker   string

	// MQTT transport
	MQTTScheme          string
	MQTTPort            int
	MQTTPath            string
	MQTTUsername        string
	MQTTPassword        string
	MQTTReconnectPeriod time.Duration

	// Persistence
	StoreBackend               string
	SQLitePath                 string
	RedisURL                   string
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Event relay
	RabbitMQURL      string
	RabbitMQExchange string

	// Telemetry watchdog, zero disables it
	WatchdogTimeout time.Duration

	LogLevel  string
	LogOutput string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		DeviceID: getEnv("DEVICE_ID", ""),
		Broker:   getEnv("MQTT_BROKER", ""),

		MQTTScheme:          getEnv("MQTT_SCHEME", "wss"),
		MQTTPort:            getEnvInt("MQTT_PORT", 8084),
		MQTTPath:            getEnv("MQTT_PATH", "/mqtt"),
		MQTTUsername:        getEnv("MQTT_USERNAME", ""),
		MQTTPassword:        getEnv("MQTT_PASSWORD", ""),
		MQTTReconnectPeriod: time.Duration(getEnvInt("MQTT_RECONNECT_PERIOD_MS", 5000)) * time.Millisecond,

		StoreBackend:               strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		SQLitePath:                 getEnv("SQLITE_PATH", "barleybox.db"),
		RedisURL:                   getEnv("REDIS_URL", "redis://localhost:6379/0"),
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "barleybox.events"),

		WatchdogTimeout: time.Duration(getEnvInt("WATCHDOG_TIMEOUT_SECONDS", 0)) * time.Second,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings that would otherwise fail late
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreSQLite, StoreRedis:
	case StoreFirebase:
		if c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "" {
			return fmt.Errorf("store backend %q requires FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("invalid MQTT_PORT %d", c.MQTTPort)
	}
	if c.MQTTReconnectPeriod <= 0 {
		return fmt.Errorf("MQTT_RECONNECT_PERIOD_MS must be positive")
	}
	return nil
}

// TelegramEnabled reports whether warning notifications are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// RelayEnabled reports whether the RabbitMQ event relay is configured
func (c *Config) RelayEnabled() bool {
	return c.RabbitMQURL != ""
}

// Fields returns the configuration for logging, with secrets masked
func (c *Config) Fields() map[string]any {
	return map[string]any{
		"device_id":             c.DeviceID,
		"broker":                c.Broker,
		"mqtt_scheme":           c.MQTTScheme,
		"mqtt_port":             c.MQTTPort,
		"mqtt_path":             c.MQTTPath,
		"mqtt_username":         c.MQTTUsername,
		"mqtt_password":         mask(c.MQTTPassword),
		"mqtt_reconnect_period": c.MQTTReconnectPeriod.String(),
		"store_backend":         c.StoreBackend,
		"sqlite_path":           c.SQLitePath,
		"redis_url":             mask(c.RedisURL),
		"firebase_db_url":       c.FirebaseDbUrl,
		"firebase_credentials":  mask(c.FirebaseServiceAccountJSON),
		"telegram_bot_token":    mask(c.TelegramBotToken),
		"telegram_chat_id":      c.TelegramChatID,
		"rabbitmq_url":          mask(c.RabbitMQURL),
		"rabbitmq_exchange":     c.RabbitMQExchange,
		"watchdog_timeout":      c.WatchdogTimeout.String(),
		"log_level":             c.LogLevel,
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
