package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram   TelegramConfig
	Database   DatabaseConfig
	API        APIConfig
	Dispatcher DispatcherConfig
	Risk       RiskConfig
	Storage    string // postgres | memory
	LogLevel   string

	// MaintenanceInterval период сверки позиций и очистки очереди
	MaintenanceInterval time.Duration
}

type TelegramConfig struct {
	BotToken  string
	ChatID    int64
	AdminIDs  string // через запятую; пусто - админы все
	Whitelist string // через запятую; пусто - доступ открыт
	Lang      string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type APIConfig struct {
	Port int
}

// MaxDispatchAttempts верхняя граница DISPATCH_MAX_ATTEMPTS
const MaxDispatchAttempts = 5

// DispatcherConfig настройки исполнения колбэков извлеченных из очереди сигналов.
// MaxAttempts > 1 повторяет только ошибки, помеченные колбэком как "не исполнено";
// неизвестный исход (таймаут, паника, прочие ошибки) не повторяется.
type DispatcherConfig struct {
	Workers      int
	BufferSize   int
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// RiskConfig откуда брать стартовые настройки предохранителей
type RiskConfig struct {
	ProfilePath string
	Profile     string
}

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	workers, err := strconv.Atoi(getEnv("DISPATCH_WORKERS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_WORKERS: %w", err)
	}

	bufferSize, err := strconv.Atoi(getEnv("DISPATCH_BUFFER", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_BUFFER: %w", err)
	}

	dispatchTimeout, err := time.ParseDuration(getEnv("DISPATCH_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT: %w", err)
	}

	maxAttempts, err := strconv.Atoi(getEnv("DISPATCH_MAX_ATTEMPTS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_MAX_ATTEMPTS: %w", err)
	}

	retryBackoff, err := time.ParseDuration(getEnv("DISPATCH_RETRY_BACKOFF", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_RETRY_BACKOFF: %w", err)
	}

	maintenance, err := time.ParseDuration(getEnv("MAINTENANCE_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAINTENANCE_INTERVAL: %w", err)
	}

	config := &Config{
		Telegram: TelegramConfig{
			BotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:    chatID,
			AdminIDs:  getEnv("TELEGRAM_ADMIN_IDS", ""),
			Whitelist: getEnv("TELEGRAM_WHITELIST", ""),
			Lang:      getEnv("TELEGRAM_LANG", "en"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "riskgate"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		API: APIConfig{
			Port: apiPort,
		},
		Dispatcher: DispatcherConfig{
			Workers:      workers,
			BufferSize:   bufferSize,
			Timeout:      dispatchTimeout,
			MaxAttempts:  maxAttempts,
			RetryBackoff: retryBackoff,
		},
		Risk: RiskConfig{
			ProfilePath: getEnv("RISK_PROFILE_PATH", "config/risk_profiles.yaml"),
			Profile:     getEnv("RISK_PROFILE", DefaultProfileName),
		},
		Storage:             getEnv("STORAGE", StoragePostgres),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		MaintenanceInterval: maintenance,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE %q (want %s or %s)", c.Storage, StoragePostgres, StorageMemory)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API_PORT: %d", c.API.Port)
	}
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	if c.Dispatcher.MaxAttempts < 1 || c.Dispatcher.MaxAttempts > MaxDispatchAttempts {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be in [1, %d]", MaxDispatchAttempts)
	}
	return nil
}

// DSN строка подключения к PostgreSQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
