package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config carries every knob the datafeed consumes. It is built once in main
// and passed explicitly to constructors; there is no package-level state.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Storage backend: "postgres" (default) or "mongo"
	StorageBackend string
	MongoURI       string
	MongoDatabase  string

	// Optional live-price snapshot cache; disabled when empty
	RedisAddr     string
	RedisPassword string

	Environment string
	LogLevel    string

	// Provider
	AlphaVantageKey     string
	AlphaVantageBaseURL string
	TrendsBaseURL       string
	RateLimitPerMinute  int

	// Sync policy
	RefreshInterval    time.Duration // outer scheduler cadence between passes
	LiveUpdateInterval time.Duration
	WorkerThreads      int
	MaxRetries         int
	ErrorWaitTime      time.Duration

	// Development cap on how many equities get seeded
	LimitAssets         bool
	LimitAssetsQuantity int
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "fam_db"),

		StorageBackend: getEnv("STORAGE_BACKEND", "postgres"),
		MongoURI:       getEnv("MONGODB_URI", ""),
		MongoDatabase:  getEnv("MONGODB_DATABASE", "fam"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		AlphaVantageKey:     getEnv("ALPHAVANTAGE_API_KEY", ""),
		AlphaVantageBaseURL: getEnv("ALPHAVANTAGE_BASE_URL", "https://www.alphavantage.co"),
		TrendsBaseURL:       getEnv("TRENDS_BASE_URL", "https://trends.google.com"),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		RefreshInterval:    getEnvSeconds("REFRESH_INTERVAL", 600),
		LiveUpdateInterval: getEnvSeconds("LIVE_UPDATE_INTERVAL", 300),
		WorkerThreads:      getEnvInt("WORKER_THREADS", 5),
		MaxRetries:         getEnvInt("MAX_RETRIES", 5),
		ErrorWaitTime:      getEnvSeconds("ERROR_WAIT_TIME", 10),

		LimitAssets:         getEnvBool("LIMIT_ASSETS", false),
		LimitAssetsQuantity: getEnvInt("LIMIT_ASSETS_QUANTITY", 100),
	}

	return cfg, nil
}

// InitDB initializes the primary database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(cfg.DBHost),
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}
