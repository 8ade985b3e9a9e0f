package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
	EventBus EventBusConfig
	Limits   LimitsConfig
	Storage  StorageConfig
	Database DatabaseConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type WorkerConfig struct {
	ExtractionPoolSize     int
	ReconciliationPoolSize int
	MaxRetries             int
}

type LoggingConfig struct {
	Level string
}

type EventBusConfig struct {
	ChannelBufferSize int
}

// LimitsConfig carries the pipeline's tunable policy knobs.
type LimitsConfig struct {
	// MaxFileSize caps declared upload sizes. Default 100 MB.
	MaxFileSize int64
	// SizeTolerance is how far the actual uploaded size may diverge from
	// the declared size, in bytes.
	SizeTolerance int64
	// QualityThreshold is the fraction of rows allowed to fail canonical
	// parsing before the whole extraction is aborted.
	QualityThreshold float64
	// AmountTolerance is the maximum absolute amount difference for the
	// similarity matching pass, in the transaction's currency unit.
	AmountTolerance string
	// BatchSize is how many transactions are persisted per write; also the
	// granularity at which cancellation is observed.
	BatchSize int
	// ChunkSize is the byte-range size for storage reads.
	ChunkSize int64
	// StorageRetryAttempts bounds retries of transient storage failures.
	StorageRetryAttempts  int
	ExtractionTimeout     time.Duration
	ReconciliationTimeout time.Duration
	PresignTTL            time.Duration
}

// StorageConfig selects the object store backend: "s3" (or MinIO via
// endpoint override) or "local" for development.
type StorageConfig struct {
	Backend  string
	LocalDir string
	Bucket   string
	Region   string
	Endpoint string
}

// DatabaseConfig selects the relational store. An empty DSN falls back to
// the in-memory store (development only).
type DatabaseConfig struct {
	DSN string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			ExtractionPoolSize:     getIntEnv("EXTRACTION_POOL_SIZE", 8),
			ReconciliationPoolSize: getIntEnv("RECONCILIATION_POOL_SIZE", 4),
			MaxRetries:             getIntEnv("MAX_RETRIES", 5),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		EventBus: EventBusConfig{
			ChannelBufferSize: getIntEnv("EVENT_CHANNEL_BUFFER_SIZE", 1000),
		},
		Limits: LimitsConfig{
			MaxFileSize:           getInt64Env("MAX_FILE_SIZE_BYTES", 100<<20),
			SizeTolerance:         getInt64Env("SIZE_TOLERANCE_BYTES", 1024),
			QualityThreshold:      getFloatEnv("QUALITY_THRESHOLD", 0.10),
			AmountTolerance:       getEnv("AMOUNT_TOLERANCE", "0.01"),
			BatchSize:             getIntEnv("EXTRACTION_BATCH_SIZE", 500),
			ChunkSize:             getInt64Env("STORAGE_CHUNK_SIZE", 64<<10),
			StorageRetryAttempts:  getIntEnv("STORAGE_RETRY_ATTEMPTS", 3),
			ExtractionTimeout:     getDurationEnv("EXTRACTION_TIMEOUT", 10*time.Minute),
			ReconciliationTimeout: getDurationEnv("RECONCILIATION_TIMEOUT", 5*time.Minute),
			PresignTTL:            getDurationEnv("PRESIGN_TTL", 15*time.Minute),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "local"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "./data/uploads"),
			Bucket:   getEnv("STORAGE_BUCKET", ""),
			Region:   getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint: getEnv("STORAGE_ENDPOINT", ""),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getInt64Env(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getFloatEnv(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %f", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}
