package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Vectorizer
	VectorizerURL              string
	VectorDimension            int
	VectorizerTimeout          time.Duration
	VectorizerRatePerSec       float64
	VectorizerBurst            int
	VectorizerFailureThreshold int
	VectorizerOpenTimeout      time.Duration

	// Recommendation
	ActiveWindow        time.Duration
	RecommendationCount int
	HomeArticleCount    int

	// Interaction
	RecordMaxAttempts        int
	InteractionRetentionDays int

	// Backfill
	BackfillInterval      time.Duration
	BackfillBatchSize     int
	BackfillMaxConcurrent int

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.VectorizerURL = os.Getenv("VECTORIZER_URL")
	if cfg.VectorizerURL == "" {
		missing = append(missing, "VECTORIZER_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.VectorDimension = getEnvInt("VECTOR_DIMENSION", 1024)
	cfg.VectorizerTimeout = getEnvDuration("VECTORIZER_TIMEOUT", 10*time.Second)
	cfg.VectorizerRatePerSec = getEnvFloat64("VECTORIZER_RATE_PER_SEC", 5)
	cfg.VectorizerBurst = getEnvInt("VECTORIZER_BURST", 5)
	cfg.VectorizerFailureThreshold = getEnvInt("VECTORIZER_FAILURE_THRESHOLD", 5)
	cfg.VectorizerOpenTimeout = getEnvDuration("VECTORIZER_OPEN_TIMEOUT", 30*time.Second)
	cfg.ActiveWindow = getEnvDuration("ACTIVE_WINDOW", 7*24*time.Hour)
	cfg.RecommendationCount = getEnvInt("RECOMMENDATION_COUNT", 3)
	cfg.HomeArticleCount = getEnvInt("HOME_ARTICLE_COUNT", 10)
	cfg.RecordMaxAttempts = getEnvInt("RECORD_MAX_ATTEMPTS", 3)
	cfg.InteractionRetentionDays = getEnvInt("INTERACTION_RETENTION_DAYS", 30)
	cfg.BackfillInterval = getEnvDuration("BACKFILL_INTERVAL", 5*time.Minute)
	cfg.BackfillBatchSize = getEnvInt("BACKFILL_BATCH_SIZE", 50)
	cfg.BackfillMaxConcurrent = getEnvInt("BACKFILL_MAX_CONCURRENT", 4)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("VECTOR_DIMENSION must be positive: %d", cfg.VectorDimension)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat64(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
