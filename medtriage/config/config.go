package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	JWTSecret  string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string

	LLMBaseURL        string
	LLMModel          string
	VisionBaseURL     string
	SeverityBaseURL   string
	KnowledgeBaseURL  string
	FacilitiesBaseURL string

	VocabularyPath string

	// Heuristic thresholds. Defaults match the values the workflows were
	// tuned with; override per deployment.
	ImageConfidenceThreshold float64
	VectorMatchThreshold     float64
	KeywordDensityThreshold  float64

	ContextWindowMessages int

	StreamRateCeiling   int
	StreamIdleTimeout   time.Duration
	StreamSweepInterval time.Duration
}

func LoadConfig() Config {
	// No .env file is fine; fall through to the system environment.
	_ = godotenv.Load()

	return Config{
		Addr:       getEnv("ADDR", ":8000"),
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", ""),
		DBName:     getEnv("DB_NAME", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "triage-images"),

		LLMBaseURL:        getEnv("LLM_BASE_URL", "http://localhost:11434/api"),
		LLMModel:          getEnv("LLM_MODEL", "llama3:8b"),
		VisionBaseURL:     getEnv("VISION_BASE_URL", "http://localhost:8100"),
		SeverityBaseURL:   getEnv("SEVERITY_BASE_URL", "http://localhost:8101"),
		KnowledgeBaseURL:  getEnv("KNOWLEDGE_BASE_URL", "http://localhost:8102"),
		FacilitiesBaseURL: getEnv("FACILITIES_BASE_URL", "http://localhost:8103"),

		VocabularyPath: getEnv("VOCABULARY_PATH", ""),

		ImageConfidenceThreshold: getEnvFloat("IMAGE_CONFIDENCE_THRESHOLD", 0.5),
		VectorMatchThreshold:     getEnvFloat("VECTOR_MATCH_THRESHOLD", 0.3),
		KeywordDensityThreshold:  getEnvFloat("KEYWORD_DENSITY_THRESHOLD", 0.2),

		ContextWindowMessages: getEnvInt("CONTEXT_WINDOW_MESSAGES", 10),

		StreamRateCeiling:   getEnvInt("STREAM_RATE_CEILING", 100),
		StreamIdleTimeout:   getEnvDuration("STREAM_IDLE_TIMEOUT", 30*time.Minute),
		StreamSweepInterval: getEnvDuration("STREAM_SWEEP_INTERVAL", time.Minute),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
