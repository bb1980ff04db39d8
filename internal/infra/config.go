package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	JWTSecret        string
	AllowedOrigins   []string
	MaxUploadBytes   int64

	// Durable blob store. Driver is "filesystem" or "s3".
	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3PublicURL    string
	S3UsePathStyle bool

	// Temp resource cache. Driver is "memory" or "redis".
	TempCacheDriver string
	TempCachePath   string
	TempCacheTTL    time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Generation pipeline.
	ImageProvider     string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	OpenAIAPIKey      string
	OpenAIImageModel  string
	OpenAIBaseURL     string
	TokenCostPerImage int
	GenCallsPerMinute int
	WorkerCount       int
	GenRetryBackoff   time.Duration
	JobBackoffBase    time.Duration
	GenRequestTimeout time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedOrigins:   splitList(os.Getenv("ALLOWED_ORIGINS")),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		StorageDriver:  getEnv("STORAGE_DRIVER", "filesystem"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Region:       os.Getenv("S3_REGION"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3PublicURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),

		TempCacheDriver: getEnv("TEMPCACHE_DRIVER", "memory"),
		TempCachePath:   getEnv("TEMPCACHE_PATH", "./tempcache"),
		TempCacheTTL:    time.Second * time.Duration(getEnvInt("TEMPCACHE_TTL_SECONDS", 300)),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),

		ImageProvider:     getEnv("IMAGE_PROVIDER", "gemini"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIImageModel:  getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		TokenCostPerImage: getEnvInt("TOKEN_COST_PER_IMAGE", 100),
		GenCallsPerMinute: getEnvInt("GEN_CALLS_PER_MINUTE", 15),
		WorkerCount:       getEnvInt("WORKER_COUNT", 4),
		GenRetryBackoff:   time.Second * time.Duration(getEnvInt("GEN_RETRY_BACKOFF_SECONDS", 2)),
		JobBackoffBase:    time.Second * time.Duration(getEnvInt("JOB_BACKOFF_BASE_SECONDS", 30)),
		GenRequestTimeout: time.Second * time.Duration(getEnvInt("GEN_REQUEST_TIMEOUT_SECONDS", 120)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.StorageDriver == "s3" && (cfg.S3Bucket == "" || cfg.S3Region == "") {
		return nil, fmt.Errorf("S3_BUCKET and S3_REGION are required for the s3 storage driver")
	}

	return cfg, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
