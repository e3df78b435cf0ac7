package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DevEnv  = "dev"
	TestEnv = "test"
	ProdEnv = "prod"
)

type Config struct {
	Env            string
	Addr           string
	DatabaseURL    string
	DBMaxOpenConns int
	CORSOrigin     string
	// Identity provider
	IdentitySecret string
	IdentityIssuer string
	// Redis carries the revalidation signal; empty disables it.
	RedisURL string
	// Meilisearch
	MeiliURL       string
	MeiliMasterKey string
	// Object storage for uploaded images
	MediaEndpoint  string
	MediaAccessKey string
	MediaSecretKey string
	MediaBucket    string
	MediaPublicURL string
	MediaUseSSL    bool
	// Feed defaults
	FeedPageSize    int
	ThreadDepth     int
	ShutdownTimeout time.Duration
	// Logging
	LogLevel  string
	LogFormat string
}

func Load() Config {
	LoadDotEnvs("")
	return Config{
		Env:            getenv("THREADS_ENV", DevEnv),
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", "sqlite://threads.db"),
		DBMaxOpenConns: getenvInt("DB_MAX_OPEN_CONNS", 20),
		CORSOrigin:     getenv("CORS_ORIGIN", "*"),
		IdentitySecret: getenv("IDENTITY_JWT_SECRET", "threads-dev-secret"),
		IdentityIssuer: getenv("IDENTITY_ISSUER", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MediaEndpoint:  getenv("MEDIA_ENDPOINT", ""),
		MediaAccessKey: getenv("MEDIA_ACCESS_KEY", ""),
		MediaSecretKey: getenv("MEDIA_SECRET_KEY", ""),
		MediaBucket:    getenv("MEDIA_BUCKET", "threads-media"),
		MediaPublicURL: getenv("MEDIA_PUBLIC_URL", ""),
		MediaUseSSL:    getenvBool("MEDIA_USE_SSL", true),
		FeedPageSize:   getenvInt("FEED_PAGE_SIZE", 20),
		// 2 matches the reply depth the web client renders.
		ThreadDepth:     getenvInt("THREAD_DEPTH", 2),
		ShutdownTimeout: time.Duration(getenvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "text"),
	}
}

func (c Config) IsProduction() bool {
	return c.Env == ProdEnv
}

// LoadDotEnvs loads .env files in priority order. Files that do not exist are
// skipped and variables already present in the environment always win.
func LoadDotEnvs(rootPath string) {
	env := os.Getenv("THREADS_ENV")
	if env == "" {
		env = DevEnv
	}

	// .env.[env].local holds secrets and has the highest priority
	_ = godotenv.Load(rootPath + ".env." + env + ".local")
	if env != TestEnv {
		_ = godotenv.Load(rootPath + ".env.local")
	}
	_ = godotenv.Load(rootPath + ".env." + env)
	_ = godotenv.Load(rootPath + ".env")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
