package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	LocalDBPath string
	CORSOrigin  string
	// Cloud mode backends. Empty DatabaseURL disables cloud mode entirely.
	DatabaseURL   string
	RedisURL      string
	RemoteTimeout time.Duration
	// Owner used when requests carry no identity header. Identity itself
	// is delegated to an external provider.
	DefaultOwner string
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Durable-write coalescing window for high-frequency saves.
	SaveDebounce time.Duration
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8686"),
		LocalDBPath:    getenv("TASKMARK_DB_PATH", "./data/taskmark.db"),
		CORSOrigin:     getenv("TASKMARK_CORS_ORIGIN", "*"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		RemoteTimeout:  time.Duration(getenvInt("TASKMARK_REMOTE_TIMEOUT_SECONDS", 15)) * time.Second,
		DefaultOwner:   getenv("TASKMARK_DEFAULT_OWNER", "local"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		SaveDebounce:   time.Duration(getenvInt("TASKMARK_SAVE_DEBOUNCE_MS", 100)) * time.Millisecond,
	}
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
