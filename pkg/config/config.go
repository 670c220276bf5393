// Package config loads node configuration from environment variables, with an
// optional YAML profile for settings too structured for the environment.
package config

import "os"

// Config holds node configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	// StoreBackend selects the message/event persistence: "sqlite", "postgres",
	// or "memory".
	StoreBackend string
	// DataBackend selects payload storage: "memory", "s3", or "gcs".
	DataBackend string
	DataBucket  string
	DataPrefix  string
	// RedisURL enables cross-node event fan-out when set.
	RedisURL string
	// ProfilePath points at an optional YAML node profile.
	ProfilePath string
	// OpenTenancy serves any tenant DID; otherwise only provisioned ones.
	OpenTenancy bool
	RateRPS     int
	RateBurst   int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:  getenv("DATABASE_URL", "file:hubnode.db"),
		StoreBackend: getenv("STORE_BACKEND", "sqlite"),
		DataBackend:  getenv("DATA_BACKEND", "memory"),
		DataBucket:   os.Getenv("DATA_BUCKET"),
		DataPrefix:   getenv("DATA_PREFIX", "hubnode"),
		RedisURL:     os.Getenv("REDIS_URL"),
		ProfilePath:  os.Getenv("PROFILE_PATH"),
		OpenTenancy:  os.Getenv("OPEN_TENANCY") != "false",
		RateRPS:      intenv("RATE_RPS", 50),
		RateBurst:    intenv("RATE_BURST", 100),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intenv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
