// Package config loads TaskIt's runtime configuration from environment
// variables, with optional .env file support layered on top the way the
// original monorepo's config package does.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the backend and frontend command
// entrypoints.
type Config struct {
	Host        string
	Port        int
	AdminPort   int
	DataSize    int
	EndResp     time.Duration
	DialTimeout time.Duration

	AuditDriver string // "none", "sqlite", "postgres"
	AuditDSN    string

	ErrorCacheSize int

	Backends []string // frontend only: bare host or host:port entries
}

// Load reads environment variables (after layering any .env files found
// in the working directory) into a Config, applying TaskIt's defaults
// for anything unset.
func Load() *Config {
	loadEnvironmentConfig()

	return &Config{
		Host:           getEnv("TASKIT_HOST", "127.0.0.1"),
		Port:           getEnvInt("TASKIT_PORT", 54543),
		AdminPort:      getEnvInt("TASKIT_ADMIN_PORT", 8090),
		DataSize:       getEnvInt("TASKIT_DATA_SIZE", 2048),
		EndResp:        getEnvDuration("TASKIT_END_RESP", 500*time.Millisecond),
		DialTimeout:    getEnvDuration("TASKIT_DIAL_TIMEOUT", 10*time.Second),
		AuditDriver:    getEnv("TASKIT_AUDIT_DRIVER", "none"),
		AuditDSN:       getEnv("TASKIT_AUDIT_DSN", ""),
		ErrorCacheSize: getEnvInt("TASKIT_ERROR_CACHE_SIZE", 256),
		Backends:       getEnvSlice("TASKIT_BACKENDS", nil),
	}
}

// loadEnvironmentConfig layers .env, then a tier-style
// .env.<TASKIT_ENV> override, matching the reference monorepo's
// precedence order without its unrelated network-tier concepts.
func loadEnvironmentConfig() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}

	if env := getEnv("TASKIT_ENV", ""); env != "" {
		envFile := ".env." + strings.ToLower(env)
		if err := godotenv.Overload(envFile); err == nil {
			log.Printf("config: loaded environment override %s", envFile)
		}
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
