// Package config loads process configuration from the environment and
// comparison options from files.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// External tools
	CompareExe  string
	DistanceExe string

	// MaxParallel caps concurrent compareMS2 processes; 0 uses the CPU count.
	MaxParallel int

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string
	// PersistSessions enables SurrealDB session persistence in the server.
	PersistSessions bool

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Server
	ServerPort string

	// Client
	ServerURL     string
	ClientTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		CompareExe:  getEnv("COMPMS2_COMPARE_EXE", defaultExe("compareMS2")),
		DistanceExe: getEnv("COMPMS2_DISTANCE_EXE", defaultExe("compareMS2_to_distance_matrices")),
		MaxParallel: getEnvInt("COMPMS2_MAX_PARALLEL", 0),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "compms2"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "sessions"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),
		PersistSessions:    getEnv("COMPMS2_PERSIST", "false") == "true",

		LogFile:  getEnv("COMPMS2_LOG_FILE", filepath.Join(os.TempDir(), "compms2.log")),
		LogLevel: parseLogLevel(getEnv("COMPMS2_LOG_LEVEL", "INFO")),

		ServerPort: getEnv("COMPMS2_SERVER_PORT", "8484"),

		ServerURL:     getEnv("COMPMS2_SERVER_URL", "http://localhost:8484"),
		ClientTimeout: getEnvDuration("COMPMS2_CLIENT_TIMEOUT", 30*time.Second),
	}
}

// defaultExe names a tool binary, with the platform's executable suffix.
func defaultExe(name string) string {
	if filepath.Separator == '\\' {
		return name + ".exe"
	}
	return name
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
