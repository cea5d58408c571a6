package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig is the logger configuration read from the process environment.
// It extends Config with environment selection, file output, and rotation.
type EnvConfig struct {
	Level       string    // LOG_LEVEL: debug, info, warn, error
	Format      string    // LOG_FORMAT: json, text
	Output      io.Writer // explicit destination, overrides everything below
	ServiceName string    // SERVICE_NAME, tagged onto every entry

	// Environment selects the output layout: "local" logs to stdout only,
	// anything else adds the rotating log file.
	Environment string // APP_ENV: local, dev, prod

	LogFile     string // LOG_FILE: rotating log file path
	LogFileOnly bool   // LOG_FILE_ONLY: suppress stdout in non-local environments

	MaxSize    int  // LOG_MAX_SIZE: max file size in MB before rotation
	MaxBackups int  // LOG_MAX_BACKUPS: rotated files to keep
	MaxAge     int  // LOG_MAX_AGE: days to keep rotated files
	Compress   bool // LOG_COMPRESS: gzip rotated files
}

// LoadFromEnv reads the logger configuration from environment variables,
// falling back to production-safe defaults.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: getEnv("SERVICE_NAME", "mnemo"),
		Environment: getEnv("APP_ENV", "local"),

		LogFile:     getEnv("LOG_FILE", "/var/log/mnemo/app.log"),
		LogFileOnly: getEnvBool("LOG_FILE_ONLY", false),

		MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
		MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		Compress:   getEnvBool("LOG_COMPRESS", true),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
