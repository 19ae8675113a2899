package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig is the logger configuration read from LOG_* environment variables.
type EnvConfig struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // overrides every file setting when set
	ServiceName string

	// local, dev, prod; file logging is off in local
	Environment string

	LogFile     string
	LogFileOnly bool

	// lumberjack rotation
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "tiercache"),
		Environment: envString("APP_ENV", "local"),

		LogFile:     envString("LOG_FILE", "/var/log/tiercache/tiercache.log"),
		LogFileOnly: envParsed("LOG_FILE_ONLY", false, strconv.ParseBool),

		MaxSize:    envParsed("LOG_MAX_SIZE", 100, strconv.Atoi),
		MaxBackups: envParsed("LOG_MAX_BACKUPS", 7, strconv.Atoi),
		MaxAge:     envParsed("LOG_MAX_AGE", 30, strconv.Atoi),
		Compress:   envParsed("LOG_COMPRESS", true, strconv.ParseBool),
	}
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// envParsed returns def when key is unset or does not parse.
func envParsed[T any](key string, def T, parse func(string) (T, error)) T {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	v, err := parse(val)
	if err != nil {
		return def
	}
	return v
}
