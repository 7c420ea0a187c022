// Package config provides environment variable helpers shared by the binaries.
// Every getter falls back to its default when the variable is unset, and logs a
// warning before falling back when the value cannot be parsed.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvString returns the value of an environment variable or the default value if not set.
//
// Example:
//
//	baseURL := GetEnvString("EMBED_BASE_URL", "https://api.siliconflow.cn/v1")
func GetEnvString(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt returns the value of an environment variable as an integer.
//
// Example:
//
//	dim := GetEnvInt("EMBED_DIMENSION", 1024)
func GetEnvInt(key string, defaultValue int) int {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		warnInvalid(key, valueStr, strconv.Itoa(defaultValue), err)
		return defaultValue
	}
	return value
}

// GetEnvFloat returns the value of an environment variable as a float64.
func GetEnvFloat(key string, defaultValue float64) float64 {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		warnInvalid(key, valueStr, strconv.FormatFloat(defaultValue, 'g', -1, 64), err)
		return defaultValue
	}
	return value
}

// GetEnvBool returns the value of an environment variable as a boolean.
//
// Accepted values are those of strconv.ParseBool ("1", "t", "true", "0", "f", "false", ...).
func GetEnvBool(key string, defaultValue bool) bool {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		warnInvalid(key, valueStr, strconv.FormatBool(defaultValue), err)
		return defaultValue
	}
	return value
}

// GetEnvDuration returns the value of an environment variable as a time.Duration.
//
// The value must be parseable by time.ParseDuration (e.g., "1m", "30s", "720h").
//
// Example:
//
//	ttl := GetEnvDuration("EMBED_CACHE_TTL", 30*24*time.Hour)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnvString(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		warnInvalid(key, valueStr, defaultValue.String(), err)
		return defaultValue
	}
	return value
}

// GetEnvEnum returns the lower-cased value of an environment variable when it is
// one of allowed, otherwise the default value.
//
// Example:
//
//	policy := GetEnvEnum("EMBED_OVERLENGTH_POLICY", "truncate", "truncate", "reject")
func GetEnvEnum(key, defaultValue string, allowed ...string) string {
	valueStr := strings.ToLower(GetEnvString(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	for _, a := range allowed {
		if valueStr == a {
			return valueStr
		}
	}
	slog.Warn("unsupported value for environment variable, using default",
		slog.String("key", key),
		slog.String("value", valueStr),
		slog.String("default", defaultValue),
		slog.Any("allowed", allowed))
	return defaultValue
}

func warnInvalid(key, value, defaultValue string, err error) {
	slog.Warn("invalid value for environment variable, using default",
		slog.String("key", key),
		slog.String("value", value),
		slog.String("default", defaultValue),
		slog.String("error", err.Error()))
}
