// Package config loads the RuntimeOptions every workflow takes
// explicitly, per spec.md §9's redesign note against global
// module-level state: "each workflow takes a RuntimeOptions struct;
// telemetry sinks are passed in, not pulled from a process singleton."
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RuntimeOptions holds everything a process needs to stand up a
// scheduler: logging, checkpoint storage location, and the optional
// telemetry/fanout endpoints.
type RuntimeOptions struct {
	ServiceName string
	LogLevel    string
	LogFormat   string

	CheckpointDir string // used by checkpoint.NewFileStore when set

	EnableTracing   bool
	TracingEndpoint string
	EnablePprof     bool
	PprofAddr       string
	EnableMetrics   bool
	MetricsAddr     string

	RedisAddr    string // redis client address for cmd/fanout and cmd/hitl-worker
	PostgresDSN  string // used by checkpoint.NewPostgresStore when set

	FanoutPort int
}

// Load reads RuntimeOptions from the environment, with defaults
// suitable for local development, matching the teacher's env-driven
// Config.Load but trimmed to the fields this module actually consumes.
func Load(serviceName string) (*RuntimeOptions, error) {
	opts := &RuntimeOptions{
		ServiceName:     serviceName,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		CheckpointDir:   getEnv("CHECKPOINT_DIR", "./checkpoints"),
		EnableTracing:   getEnvBool("ENABLE_TRACING", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", ""),
		EnablePprof:     getEnvBool("ENABLE_PPROF", false),
		PprofAddr:       getEnv("PPROF_ADDR", "localhost:6060"),
		EnableMetrics:   getEnvBool("ENABLE_METRICS", false),
		MetricsAddr:     getEnv("METRICS_ADDR", "localhost:9090"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		FanoutPort:      getEnvInt("FANOUT_PORT", 8088),
	}
	return opts, opts.Validate()
}

// Validate checks RuntimeOptions for obviously broken values.
func (o *RuntimeOptions) Validate() error {
	if o.FanoutPort < 1 || o.FanoutPort > 65535 {
		return fmt.Errorf("invalid fanout port: %d", o.FanoutPort)
	}
	switch o.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", o.LogLevel)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
