package models

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Retry      RetryConfig      `json:"retry"`
	Tracing    TracingConfig    `json:"tracing"`
	LogLevel   string           `json:"log_level"`
	// RetentionDays bounds how long delivered message rows are kept around.
	RetentionDays int `json:"retentionDays"`
}

// ServerConfig holds ingress HTTP server configurations
type ServerConfig struct {
	Port                 int `json:"port"`
	CleanupIntervalHours int `json:"cleanupIntervalHours"`
}

// GatewayConfig holds push gateway related configurations
type GatewayConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeoutSec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DispatcherConfig holds dispatch loop configurations
type DispatcherConfig struct {
	// PollIntervalMs is the fixed inter-cycle sleep that keeps an empty
	// queue from being busy-polled. Gateway backoff sleeps are added on top.
	PollIntervalMs int `json:"pollIntervalMs"`
}

// RetryConfig holds retry related configurations for startup concerns
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
