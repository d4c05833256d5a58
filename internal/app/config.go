package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/i-melnichenko/kvelldb/internal/consensus/local"
)

// Config contains runtime settings for a node process.
type Config struct {
	NodeID   string `toml:"node_id"`
	LogLevel string `toml:"log_level"`

	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"`

	DataDir       string `toml:"data_dir"`
	StorageEngine string `toml:"storage_engine"`
	SyncWrites    bool   `toml:"sync_writes"`

	// RequestTimeout bounds a KV call that does not carry its own timeout.
	// Zero waits until the client disconnects.
	RequestTimeout time.Duration `toml:"request_timeout"`
	HealthInterval time.Duration `toml:"health_interval"`
	ApplyBuffer    int           `toml:"apply_buffer"`

	MetricsAddr string `toml:"metrics_addr"`
	PprofAddr   string `toml:"pprof_addr"`

	TracingEnabled     bool   `toml:"tracing_enabled"`
	TracingEndpoint    string `toml:"tracing_endpoint"`
	TracingServiceName string `toml:"tracing_service_name"`
	// TracingSampleRatio is the fraction of root spans recorded. Child spans
	// follow their parent.
	TracingSampleRatio float64 `toml:"tracing_sample_ratio"`
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:             "node-1",
		LogLevel:           "info",
		HTTPAddr:           ":8080",
		GRPCAddr:           ":9090",
		DataDir:            "./var/node-1",
		StorageEngine:      local.EngineSegment,
		SyncWrites:         true,
		RequestTimeout:     5 * time.Second,
		HealthInterval:     time.Second,
		ApplyBuffer:        256,
		TracingEndpoint:    "localhost:4317",
		TracingServiceName: "kvelldb",
		TracingSampleRatio: 1,
	}
}

// LoadConfigFromEnv loads config from an optional TOML file and environment
// variables. Values from the environment override the file.
//
// Supported vars:
// - APP_CONFIG_FILE (path to a TOML file with the keys of Config)
// - APP_NODE_ID
// - APP_LOG_LEVEL (debug|info|warn|error)
// - APP_HTTP_ADDR
// - APP_GRPC_ADDR
// - APP_DATA_DIR
// - APP_STORAGE_ENGINE (memory|segment|bolt)
// - APP_SYNC_WRITES (bool)
// - APP_REQUEST_TIMEOUT (duration, 0 = wait for client)
// - APP_HEALTH_INTERVAL (duration)
// - APP_APPLY_BUFFER (int)
// - APP_METRICS_ADDR (empty = disabled)
// - APP_PPROF_ADDR (empty = disabled)
// - APP_TRACING_ENABLED (bool)
// - APP_TRACING_ENDPOINT
// - APP_TRACING_SERVICE_NAME
// - APP_TRACING_SAMPLE_RATIO (0..1)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("APP_NODE_ID")); v != "" {
		cfg.NodeID = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_GRPC_ADDR")); v != "" {
		cfg.GRPCAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_STORAGE_ENGINE")); v != "" {
		cfg.StorageEngine = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_SYNC_WRITES")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_SYNC_WRITES %q: %w", v, err)
		}
		cfg.SyncWrites = b
	}
	if v := strings.TrimSpace(os.Getenv("APP_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("APP_HEALTH_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_HEALTH_INTERVAL %q: %w", v, err)
		}
		cfg.HealthInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("APP_APPLY_BUFFER")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_APPLY_BUFFER %q: %w", v, err)
		}
		cfg.ApplyBuffer = n
	}
	if v, ok := os.LookupEnv("APP_METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("APP_PPROF_ADDR"); ok {
		cfg.PprofAddr = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_TRACING_ENABLED %q: %w", v, err)
		}
		cfg.TracingEnabled = b
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_ENDPOINT")); v != "" {
		cfg.TracingEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_SERVICE_NAME")); v != "" {
		cfg.TracingServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_TRACING_SAMPLE_RATIO")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("app: invalid APP_TRACING_SAMPLE_RATIO %q: %w", v, err)
		}
		cfg.TracingSampleRatio = f
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes a TOML file on top of c. Unknown keys are rejected so a
// typo does not silently fall back to a default.
func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("app: read config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("app: config file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks that required settings are present and supported.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("app: node id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("app: http addr is required")
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return fmt.Errorf("app: grpc addr is required")
	}
	switch c.StorageEngine {
	case local.EngineMemory:
	case local.EngineSegment, local.EngineBolt:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("app: data dir is required for storage engine %q", c.StorageEngine)
		}
	default:
		return fmt.Errorf("app: unsupported storage engine %q", c.StorageEngine)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("app: request timeout must not be negative")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("app: health interval must be positive")
	}
	if c.ApplyBuffer < 0 {
		return fmt.Errorf("app: apply buffer must not be negative")
	}
	if c.TracingEnabled && strings.TrimSpace(c.TracingEndpoint) == "" {
		return fmt.Errorf("app: tracing endpoint is required when tracing is enabled")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("app: tracing sample ratio must be within [0, 1]")
	}
	return nil
}
