// Package config provides configuration structures and loading logic for the
// obfuscation API.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort matches the port the service has always listened on.
	DefaultPort = 3000

	// DefaultMaxSourceBytes caps uploads and inline code.
	DefaultMaxSourceBytes int64 = 40000

	// DefaultEngineTimeout bounds one engine invocation.
	DefaultEngineTimeout = 30 * time.Second
)

// Environment variables that override file values.
const (
	EnvPort          = "API_PORT"
	EnvEngineTimeout = "OBFUSCATOR_ENGINE_TIMEOUT"
	EnvEngineWorkDir = "OBFUSCATOR_ENGINE_WORKDIR"
	EnvArtifactDir   = "OBFUSCATOR_ARTIFACT_DIR"
	EnvLogLevel      = "OBFUSCATOR_LOG_LEVEL"
	EnvOTLPEndpoint  = "OBFUSCATOR_OTLP_ENDPOINT"
	EnvOTLPInsecure  = "OBFUSCATOR_OTLP_INSECURE"
)

// Config holds the process-wide configuration. It is built once at startup
// and not modified afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Engine    EngineConfig    `yaml:"engine"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // must outlast engine.timeout
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LimitsConfig bounds request payloads.
type LimitsConfig struct {
	MaxSourceBytes int64 `yaml:"max_source_bytes"`
}

// EngineConfig describes how the obfuscation engine is launched.
type EngineConfig struct {
	Command []string      `yaml:"command"` // placeholders: {input} {output} {preset}
	WorkDir string        `yaml:"work_dir"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArtifactsConfig locates temporary files.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"` // empty: system temp dir
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig defines OTLP trace export. Tracing is off without an endpoint.
type TracingConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	Headers     map[string]string `yaml:"headers"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"` // "debug", "info", "warn", "error"
	Pretty bool   `yaml:"pretty"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    DefaultEngineTimeout + 30*time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Limits: LimitsConfig{
			MaxSourceBytes: DefaultMaxSourceBytes,
		},
		Engine: EngineConfig{
			Command: []string{"lua", "cli.lua", "--preset", "{preset}", "--out", "{output}", "{input}"},
			Timeout: DefaultEngineTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "obfuscator-api",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads configuration from path, expands ${VAR} references, applies
// environment overrides and validates the result. An empty path yields the
// defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse expands environment references in data and decodes it over cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := []byte(os.ExpandEnv(string(data)))
	return yaml.Unmarshal(expanded, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv(EnvPort); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, val, err)
		}
		cfg.Server.Port = port
	}
	if val := os.Getenv(EnvEngineTimeout); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvEngineTimeout, val, err)
		}
		cfg.Engine.Timeout = d
	}
	if val := os.Getenv(EnvEngineWorkDir); val != "" {
		cfg.Engine.WorkDir = val
	}
	if val := os.Getenv(EnvArtifactDir); val != "" {
		cfg.Artifacts.Dir = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvOTLPEndpoint); val != "" {
		cfg.Tracing.Endpoint = val
	}
	if val := os.Getenv(EnvOTLPInsecure); val == "true" {
		cfg.Tracing.Insecure = true
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Limits.MaxSourceBytes <= 0 {
		errs = append(errs, errors.New("limits.max_source_bytes must be positive"))
	}
	if len(c.Engine.Command) == 0 {
		errs = append(errs, errors.New("engine.command cannot be empty"))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout must be positive"))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Engine.Timeout {
		errs = append(errs, fmt.Errorf("server.write_timeout (%s) must exceed engine.timeout (%s)", c.Server.WriteTimeout, c.Engine.Timeout))
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
