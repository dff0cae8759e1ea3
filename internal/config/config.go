// Package config loads the configuration of the biztraced command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Prefix is the prefix of all environment variables.
const Prefix = "BIZTRACE"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// Nested fields are read from variables named
// BIZTRACE_{SECTION}_{FIELD}, e.g. BIZTRACE_DB_DSN.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Logging   LogConfig       `envconfig:"LOG"`
	Telemetry TelemetryConfig `envconfig:"TELEMETRY"`
	DB        DBConfig        `envconfig:"DB"`
	Auth      AuthConfig      `envconfig:"JWT"`

	// MappingsFile is an optional YAML file that extends the table and
	// controller mappings.
	MappingsFile string `envconfig:"MAPPINGS_FILE"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// TelemetryConfig holds the configuration of span and metric export.
// Export via OTLP is disabled when Endpoint is empty.
type TelemetryConfig struct {
	Endpoint         string `envconfig:"OTLP_ENDPOINT"`
	Insecure         bool   `envconfig:"OTLP_INSECURE" default:"false"`
	ServiceName      string `envconfig:"SERVICE_NAME" default:"Money.Api"`
	ServiceVersion   string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"money_api"`
	LogSpans         bool   `envconfig:"LOG_SPANS" default:"false"`
	CommandSpans     bool   `envconfig:"COMMAND_SPANS" default:"false"`
}

// DBConfig holds database configuration.
type DBConfig struct {
	Driver string `envconfig:"DRIVER" default:"sqlite"`
	DSN    string `envconfig:"DSN" default:"file:money.db?_pragma=foreign_keys(1)"`
}

// AuthConfig holds the configuration of JWT validation.
// Tokens are not validated when Secret is empty.
type AuthConfig struct {
	Secret   string `envconfig:"SECRET"`
	Issuer   string `envconfig:"ISSUER"`
	Audience string `envconfig:"AUDIENCE"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that can not be validated by envconfig.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.DB.Driver)
	}

	if c.DB.DSN == "" {
		return errors.New("config: database dsn is empty")
	}

	return nil
}

// Mappings are additional table to entity type and controller to business
// operation type mappings.
type Mappings struct {
	Tables      map[string]string `yaml:"tables"`
	Controllers map[string]string `yaml:"controllers"`
}

// LoadMappings reads mappings from the YAML file at path.
func LoadMappings(path string) (*Mappings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read mappings: %w", err)
	}

	var m Mappings
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("config: parse mappings %s: %w", path, err)
	}

	return &m, nil
}
