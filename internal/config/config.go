// Package config loads the service configuration from a JSON or YAML file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// Default values applied before the file is read.
const (
	defaultPort           = 1025
	defaultMaxMessageSize = 25 << 20
	defaultIOTimeout      = 60
	defaultDeliveryTime   = 30
	defaultUsername       = "smtpuser"
	defaultPassword       = "smtppassword"
)

// Error is a configuration problem. It is fatal at startup.
type Error struct {
	// Field is the offending key, e.g. "server.port". Empty for errors that
	// concern the file as a whole.
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds the complete application configuration. It is read-only once
// Load returns.
type Config struct {
	Server   ServerConfig      `json:"server" yaml:"server"`
	Delivery DeliveryConfig    `json:"delivery" yaml:"delivery"`
	Logging  LoggingConfig     `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig     `json:"metrics" yaml:"metrics"`
	Hooks    []hook.Definition `json:"hooks" yaml:"hooks"`

	hooks hook.Set
}

// ServerConfig holds SMTP server configuration.
type ServerConfig struct {
	Host                string       `json:"host" yaml:"host"`
	Port                int          `json:"port" yaml:"port"`
	Credentials         *Credentials `json:"credentials" yaml:"credentials"`
	MaxMessageSize      int64        `json:"maxMessageSize" yaml:"maxMessageSize"`
	ReadTimeoutSeconds  int          `json:"readTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds int          `json:"writeTimeoutSeconds" yaml:"writeTimeoutSeconds"`
}

// Credentials are the accepted SMTP AUTH username and password.
type Credentials struct {
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

// DeliveryConfig holds webhook delivery configuration.
type DeliveryConfig struct {
	TimeoutSeconds int  `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	DryRun         bool `json:"dryRun" yaml:"dryRun"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint configuration. An empty
// Listen disables the endpoint.
type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// Load reads the file at path, applies environment overrides and validates
// the result. The file is parsed as YAML when its extension is .yaml or .yml
// and as JSON otherwise. Every error is an *Error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	cfg := &Config{}
	cfg.applyDefaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to parse config file: %w", err)}
	}

	// Environment variables always override file values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HookSet returns the compiled hooks.
func (c *Config) HookSet() hook.Set {
	return c.hooks
}

// ListenAddr returns the SMTP listen address in host:port form.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Username returns the configured SMTP username, or the default.
func (c *Config) Username() string {
	if c.Server.Credentials == nil {
		return defaultUsername
	}
	return c.Server.Credentials.User
}

// Password returns the configured SMTP password, or the default.
func (c *Config) Password() string {
	if c.Server.Credentials == nil {
		return defaultPassword
	}
	return c.Server.Credentials.Password
}

// ReadTimeout returns the SMTP read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the SMTP write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// DeliveryTimeout returns the per-request webhook timeout.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Delivery.TimeoutSeconds) * time.Second
}

// SetLogLevel overrides logging.level, e.g. from a command line flag. The
// level is checked the same way as the file value.
func (c *Config) SetLogLevel(level string) error {
	level = strings.ToLower(level)
	if err := validateLevel(level); err != nil {
		return err
	}
	c.Logging.Level = level
	return nil
}

func validateLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return &Error{Field: "logging.level", Err: fmt.Errorf("unknown level %q", level)}
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Server.Port = defaultPort
	c.Server.MaxMessageSize = defaultMaxMessageSize
	c.Server.ReadTimeoutSeconds = defaultIOTimeout
	c.Server.WriteTimeoutSeconds = defaultIOTimeout
	c.Delivery.TimeoutSeconds = defaultDeliveryTime
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("MAIL2HOOKS_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("MAIL2HOOKS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "MAIL2HOOKS_PORT", Err: fmt.Errorf("invalid port %q", v)}
		}
		c.Server.Port = port
	}

	user, pass := os.Getenv("MAIL2HOOKS_USER"), os.Getenv("MAIL2HOOKS_PASSWORD")
	if user != "" || pass != "" {
		if c.Server.Credentials == nil {
			c.Server.Credentials = &Credentials{User: defaultUsername, Password: defaultPassword}
		}
		if user != "" {
			c.Server.Credentials.User = user
		}
		if pass != "" {
			c.Server.Credentials.Password = pass
		}
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &Error{Field: "server.port", Err: fmt.Errorf("%d is outside 0-65535", c.Server.Port)}
	}
	if cr := c.Server.Credentials; cr != nil && (cr.User == "" || cr.Password == "") {
		return &Error{Field: "server.credentials", Err: errors.New("user and password must both be set")}
	}
	if c.Server.MaxMessageSize < 0 {
		return &Error{Field: "server.maxMessageSize", Err: errors.New("must not be negative")}
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 {
		return &Error{Field: "server.readTimeoutSeconds", Err: errors.New("timeouts must not be negative")}
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return &Error{Field: "delivery.timeoutSeconds", Err: errors.New("must be positive")}
	}

	if err := validateLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return &Error{Field: "logging.format", Err: fmt.Errorf("unknown format %q", c.Logging.Format)}
	}

	if c.Hooks == nil {
		return &Error{Field: "hooks", Err: errors.New("is required")}
	}
	set, err := hook.CompileSet(c.Hooks)
	if err != nil {
		return &Error{Field: "hooks", Err: err}
	}
	c.hooks = set
	return nil
}
