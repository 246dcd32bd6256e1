// Copyright 2025 Joseph Cumines
//
// Configuration package for the mini-program MCP server

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/automator"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

// TransportType represents the MCP transport type
type TransportType string

const (
	// TransportStdio uses stdin/stdout for communication
	TransportStdio TransportType = "stdio"
	// TransportHTTP uses HTTP/SSE for communication
	TransportHTTP TransportType = "sse"
)

// SessionMode selects how tools obtain an automation session.
type SessionMode string

const (
	// SessionModeLaunch holds one session for the process lifetime, created by the launch tool.
	SessionModeLaunch SessionMode = "launch"
	// SessionModeReconnect dials the automation port for every tool call.
	SessionModeReconnect SessionMode = "reconnect"
)

// Defaults.
const (
	DefaultPort    = 9420
	DefaultTimeout = 30 * time.Second
)

// Config holds the configuration for the MCP server
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Config struct {
	// ProjectPath is the mini-program project directory opened by the developer tool.
	ProjectPath string
	// CLIPath is the developer tool CLI. Empty uses the platform default.
	CLIPath string
	// Account is the openid of the test account to launch as.
	Account string
	// Ticket is the developer tool login ticket.
	Ticket string
	// ProjectConfig is merged over project.config.json before launching.
	ProjectConfig *structpb.Struct
	// Port is the automation WebSocket port.
	Port int
	// Timeout bounds launching and connecting.
	Timeout time.Duration
	// RequestTimeout bounds a single tool call.
	RequestTimeout time.Duration
	SessionMode    SessionMode
	// LaunchOnStart launches the developer tool before serving. In launch mode it
	// makes ProjectPath required.
	LaunchOnStart bool

	Transport         TransportType
	HTTPAddress       string
	HTTPSocketPath    string
	CORSOrigin        string
	HeartbeatInterval time.Duration
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	// RateLimit is the HTTP request rate in requests per second. Zero disables it.
	RateLimit float64
	// APIKey is the bearer token the HTTP transport requires. Empty disables auth.
	APIKey      string
	TLSCertFile string
	TLSKeyFile  string

	// AuditLogFile receives one JSON line per tool call. Empty disables auditing.
	AuditLogFile string
	Debug        bool
}

// fileConfig is the YAML file layout. Unset fields leave the default alone.
type fileConfig struct {
	ProjectPath    string         `yaml:"projectPath"`
	CLIPath        string         `yaml:"cliPath"`
	Account        string         `yaml:"account"`
	Ticket         string         `yaml:"ticket"`
	ProjectConfig  map[string]any `yaml:"projectConfig"`
	Port           int            `yaml:"port"`
	TimeoutMS      int            `yaml:"timeout"`
	RequestTimeout string         `yaml:"requestTimeout"`
	SessionMode    string         `yaml:"sessionMode"`
	LaunchOnStart  *bool          `yaml:"launchOnStart"`
	Transport      string         `yaml:"transport"`
	HTTPAddress    string         `yaml:"httpAddress"`
	RateLimit      float64        `yaml:"rateLimit"`
	AuditLogFile   string         `yaml:"auditLogFile"`
	Debug          *bool          `yaml:"debug"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		Timeout:           DefaultTimeout,
		RequestTimeout:    DefaultTimeout,
		SessionMode:       SessionModeLaunch,
		LaunchOnStart:     true,
		Transport:         TransportStdio,
		HTTPAddress:       ":8080",
		CORSOrigin:        "*",
		HeartbeatInterval: 30 * time.Second,
		HTTPReadTimeout:   30 * time.Second,
		HTTPWriteTimeout:  0,
	}
}

// Load loads the configuration from a .env file (when present), the YAML file named
// by MINIPROGRAM_MCP_CONFIG (when set), then environment variables, in increasing
// precedence. Flags are applied afterwards with BindFlags.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("MINIPROGRAM_MCP_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.ProjectPath, fc.ProjectPath)
	setString(&c.CLIPath, fc.CLIPath)
	setString(&c.Account, fc.Account)
	setString(&c.Ticket, fc.Ticket)
	setString(&c.HTTPAddress, fc.HTTPAddress)
	setString(&c.AuditLogFile, fc.AuditLogFile)
	if fc.ProjectConfig != nil {
		pc, err := structpb.NewStruct(fc.ProjectConfig)
		if err != nil {
			return fmt.Errorf("invalid projectConfig in %s: %w", path, err)
		}
		c.ProjectConfig = pc
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.TimeoutMS != 0 {
		c.Timeout = time.Duration(fc.TimeoutMS) * time.Millisecond
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid requestTimeout in %s: %q (expected duration, e.g., '30s')", path, fc.RequestTimeout)
		}
		c.RequestTimeout = d
	}
	if fc.SessionMode != "" {
		c.SessionMode = SessionMode(fc.SessionMode)
	}
	if fc.Transport != "" {
		c.Transport = TransportType(fc.Transport)
	}
	if fc.LaunchOnStart != nil {
		c.LaunchOnStart = *fc.LaunchOnStart
	}
	if fc.RateLimit != 0 {
		c.RateLimit = fc.RateLimit
	}
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	return nil
}

func (c *Config) loadEnv() error {
	var err error

	c.ProjectPath = getEnv("MINIPROGRAM_PROJECT_PATH", c.ProjectPath)
	c.CLIPath = getEnv("MINIPROGRAM_CLI_PATH", c.CLIPath)
	c.Account = getEnv("MINIPROGRAM_ACCOUNT", c.Account)
	c.Ticket = getEnv("MINIPROGRAM_TICKET", c.Ticket)
	if raw := os.Getenv("MINIPROGRAM_PROJECT_CONFIG"); raw != "" {
		if c.ProjectConfig, err = ParseProjectConfig(raw); err != nil {
			return err
		}
	}
	if c.Port, err = getEnvAsInt("MINIPROGRAM_PORT", c.Port); err != nil {
		return err
	}
	timeoutMS, err := getEnvAsInt("MINIPROGRAM_TIMEOUT", int(c.Timeout/time.Millisecond))
	if err != nil {
		return err
	}
	c.Timeout = time.Duration(timeoutMS) * time.Millisecond
	if c.RequestTimeout, err = getEnvAsDuration("MINIPROGRAM_MCP_REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	c.SessionMode = SessionMode(getEnv("MINIPROGRAM_MCP_SESSION_MODE", string(c.SessionMode)))
	c.LaunchOnStart = getEnvAsBool("MINIPROGRAM_MCP_LAUNCH_ON_START", c.LaunchOnStart)

	c.Transport = TransportType(getEnv("MCP_TRANSPORT", string(c.Transport)))
	c.HTTPAddress = getEnv("MCP_HTTP_ADDRESS", c.HTTPAddress)
	c.HTTPSocketPath = getEnv("MCP_HTTP_SOCKET", c.HTTPSocketPath)
	c.CORSOrigin = getEnv("MCP_CORS_ORIGIN", c.CORSOrigin)
	if c.HeartbeatInterval, err = getEnvAsDuration("MCP_HEARTBEAT_INTERVAL", c.HeartbeatInterval); err != nil {
		return err
	}
	if c.HTTPReadTimeout, err = getEnvAsDuration("MCP_HTTP_READ_TIMEOUT", c.HTTPReadTimeout); err != nil {
		return err
	}
	if c.HTTPWriteTimeout, err = getEnvAsDuration("MCP_HTTP_WRITE_TIMEOUT", c.HTTPWriteTimeout); err != nil {
		return err
	}
	if c.RateLimit, err = getEnvAsFloat("MCP_RATE_LIMIT", c.RateLimit); err != nil {
		return err
	}
	c.APIKey = getEnv("MCP_API_KEY", c.APIKey)
	c.TLSCertFile = getEnv("MCP_TLS_CERT_FILE", c.TLSCertFile)
	c.TLSKeyFile = getEnv("MCP_TLS_KEY_FILE", c.TLSKeyFile)

	c.AuditLogFile = getEnv("MINIPROGRAM_MCP_AUDIT_LOG", c.AuditLogFile)
	c.Debug = getEnvAsBool("MINIPROGRAM_MCP_DEBUG", c.Debug)
	return nil
}

// BindFlags registers command line flags on fs, defaulting to the loaded values.
// The returned function must be called after parsing to apply flags that need
// conversion.
func (c *Config) BindFlags(fs *pflag.FlagSet) func() error {
	var (
		timeoutMS     int
		projectConfig string
		sessionMode   string
		transport     string
	)

	fs.StringVarP(&c.ProjectPath, "project-path", "p", c.ProjectPath, "mini-program project directory")
	fs.StringVarP(&c.CLIPath, "cli-path", "c", c.CLIPath, "developer tool CLI path")
	fs.IntVarP(&timeoutMS, "timeout", "t", int(c.Timeout/time.Millisecond), "launch/connect timeout in milliseconds")
	fs.IntVarP(&c.Port, "port", "P", c.Port, "automation WebSocket port")
	fs.StringVarP(&c.Account, "account", "a", c.Account, "test account openid")
	fs.StringVarP(&projectConfig, "project-config", "C", "", "JSON object merged over project.config.json")
	fs.StringVarP(&c.Ticket, "ticket", "T", c.Ticket, "developer tool login ticket")
	fs.StringVar(&sessionMode, "session-mode", string(c.SessionMode), "session strategy: launch or reconnect")
	fs.BoolVar(&c.LaunchOnStart, "launch-on-start", c.LaunchOnStart, "launch the developer tool before serving")
	fs.StringVar(&transport, "transport", string(c.Transport), "MCP transport: stdio or sse")
	fs.StringVar(&c.HTTPAddress, "http-address", c.HTTPAddress, "listen address for the sse transport")
	fs.StringVar(&c.TLSCertFile, "tls-cert", c.TLSCertFile, "TLS certificate file for the sse transport")
	fs.StringVar(&c.TLSKeyFile, "tls-key", c.TLSKeyFile, "TLS key file for the sse transport")
	fs.StringVar(&c.AuditLogFile, "audit-log", c.AuditLogFile, "audit log file")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")

	return func() error {
		if fs.Changed("timeout") {
			c.Timeout = time.Duration(timeoutMS) * time.Millisecond
		}
		if fs.Changed("project-config") {
			pc, err := ParseProjectConfig(projectConfig)
			if err != nil {
				return err
			}
			c.ProjectConfig = pc
		}
		if fs.Changed("session-mode") {
			c.SessionMode = SessionMode(sessionMode)
		}
		if fs.Changed("transport") {
			c.Transport = TransportType(transport)
		}
		return nil
	}
}

// ParseProjectConfig parses a JSON object of project.config.json overrides.
func ParseProjectConfig(raw string) (*structpb.Struct, error) {
	var pc structpb.Struct
	if err := pc.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, fmt.Errorf("invalid project config JSON: %w", err)
	}
	return &pc, nil
}

// LaunchOptions returns the developer tool launch settings.
func (c *Config) LaunchOptions() automator.LaunchOptions {
	return automator.LaunchOptions{
		ProjectPath:   c.ProjectPath,
		CLIPath:       c.CLIPath,
		Port:          c.Port,
		Account:       c.Account,
		ProjectConfig: c.ProjectConfig,
		Ticket:        c.Ticket,
	}
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	switch c.SessionMode {
	case SessionModeLaunch, SessionModeReconnect:
	default:
		return fmt.Errorf("invalid session mode: %s (must be 'launch' or 'reconnect')", c.SessionMode)
	}
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'sse')", c.Transport)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS requires both a certificate and a key file")
	}
	if c.SessionMode == SessionModeLaunch && c.LaunchOnStart && c.ProjectPath == "" {
		return fmt.Errorf("project path is required to launch on start (set --project-path, or --launch-on-start=false to launch later)")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected number)", key, value)
	}
	return result, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '30s', '5m')", key, value)
	}
	return d, nil
}
