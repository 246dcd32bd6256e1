// Copyright 2025 Joseph Cumines
//
// Configuration unit tests

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MINIPROGRAM_MCP_CONFIG", "MINIPROGRAM_PROJECT_PATH", "MINIPROGRAM_CLI_PATH",
		"MINIPROGRAM_ACCOUNT", "MINIPROGRAM_TICKET", "MINIPROGRAM_PROJECT_CONFIG",
		"MINIPROGRAM_PORT", "MINIPROGRAM_TIMEOUT", "MINIPROGRAM_MCP_REQUEST_TIMEOUT",
		"MINIPROGRAM_MCP_SESSION_MODE", "MINIPROGRAM_MCP_LAUNCH_ON_START",
		"MCP_TRANSPORT", "MCP_HTTP_ADDRESS", "MCP_HTTP_SOCKET", "MCP_CORS_ORIGIN",
		"MCP_HEARTBEAT_INTERVAL", "MCP_HTTP_READ_TIMEOUT", "MCP_HTTP_WRITE_TIMEOUT",
		"MCP_RATE_LIMIT", "MCP_API_KEY", "MCP_TLS_CERT_FILE", "MCP_TLS_KEY_FILE",
		"MINIPROGRAM_MCP_AUDIT_LOG", "MINIPROGRAM_MCP_DEBUG",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9420 {
		t.Errorf("Port = %d, want 9420", cfg.Port)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.SessionMode != SessionModeLaunch {
		t.Errorf("SessionMode = %s, want launch", cfg.SessionMode)
	}
	if cfg.Transport != TransportStdio {
		t.Errorf("Transport = %s, want stdio", cfg.Transport)
	}
	if cfg.HTTPAddress != ":8080" {
		t.Errorf("HTTPAddress = %s, want :8080", cfg.HTTPAddress)
	}
	if cfg.CORSOrigin != "*" {
		t.Errorf("CORSOrigin = %s, want *", cfg.CORSOrigin)
	}
	if cfg.ProjectConfig != nil {
		t.Errorf("ProjectConfig = %v, want nil", cfg.ProjectConfig)
	}
	if !cfg.LaunchOnStart {
		t.Error("LaunchOnStart = false, want true")
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "project path is required") {
		t.Errorf("Validate() without a project path = %v", err)
	}
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINIPROGRAM_PROJECT_PATH", "/work/app")
	t.Setenv("MINIPROGRAM_PORT", "9527")
	t.Setenv("MINIPROGRAM_TIMEOUT", "5000")
	t.Setenv("MINIPROGRAM_PROJECT_CONFIG", `{"appid":"wx123"}`)
	t.Setenv("MINIPROGRAM_MCP_SESSION_MODE", "reconnect")
	t.Setenv("MCP_RATE_LIMIT", "2.5")
	t.Setenv("MINIPROGRAM_MCP_DEBUG", "1")
	t.Setenv("MCP_API_KEY", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ProjectPath != "/work/app" {
		t.Errorf("ProjectPath = %s", cfg.ProjectPath)
	}
	if cfg.Port != 9527 {
		t.Errorf("Port = %d, want 9527", cfg.Port)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if got := cfg.ProjectConfig.GetFields()["appid"].GetStringValue(); got != "wx123" {
		t.Errorf("ProjectConfig appid = %q", got)
	}
	if cfg.SessionMode != SessionModeReconnect {
		t.Errorf("SessionMode = %s, want reconnect", cfg.SessionMode)
	}
	if cfg.RateLimit != 2.5 {
		t.Errorf("RateLimit = %v, want 2.5", cfg.RateLimit)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.APIKey != "s3cret" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MINIPROGRAM_PORT", "abc"},
		{"MINIPROGRAM_TIMEOUT", "30s"},
		{"MINIPROGRAM_PROJECT_CONFIG", "{not json"},
		{"MCP_HEARTBEAT_INTERVAL", "often"},
		{"MCP_RATE_LIMIT", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q: expected error", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`projectPath: /from/yaml
port: 9000
timeout: 10000
sessionMode: reconnect
projectConfig:
  appid: wxyaml
  setting:
    urlCheck: false
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINIPROGRAM_MCP_CONFIG", path)
	t.Setenv("MINIPROGRAM_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProjectPath != "/from/yaml" {
		t.Errorf("ProjectPath = %s, want /from/yaml", cfg.ProjectPath)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want env override 9100", cfg.Port)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.SessionMode != SessionModeReconnect {
		t.Errorf("SessionMode = %s, want reconnect", cfg.SessionMode)
	}
	setting := cfg.ProjectConfig.GetFields()["setting"].GetStructValue()
	if setting == nil || setting.GetFields()["urlCheck"].GetBoolValue() {
		t.Errorf("unexpected nested projectConfig: %v", cfg.ProjectConfig)
	}
}

func TestLoad_YAMLFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINIPROGRAM_MCP_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINIPROGRAM_MCP_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestBindFlags(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	apply := cfg.BindFlags(fs)

	err := fs.Parse([]string{
		"-p", "/flag/app",
		"-t", "1500",
		"-P", "9555",
		"-a", "oTEST",
		"-C", `{"libVersion":"3.3.0"}`,
		"-T", "ticket-1",
		"--session-mode", "reconnect",
		"--transport", "sse",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := apply(); err != nil {
		t.Fatalf("apply() error = %v", err)
	}

	if cfg.ProjectPath != "/flag/app" {
		t.Errorf("ProjectPath = %s", cfg.ProjectPath)
	}
	if cfg.Timeout != 1500*time.Millisecond {
		t.Errorf("Timeout = %v, want 1.5s", cfg.Timeout)
	}
	if cfg.Port != 9555 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.Account != "oTEST" || cfg.Ticket != "ticket-1" {
		t.Errorf("Account/Ticket = %s/%s", cfg.Account, cfg.Ticket)
	}
	if got := cfg.ProjectConfig.GetFields()["libVersion"].GetStringValue(); got != "3.3.0" {
		t.Errorf("ProjectConfig libVersion = %q", got)
	}
	if cfg.SessionMode != SessionModeReconnect || cfg.Transport != TransportHTTP {
		t.Errorf("SessionMode/Transport = %s/%s", cfg.SessionMode, cfg.Transport)
	}
}

func TestBindFlags_UnchangedKeepsLoaded(t *testing.T) {
	cfg := Default()
	cfg.Timeout = 7 * time.Second
	cfg.ProjectPath = "/loaded"
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	apply := cfg.BindFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	if err := apply(); err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 7*time.Second || cfg.ProjectPath != "/loaded" {
		t.Errorf("unexpected override: %v %s", cfg.Timeout, cfg.ProjectPath)
	}
}

func TestBindFlags_MalformedProjectConfig(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	apply := cfg.BindFlags(fs)
	if err := fs.Parse([]string{"-C", "[1,2]"}); err != nil {
		t.Fatal(err)
	}
	if err := apply(); err == nil {
		t.Error("expected error for non-object project config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing project path", mutate: func(c *Config) { c.ProjectPath = "" }, wantErr: true},
		{name: "deferred launch", mutate: func(c *Config) { c.ProjectPath, c.LaunchOnStart = "", false }},
		{name: "reconnect without project", mutate: func(c *Config) { c.ProjectPath, c.SessionMode = "", SessionModeReconnect }},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantErr: true},
		{name: "bad session mode", mutate: func(c *Config) { c.SessionMode = "pool" }, wantErr: true},
		{name: "bad transport", mutate: func(c *Config) { c.Transport = "grpc" }, wantErr: true},
		{name: "negative rate", mutate: func(c *Config) { c.RateLimit = -1 }, wantErr: true},
		{name: "sse", mutate: func(c *Config) { c.Transport = TransportHTTP }},
		{name: "tls cert without key", mutate: func(c *Config) { c.TLSCertFile = "cert.pem" }, wantErr: true},
		{name: "tls key without cert", mutate: func(c *Config) { c.TLSKeyFile = "key.pem" }, wantErr: true},
		{name: "tls", mutate: func(c *Config) { c.TLSCertFile, c.TLSKeyFile = "cert.pem", "key.pem" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ProjectPath = "/work/app"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
