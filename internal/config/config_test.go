package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `
server:
  hostname: "news.test.com"
  base_url: "https://track.test.com"

api:
  listen_addr: ":9080"
  jwt_secret: "file-secret"
  rate_limit: 30
  cors_origins:
    - "https://app.test.com"

storage:
  path: "/tmp/test.db"

dispatch:
  min_delay: 10ms
  max_delay: 20ms
  resume_interrupted: false

transport:
  max_connections: 2
  smtp:
    host: "smtp.test.com"
    port: 465
    secure: true
    user: "news@test.com"
    pass: "file-pass"

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Hostname != "news.test.com" {
		t.Errorf("Hostname = %v, want news.test.com", cfg.Server.Hostname)
	}
	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.RateLimit != 30 {
		t.Errorf("API.RateLimit = %v, want 30", cfg.API.RateLimit)
	}
	if len(cfg.API.CORSOrigins) != 1 || cfg.API.CORSOrigins[0] != "https://app.test.com" {
		t.Errorf("API.CORSOrigins = %v, want [https://app.test.com]", cfg.API.CORSOrigins)
	}
	if cfg.Dispatch.MinDelay != 10*time.Millisecond || cfg.Dispatch.MaxDelay != 20*time.Millisecond {
		t.Errorf("Dispatch delays = %v..%v, want 10ms..20ms", cfg.Dispatch.MinDelay, cfg.Dispatch.MaxDelay)
	}
	if cfg.Dispatch.Resume() {
		t.Error("Dispatch.Resume() = true, want false")
	}
	if cfg.Transport.MaxConnections != 2 {
		t.Errorf("Transport.MaxConnections = %v, want 2", cfg.Transport.MaxConnections)
	}
	if cfg.Transport.HeloHostname != "news.test.com" {
		t.Errorf("Transport.HeloHostname = %v, want server hostname", cfg.Transport.HeloHostname)
	}
	if cfg.Transport.SMTP == nil || !cfg.Transport.SMTP.Secure || cfg.Transport.SMTP.Port != 465 {
		t.Errorf("Transport.SMTP = %+v", cfg.Transport.SMTP)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
server:
  base_url: "http://localhost:8080"
api:
  jwt_secret: "secret"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"API.ListenAddr", cfg.API.ListenAddr, ":8080"},
		{"API.RateLimit", cfg.API.RateLimit, 120},
		{"API.MaxHeaderBytes", cfg.API.MaxHeaderBytes, 1 << 20},
		{"API.ReadTimeout", cfg.API.ReadTimeout, 30 * time.Second},
		{"API.IdleTimeout", cfg.API.IdleTimeout, 60 * time.Second},
		{"Storage.Path", cfg.Storage.Path, "/var/lib/beacon/beacon.db"},
		{"Dispatch.MinDelay", cfg.Dispatch.MinDelay, 50 * time.Millisecond},
		{"Dispatch.MaxDelay", cfg.Dispatch.MaxDelay, 500 * time.Millisecond},
		{"Dispatch.SendTimeout", cfg.Dispatch.SendTimeout, 2 * time.Minute},
		{"Dispatch.Resume", cfg.Dispatch.Resume(), true},
		{"Dispatch.ScheduleInterval", cfg.Dispatch.ScheduleInterval, 30 * time.Second},
		{"Transport.MaxConnections", cfg.Transport.MaxConnections, 5},
		{"Transport.MaxMessagesPerConnection", cfg.Transport.MaxMessagesPerConnection, 100},
		{"Transport.ConnectionTimeout", cfg.Transport.ConnectionTimeout, 20 * time.Second},
		{"Transport.GreetingTimeout", cfg.Transport.GreetingTimeout, 20 * time.Second},
		{"Transport.SocketTimeout", cfg.Transport.SocketTimeout, 60 * time.Second},
		{"Logging.Level", cfg.Logging.Level, "info"},
		{"Logging.Format", cfg.Logging.Format, "json"},
		{"Metrics.ListenAddr", cfg.Metrics.ListenAddr, ":9090"},
		{"Metrics.Path", cfg.Metrics.Path, "/metrics"},
		{"Metrics.RefreshInterval", cfg.Metrics.RefreshInterval, 15 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if len(cfg.API.CORSOrigins) != 1 || cfg.API.CORSOrigins[0] != "*" {
		t.Errorf("API.CORSOrigins = %v, want [*]", cfg.API.CORSOrigins)
	}
	if cfg.Transport.SMTP != nil {
		t.Error("Transport.SMTP should stay nil without a seed")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-secret")
	t.Setenv(EnvSMTPPass, "env-pass")
	t.Setenv(EnvBaseURL, "https://env.example.com")

	content := `
server:
  base_url: "https://file.example.com"
transport:
  smtp:
    host: "smtp.example.com"
    user: "news@example.com"
    pass: "file-pass"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.JWTSecret != "env-secret" {
		t.Errorf("API.JWTSecret = %q, want env-secret", cfg.API.JWTSecret)
	}
	if cfg.Transport.SMTP.Pass != "env-pass" {
		t.Errorf("Transport.SMTP.Pass = %q, want env-pass", cfg.Transport.SMTP.Pass)
	}
	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{BaseURL: "https://track.example.com"},
		API:    APIConfig{JWTSecret: "secret"},
	}
	cfg.setDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing base url", func(c *Config) { c.Server.BaseURL = "" }, "server.base_url is required"},
		{"relative base url", func(c *Config) { c.Server.BaseURL = "/track" }, "absolute http(s) URL"},
		{"ftp base url", func(c *Config) { c.Server.BaseURL = "ftp://example.com" }, "absolute http(s) URL"},
		{"missing jwt secret", func(c *Config) { c.API.JWTSecret = "" }, "api.jwt_secret is required"},
		{"negative rate limit", func(c *Config) { c.API.RateLimit = -1 }, "api.rate_limit"},
		{"delays inverted", func(c *Config) {
			c.Dispatch.MinDelay = time.Second
			c.Dispatch.MaxDelay = time.Millisecond
		}, "dispatch.max_delay"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid logging.level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid logging.format"},
		{"certs and acme", func(c *Config) {
			c.API.TLS.CertFile = "c.pem"
			c.API.TLS.KeyFile = "k.pem"
			c.API.TLS.ACME.Enabled = true
		}, "both manual certificates and ACME"},
		{"cert without key", func(c *Config) { c.API.TLS.CertFile = "c.pem" }, "api.tls.key_file"},
		{"acme without email", func(c *Config) {
			c.API.TLS.ACME.Enabled = true
			c.API.TLS.ACME.Domains = []string{"track.example.com"}
		}, "api.tls.acme.email"},
		{"acme without domains", func(c *Config) {
			c.API.TLS.ACME.Enabled = true
			c.API.TLS.ACME.Email = "ops@example.com"
		}, "api.tls.acme.domains"},
		{"dkim without selector", func(c *Config) {
			c.DKIM = DKIMConfig{Enabled: true, KeyFile: "k.pem", Domain: "example.com"}
		}, "dkim.selector"},
		{"dkim without key", func(c *Config) {
			c.DKIM = DKIMConfig{Enabled: true, Selector: "beacon", Domain: "example.com"}
		}, "dkim.key_file"},
		{"dkim without domain", func(c *Config) {
			c.DKIM = DKIMConfig{Enabled: true, Selector: "beacon", KeyFile: "k.pem"}
		}, "dkim.domain"},
		{"seed without host", func(c *Config) { c.Transport.SMTP = &SMTPSeed{User: "u"} }, "transport.smtp.host"},
		{"seed without user", func(c *Config) { c.Transport.SMTP = &SMTPSeed{Host: "h"} }, "transport.smtp.user"},
		{"seed port", func(c *Config) { c.Transport.SMTP = &SMTPSeed{Host: "h", User: "u", Port: 70000} }, "transport.smtp.port"},
		{"metrics bad ip", func(c *Config) { c.Metrics.AllowedIPs = []string{"10.0.0.0/8", "nope"} }, "metrics.allowed_ips"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHasTLS(t *testing.T) {
	cfg := validConfig()
	if cfg.HasTLS() {
		t.Error("HasTLS() = true without TLS settings")
	}
	cfg.API.TLS.CertFile = "c.pem"
	cfg.API.TLS.KeyFile = "k.pem"
	if !cfg.HasTLS() {
		t.Error("HasTLS() = false with certificate files")
	}
}
