package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file
const (
	EnvJWTSecret   = "BEACON_JWT_SECRET"
	EnvSMTPPass    = "BEACON_SMTP_PASS"
	EnvBaseURL     = "BEACON_BASE_URL"
	EnvStoragePath = "BEACON_STORAGE_PATH"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Transport TransportConfig `yaml:"transport"`
	DKIM      DKIMConfig      `yaml:"dkim"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // Used in HELO and Message-ID
	BaseURL  string `yaml:"base_url"` // Public URL of the tracking endpoints
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	RateLimit      int           `yaml:"rate_limit"`       // Requests per minute per IP on authenticated routes (default: 120)
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	CORSOrigins    []string      `yaml:"cors_origins"`     // Browser origins allowed to call the API (default: any)
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS certificate settings
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Email         string   `yaml:"email"`
	Domains       []string `yaml:"domains"`
	CacheDir      string   `yaml:"cache_dir"`
	ChallengeAddr string   `yaml:"challenge_addr"` // HTTP-01 listener (default: :80)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DispatchConfig contains send loop settings
type DispatchConfig struct {
	MinDelay          time.Duration `yaml:"min_delay"`          // Default: 50ms
	MaxDelay          time.Duration `yaml:"max_delay"`          // Default: 500ms
	SendTimeout       time.Duration `yaml:"send_timeout"`       // Per message (default: 2m)
	ResumeInterrupted *bool         `yaml:"resume_interrupted"` // Default: true
	ScheduleInterval  time.Duration `yaml:"schedule_interval"`  // Default: 30s
}

// Resume reports whether interrupted sends are resumed at startup
func (d DispatchConfig) Resume() bool {
	return d.ResumeInterrupted == nil || *d.ResumeInterrupted
}

// TransportConfig contains relay connection pool settings
type TransportConfig struct {
	MaxConnections           int           `yaml:"max_connections"`             // Default: 5
	MaxMessagesPerConnection int           `yaml:"max_messages_per_connection"` // Default: 100
	ConnectionTimeout        time.Duration `yaml:"connection_timeout"`          // Default: 20s
	GreetingTimeout          time.Duration `yaml:"greeting_timeout"`            // Default: 20s
	SocketTimeout            time.Duration `yaml:"socket_timeout"`              // Default: 60s
	IdleTimeout              time.Duration `yaml:"idle_timeout"`                // Default: 30s
	HeloHostname             string        `yaml:"helo_hostname"`               // Default: server.hostname
	SMTP                     *SMTPSeed     `yaml:"smtp,omitempty"`              // Written to the store when it has no settings
}

// SMTPSeed contains initial relay settings
type SMTPSeed struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Secure     bool   `yaml:"secure"`
	User       string `yaml:"user"`
	Pass       string `yaml:"pass"`
	SenderName string `yaml:"sender_name"`
	ReplyTo    string `yaml:"reply_to"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :9090
	Path            string        `yaml:"path"`             // Default: /metrics
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Default: 15s
	AllowedIPs      []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to scrape (empty = allow all)
}

// Load loads configuration from a YAML file. Values from a .env file in the
// working directory and the environment override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// A missing .env file is not an error
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets and paths from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.API.JWTSecret = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvSMTPPass); v != "" && c.Transport.SMTP != nil {
		c.Transport.SMTP.Pass = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = 120
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}
	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/beacon/certs"
	}
	if c.API.TLS.ACME.ChallengeAddr == "" {
		c.API.TLS.ACME.ChallengeAddr = ":80"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/beacon/beacon.db"
	}

	if c.Dispatch.MinDelay == 0 && c.Dispatch.MaxDelay == 0 {
		c.Dispatch.MinDelay = 50 * time.Millisecond
		c.Dispatch.MaxDelay = 500 * time.Millisecond
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 2 * time.Minute
	}
	if c.Dispatch.ResumeInterrupted == nil {
		resume := true
		c.Dispatch.ResumeInterrupted = &resume
	}
	if c.Dispatch.ScheduleInterval == 0 {
		c.Dispatch.ScheduleInterval = 30 * time.Second
	}

	if c.Transport.MaxConnections == 0 {
		c.Transport.MaxConnections = 5
	}
	if c.Transport.MaxMessagesPerConnection == 0 {
		c.Transport.MaxMessagesPerConnection = 100
	}
	if c.Transport.ConnectionTimeout == 0 {
		c.Transport.ConnectionTimeout = 20 * time.Second
	}
	if c.Transport.GreetingTimeout == 0 {
		c.Transport.GreetingTimeout = 20 * time.Second
	}
	if c.Transport.SocketTimeout == 0 {
		c.Transport.SocketTimeout = 60 * time.Second
	}
	if c.Transport.IdleTimeout == 0 {
		c.Transport.IdleTimeout = 30 * time.Second
	}
	if c.Transport.HeloHostname == "" {
		c.Transport.HeloHostname = c.Server.Hostname
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.RefreshInterval == 0 {
		c.Metrics.RefreshInterval = 15 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute http(s) URL: %q", c.Server.BaseURL)
	}

	if c.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is required (or set %s)", EnvJWTSecret)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}

	if c.Dispatch.MinDelay < 0 || c.Dispatch.MaxDelay < 0 {
		return fmt.Errorf("dispatch delays must not be negative")
	}
	if c.Dispatch.MaxDelay < c.Dispatch.MinDelay {
		return fmt.Errorf("dispatch.max_delay (%s) is less than dispatch.min_delay (%s)", c.Dispatch.MaxDelay, c.Dispatch.MinDelay)
	}

	if c.Transport.MaxConnections < 0 || c.Transport.MaxMessagesPerConnection < 0 {
		return fmt.Errorf("transport limits must not be negative")
	}
	if err := c.validateSMTPSeed(); err != nil {
		return err
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateTLS(); err != nil {
		return err
	}
	if err := c.validateDKIM(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}

	return nil
}

// validateTLS validates TLS configuration
func (c *Config) validateTLS() error {
	tls := c.API.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""
	hasACME := tls.ACME.Enabled

	if hasCerts && hasACME {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts {
		if tls.CertFile == "" {
			return fmt.Errorf("api.tls.cert_file is required when using manual certificates")
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("api.tls.key_file is required when using manual certificates")
		}
	}

	if hasACME {
		if tls.ACME.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}

	if c.DKIM.Selector == "" {
		return fmt.Errorf("dkim.selector is required when DKIM is enabled")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}

	return nil
}

// validateSMTPSeed validates the optional initial relay settings
func (c *Config) validateSMTPSeed() error {
	seed := c.Transport.SMTP
	if seed == nil {
		return nil
	}
	if seed.Host == "" {
		return fmt.Errorf("transport.smtp.host is required")
	}
	if seed.User == "" {
		return fmt.Errorf("transport.smtp.user is required")
	}
	if seed.Port < 0 || seed.Port > 65535 {
		return fmt.Errorf("transport.smtp.port out of range: %d", seed.Port)
	}
	return nil
}

// validateMetrics validates the metrics allow-list
func (c *Config) validateMetrics() error {
	for _, entry := range c.Metrics.AllowedIPs {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("metrics.allowed_ips: invalid IP or CIDR %q", entry)
		}
	}
	return nil
}

// HasTLS returns true if TLS is configured for the API listener
func (c *Config) HasTLS() bool {
	return (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "") || c.API.TLS.ACME.Enabled
}
