package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for the testpilot server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GitHub    GitHubConfig    `yaml:"github"`
	Session   SessionConfig   `yaml:"session"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Messaging MessagingConfig `yaml:"messaging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	PublicURL    string        `yaml:"public_url"` // Used to build the OAuth redirect URI
	Production   bool          `yaml:"production"` // Enables Secure cookies
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// GitHubConfig configures the upstream API and the OAuth application
type GitHubConfig struct {
	APIURL            string   `yaml:"api_url"`
	AuthorizeURL      string   `yaml:"authorize_url"`
	TokenURL          string   `yaml:"token_url"`
	ClientID          string   `yaml:"client_id"`
	ClientSecret      string   `yaml:"client_secret"`
	Scopes            []string `yaml:"scopes"`
	RequestsPerSecond float64  `yaml:"requests_per_second"` // 0 = unlimited
	Burst             int      `yaml:"burst"`
}

// SessionConfig configures the credential cookie and the per-session workspace
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	MaxAge     time.Duration `yaml:"max_age"`
	CookieKey  string        `yaml:"cookie_key"` // Seals the token when set
	Backend    string        `yaml:"backend"`    // "memory" or "redis"
	RedisURL   string        `yaml:"redis_url"`
}

// WorkflowConfig controls the pull request workflow
type WorkflowConfig struct {
	TestsDir            string `yaml:"tests_dir"`
	MaxConcurrentWrites int    `yaml:"max_concurrent_writes"`
	MaxConcurrentReads  int    `yaml:"max_concurrent_reads"`
	ReuseOpenPR         bool   `yaml:"reuse_open_pr"`
}

// MessagingConfig configures workflow event publishing
type MessagingConfig struct {
	Enabled    bool          `yaml:"enabled"`
	NATSURL    string        `yaml:"nats_url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // Empty disables trace export
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// SecurityConfig configures CORS and OAuth state signing
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	StateSecret    string   `yaml:"state_secret"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path.
// Values absent from the file keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of DefaultConfig.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables (e.g. ${GITHUB_CLIENT_SECRET}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			PublicURL:    "http://localhost:8080",
			Production:   false,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // upstream calls carry no deadline of their own
			IdleTimeout:  120 * time.Second,
		},
		GitHub: GitHubConfig{
			APIURL:       "https://api.github.com",
			AuthorizeURL: "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			Scopes:       []string{"read:user", "user:email", "repo"},
			Burst:        1,
		},
		Session: SessionConfig{
			CookieName: "github_token",
			MaxAge:     30 * 24 * time.Hour,
			Backend:    "memory",
		},
		Workflow: WorkflowConfig{
			TestsDir:            "tests",
			MaxConcurrentWrites: 4,
			MaxConcurrentReads:  8,
			ReuseOpenPR:         true,
		},
		Messaging: MessagingConfig{
			Enabled:    false,
			NATSURL:    "nats://localhost:4222",
			StreamName: "TESTPILOT",
			Timeout:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "testpilot",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{},
		},
	}
}

// ApplyEnv overrides configuration with well-known environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GITHUB_CLIENT_ID"); v != "" {
		c.GitHub.ClientID = v
	}
	if v := os.Getenv("GITHUB_CLIENT_SECRET"); v != "" {
		c.GitHub.ClientSecret = v
	}
	if v := os.Getenv("TESTPILOT_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	if v := os.Getenv("TESTPILOT_ENV"); v != "" {
		c.Server.Production = strings.EqualFold(v, "production")
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Session.Backend = "redis"
		c.Session.RedisURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Messaging.Enabled = true
		c.Messaging.NATSURL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.GitHub.ClientID == "" {
		return fmt.Errorf("github.client_id is required")
	}
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got %d", c.Server.HTTPPort)
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive")
	}
	if c.Workflow.MaxConcurrentWrites <= 0 {
		return fmt.Errorf("workflow.max_concurrent_writes must be positive, got %d", c.Workflow.MaxConcurrentWrites)
	}
	if c.Workflow.MaxConcurrentReads <= 0 {
		return fmt.Errorf("workflow.max_concurrent_reads must be positive, got %d", c.Workflow.MaxConcurrentReads)
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	return nil
}
