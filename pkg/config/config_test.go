package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.Production {
		t.Error("production should be disabled by default")
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected 30s read timeout, got %v", cfg.Server.ReadTimeout)
	}
}

func TestDefaultConfig_Session(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.CookieName != "github_token" {
		t.Errorf("expected cookie github_token, got %q", cfg.Session.CookieName)
	}
	if cfg.Session.MaxAge != 30*24*time.Hour {
		t.Errorf("expected 30 day max age, got %v", cfg.Session.MaxAge)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Session.Backend)
	}
}

func TestDefaultConfig_GitHub(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GitHub.APIURL != "https://api.github.com" {
		t.Errorf("got api url %q", cfg.GitHub.APIURL)
	}
	want := []string{"read:user", "user:email", "repo"}
	if len(cfg.GitHub.Scopes) != len(want) {
		t.Fatalf("got scopes %v", cfg.GitHub.Scopes)
	}
	for i := range want {
		if cfg.GitHub.Scopes[i] != want[i] {
			t.Errorf("scope %d = %q, want %q", i, cfg.GitHub.Scopes[i], want[i])
		}
	}
	if cfg.GitHub.RequestsPerSecond != 0 {
		t.Error("upstream pacing should be unlimited by default")
	}
}

func TestDefaultConfig_Workflow(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Workflow.TestsDir != "tests" {
		t.Errorf("expected tests dir, got %q", cfg.Workflow.TestsDir)
	}
	if cfg.Workflow.MaxConcurrentWrites != 4 {
		t.Errorf("expected 4 concurrent writes, got %d", cfg.Workflow.MaxConcurrentWrites)
	}
	if !cfg.Workflow.ReuseOpenPR {
		t.Error("open PR reuse should be enabled by default")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("TP_TEST_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  http_port: 9000
github:
  client_id: abc
  client_secret: ${TP_TEST_SECRET}
workflow:
  max_concurrent_writes: 2
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.HTTPPort)
	}
	if cfg.GitHub.ClientSecret != "s3cret" {
		t.Errorf("expected expanded secret, got %q", cfg.GitHub.ClientSecret)
	}
	if cfg.Workflow.MaxConcurrentWrites != 2 {
		t.Errorf("expected 2 writes, got %d", cfg.Workflow.MaxConcurrentWrites)
	}
	// untouched sections keep defaults
	if cfg.Session.CookieName != "github_token" {
		t.Errorf("expected default cookie name, got %q", cfg.Session.CookieName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("server: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GITHUB_CLIENT_ID", "env-id")
	t.Setenv("TESTPILOT_ENV", "production")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("NATS_URL", "nats://bus:4222")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.GitHub.ClientID != "env-id" {
		t.Errorf("got client id %q", cfg.GitHub.ClientID)
	}
	if !cfg.Server.Production {
		t.Error("expected production mode")
	}
	if cfg.Session.Backend != "redis" || cfg.Session.RedisURL != "redis://cache:6379/0" {
		t.Errorf("got session %+v", cfg.Session)
	}
	if !cfg.Messaging.Enabled || cfg.Messaging.NATSURL != "nats://bus:4222" {
		t.Errorf("got messaging %+v", cfg.Messaging)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing client id", func(c *Config) { c.GitHub.ClientID = "" }, true},
		{"zero writes", func(c *Config) { c.Workflow.MaxConcurrentWrites = 0 }, true},
		{"redis without url", func(c *Config) { c.Session.Backend = "redis" }, true},
		{"unknown backend", func(c *Config) { c.Session.Backend = "disk" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GitHub.ClientID = "id"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
