package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 100, cfg.Server.RateLimit.RequestsPerSecond)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 3*time.Second, cfg.Compliance.ValidationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Compliance.LicenceCacheTTL)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.Compliance.PermittedCorridors)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: production
server:
  port: 9090
  read_timeout: 10s
compliance:
  validation_timeout: 2s
  permitted_corridors:
    - NL-DE
    - NL-BE
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Compliance.ValidationTimeout)
	assert.Equal(t, []string{"NL-DE", "NL-BE"}, cfg.Compliance.PermittedCorridors)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COMPLIANCE_ENVIRONMENT", "staging")
	t.Setenv("COMPLIANCE_SERVER_PORT", "7070")
	t.Setenv("COMPLIANCE_DATABASE_URL", "postgres://localhost:5432/compliance")

	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost:5432/compliance", cfg.Database.URL)
}

func TestEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))
	t.Setenv("COMPLIANCE_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "non-positive validation timeout",
			mutate:  func(c *Config) { c.Compliance.ValidationTimeout = 0 },
			wantErr: "validation timeout",
		},
		{
			name:    "malformed corridor",
			mutate:  func(c *Config) { c.Compliance.PermittedCorridors = []string{"NLDE"} },
			wantErr: "malformed corridor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("nonexistent.yaml")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
