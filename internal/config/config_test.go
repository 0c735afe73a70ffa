package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
)

func TestDefaultsMatchQualityGates(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20.0, cfg.Quality.CloudCapPercent)
	assert.Equal(t, 0.60, cfg.Quality.MinValidPixelRatio)
	assert.Equal(t, 0.98, cfg.Quality.MinSceneCoverageRatio)
	assert.Equal(t, 10000.0, cfg.Quality.MaxParcelAreaHa)
	assert.Equal(t, 30*time.Minute, cfg.SR.Local.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
port: ":9090"
quality:
  cloud_cap_percent: 35
sr:
  provider: debug-upsample
  local:
    timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SR_PROVIDER", "external")
	t.Setenv("SR_EXTERNAL_TIMEOUT", "120")
	t.Setenv("MIN_VALID_PIXEL_RATIO", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, 35.0, cfg.Quality.CloudCapPercent)
	assert.Equal(t, 0.5, cfg.Quality.MinValidPixelRatio)
	assert.Equal(t, "external", cfg.SR.Provider)
	assert.Equal(t, 45*time.Second, cfg.SR.Local.Timeout)
	assert.Equal(t, 120*time.Second, cfg.SR.External.Timeout)
	// untouched defaults survive the overlay
	assert.Equal(t, 0.98, cfg.Quality.MinSceneCoverageRatio)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cloud cap", func(c *Config) { c.Quality.CloudCapPercent = 120 }},
		{"valid ratio", func(c *Config) { c.Quality.MinValidPixelRatio = -0.1 }},
		{"coverage", func(c *Config) { c.Quality.MinSceneCoverageRatio = 1.5 }},
		{"area", func(c *Config) { c.Quality.MaxParcelAreaHa = 0 }},
		{"workers", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"catalog mode", func(c *Config) { c.Catalog.Mode = "magic" }},
		{"local model dir", func(c *Config) { c.SR.Provider = "local-model"; c.SR.Local.ModelDir = " " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidConfig, apperr.CodeOf(err))
		})
	}
}
