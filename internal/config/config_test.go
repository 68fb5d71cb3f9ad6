package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, args ...string) *Config {
	t.Helper()
	var cfg Config
	cmd := &cobra.Command{Use: "test"}
	AddCommonFlags(cmd.Flags(), &cfg)
	require.NoError(t, cmd.Flags().Parse(args))

	loader := NewLoader()
	require.NoError(t, loader.Initialize(cmd))
	require.NoError(t, loader.Load(&cfg))
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := loadConfig(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "shareloft.db", cfg.Store.Path)
	assert.Equal(t, 15*time.Second, cfg.Upload.PlanTimeout)
	assert.Equal(t, int64(10<<30), cfg.Upload.MaxFileSize)
	assert.Equal(t, 24*time.Hour, cfg.Upload.SessionRetention)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.True(t, cfg.Cron.Enable)
}

func TestFlagOverride(t *testing.T) {
	cfg := loadConfig(t,
		"--server-port", "9090",
		"--upload-plan-timeout", "30s",
		"--upload-session-retention", "2d")

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Upload.PlanTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Upload.SessionRetention)
}

func TestConfigFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[s3]
bucket = "shares-bucket"
region = "us-east-1"

[upload]
plan-timeout = "30s"
session-retention = "2d"
`), 0o644))

	cfg := loadConfig(t, "--config", path)

	assert.Equal(t, "shares-bucket", cfg.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.Equal(t, 30*time.Second, cfg.Upload.PlanTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Upload.SessionRetention)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWT:      JWTConfig{Secret: "secret"},
			S3:       S3Config{Region: "us-east-1", Bucket: "shares"},
			Upload:   UploadConfig{MaxFileSize: 10 << 30},
			Pipeline: PipelineConfig{BatchSize: 100},
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing bucket", func(c *Config) { c.S3.Bucket = "" }},
		{"missing region", func(c *Config) { c.S3.Region = "" }},
		{"missing jwt secret", func(c *Config) { c.JWT.Secret = "" }},
		{"zero max file size", func(c *Config) { c.Upload.MaxFileSize = 0 }},
		{"zero batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
