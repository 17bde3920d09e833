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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendGit, cfg.Backend)
	assert.Equal(t, "registry", cfg.Registry.Branch)
	assert.Equal(t, "users.json", cfg.Registry.Path)
	assert.Equal(t, 30*time.Second, cfg.Registry.MaxAge)
	assert.Equal(t, "user/", cfg.Entity.Prefix)
	assert.Equal(t, 0, cfg.Retries.Conflict)
	assert.Equal(t, 10*time.Second, cfg.GitHub.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchdb.yaml")
	err := os.WriteFile(path, []byte(`
backend: github
github:
  owner: acme
  repo: profiles
  token: from-file
  timeout: 3s
registry:
  max_age: 1m
retries:
  conflict: 2
`), 0o644)
	require.NoError(t, err)

	t.Setenv("BRANCHDB_GITHUB_TOKEN", "from-env")
	t.Setenv("BRANCHDB_CACHE_BACKEND", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendGitHub, cfg.Backend)
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, "from-env", cfg.GitHub.Token)
	assert.Equal(t, 3*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, time.Minute, cfg.Registry.MaxAge)
	assert.Equal(t, 2, cfg.Retries.Conflict)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"github needs repo", func(c *Config) { c.Backend = BackendGitHub; c.GitHub.Owner = "acme"; c.GitHub.Token = "t" }, "github.repo is required"},
		{"github needs credentials", func(c *Config) { c.Backend = BackendGitHub; c.GitHub.Owner = "acme"; c.GitHub.Repo = "r" }, "github.token or github app credentials"},
		{"partial app credentials", func(c *Config) {
			c.Backend = BackendGitHub
			c.GitHub.Owner, c.GitHub.Repo, c.GitHub.AppID = "acme", "r", "123"
		}, "github.installation_id is required"},
		{"s3 needs bucket", func(c *Config) { c.Backend = BackendS3 }, "s3.bucket is required"},
		{"unknown backend", func(c *Config) { c.Backend = "ftp" }, `unknown backend "ftp"`},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "unknown cache backend"},
		{"registry inside entity namespace", func(c *Config) { c.Registry.Branch = "user/registry" }, "must not start with entity.prefix"},
		{"negative retries", func(c *Config) { c.Retries.Conflict = -1 }, "retries must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateServer(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.ErrorIs(t, cfg.ValidateServer(), ErrInvalidConfig)

	cfg.Server.JWTSecret = "secret"
	assert.NoError(t, cfg.ValidateServer())
}
