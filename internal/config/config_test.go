package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.ModulesDir, cfg.ModulesDir)
	assert.Equal(t, d.Workers, cfg.Workers)
	assert.Equal(t, d.ShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, d.Deploy.Debounce, cfg.Deploy.Debounce)
	assert.Equal(t, d.System, SystemConfig{Name: cfg.System.Name, Version: cfg.System.Version})
	assert.Empty(t, cfg.BootPackages)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules_dir: /srv/modules
workers: 3
shutdown_timeout: 5s
boot_packages: ["host.api", "host.spi.*"]
system:
  packages: ["bindery.api"]
deploy:
  dir: /srv/deploy
  watch: true
`), 0o600))
	t.Setenv("BINDERY_WORKERS", "16")
	t.Setenv("BINDERY_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/modules", cfg.ModulesDir)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"host.api", "host.spi.*"}, cfg.BootPackages)
	assert.Equal(t, []string{"bindery.api"}, cfg.System.Packages)
	assert.Equal(t, "bindery.system", cfg.System.Name)
	assert.True(t, cfg.Deploy.Watch)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	cfg.Log.Level = "loud"
	cfg.Deploy.Watch = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors(), 3)
}
