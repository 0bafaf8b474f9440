package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/pickpool/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Cache struct {
		Prefix string
		TTL    time.Duration
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(p, []byte("http:\n  port: 9090\ncache:\n  ttl: 45s\n"), 0o600)
	require.NoError(t, err)

	var c testConfig
	c.Cache.Prefix = "default"

	require.NoError(t, config.Load(p, &c))
	require.EqualValues(t, 9090, c.HTTP.Port)
	require.Equal(t, 45*time.Second, c.Cache.TTL)
	require.Equal(t, "default", c.Cache.Prefix, "unset keys should keep their defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("http:\n  port: 9090\n"), 0o600))
	t.Setenv("HTTP_PORT", "7070")

	var c testConfig
	require.NoError(t, config.Load(p, &c))
	require.EqualValues(t, 7070, c.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	require.Error(t, err)
}
