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
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "single", cfg.Redis.Mode)
	assert.Equal(t, DefaultExchange, cfg.Bus.Exchange)
	assert.Equal(t, DefaultPrefetch, cfg.Bus.Prefetch)

	require.NoError(t, cfg.Resolve())
	assert.Equal(t, "memory", cfg.Bus.Driver)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
  publicUrl: https://quiz.example
redis:
  addrs: ["r1:6379", "r2:6379"]
  mode: cluster
session:
  ttl: 2h
bus:
  retryBackoff: 1s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Resolve())
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Bus.Driver)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 2*time.Hour, Duration(cfg.Session.TTL, DefaultSessionTTL))
	assert.Equal(t, time.Second, Duration(cfg.Bus.RetryBackoff, DefaultRetryBackoff))
	assert.Equal(t, DefaultPublishTimeout, Duration(cfg.Bus.PublishTimeout, DefaultPublishTimeout))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveRejectsBadSettings(t *testing.T) {
	cases := map[string]Config{
		"redis bus without redis": {Server: ServerConfig{Port: "8080"}, Bus: BusConfig{Driver: "redis"}},
		"amqp without url":        {Server: ServerConfig{Port: "8080"}, Bus: BusConfig{Driver: "amqp"}},
		"unknown driver":          {Server: ServerConfig{Port: "8080"}, Bus: BusConfig{Driver: "kafka"}},
		"bad port":                {Server: ServerConfig{Port: "http"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Resolve())
		})
	}
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
	assert.Equal(t, 90*time.Second, Duration("1m30s", time.Minute))
}
