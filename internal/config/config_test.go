package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/UniQw/taskstream"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "redis://127.0.0.1:6379/0", cfg.Redis.URL)
	require.Equal(t, 72*time.Hour, cfg.Status.TTL)
	require.False(t, cfg.Status.Strict)
	require.Equal(t, []StreamConfig{{
		Name:         "demo-best-practice-stream",
		Group:        "demo-best-practice-group",
		ClaimMinIdle: time.Minute,
		MaxLen:       200,
	}}, cfg.Streams)
	require.Equal(t, int64(10), cfg.Consumer.BatchSize)
	require.True(t, cfg.Reaper.Enabled)
	require.Equal(t, 72*time.Hour, cfg.Reaper.IdleThreshold)
	require.Zero(t, cfg.Reaper.PendingThreshold)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("TASKSTREAM_REDIS_URL", "redis://cache:6380/2")
	t.Setenv("TASKSTREAM_STATUS_STRICT", "true")

	path := filepath.Join(t.TempDir(), "taskstream.yaml")
	content := []byte(`
redis:
  url: redis://localhost:6379/0
status:
  ttl: 24h
streams:
  - name: orders
    group: order-workers
    claim_min_idle: 30s
    maxlen: 1000
  - name: emails
    group: mailers
    claim_min_idle: 2m
consumer:
  batch_size: 50
  block_timeout: 2s
  claim_interval: 10s
reaper:
  idle_threshold: 48h
  pending_threshold: 1
  schedule: "@every 6h"
http:
  addr: ":8080"
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis://cache:6380/2", cfg.Redis.URL, "env should override the file")
	require.True(t, cfg.Status.Strict)
	require.Equal(t, 24*time.Hour, cfg.Status.TTL)
	require.Len(t, cfg.Streams, 2)
	require.Equal(t, 30*time.Second, cfg.Streams[0].ClaimMinIdle)
	require.Equal(t, int64(1000), cfg.Streams[0].MaxLen)
	require.Equal(t, int64(50), cfg.Consumer.BatchSize)
	require.Equal(t, 2*time.Second, cfg.Consumer.BlockTimeout)
	require.Equal(t, 48*time.Hour, cfg.Reaper.IdleThreshold)
	require.Equal(t, "@every 6h", cfg.Reaper.Schedule)
	require.Equal(t, ":8080", cfg.HTTP.Addr)

	s, ok := cfg.Stream("emails")
	require.True(t, ok)
	require.Equal(t, "mailers", s.Group)
	_, ok = cfg.Stream("nope")
	require.False(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}
	cases := map[string]func(*Config){
		"no redis url":     func(c *Config) { c.Redis.URL = "" },
		"zero ttl":         func(c *Config) { c.Status.TTL = 0 },
		"no streams":       func(c *Config) { c.Streams = nil },
		"missing group":    func(c *Config) { c.Streams[0].Group = "" },
		"duplicate stream": func(c *Config) { c.Streams = append(c.Streams, c.Streams[0]) },
		"zero claim idle":  func(c *Config) { c.Streams[0].ClaimMinIdle = 0 },
		"negative maxlen":  func(c *Config) { c.Streams[0].MaxLen = -1 },
		"zero batch":       func(c *Config) { c.Consumer.BatchSize = 0 },
		"zero reap idle":   func(c *Config) { c.Reaper.IdleThreshold = 0 },
		"negative pending": func(c *Config) { c.Reaper.PendingThreshold = -1 },
		"bad schedule":     func(c *Config) { c.Reaper.Schedule = "sometimes" },
		"bad log level":    func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestServerConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Reaper.Enabled = false

	id := taskstream.ConsumerIdentity("p1")
	sc := cfg.ServerConfig(id, cfg.Logger())
	require.True(t, sc.DisableStartupReap)
	require.Len(t, sc.Topologies, 1)
	require.Equal(t, "demo-best-practice-group-p1", sc.Topologies[0].MainConsumer)
	require.Equal(t, "demo-best-practice-group-p1-claiming", sc.Topologies[0].ClaimingConsumer)
	require.Equal(t, time.Minute, sc.Topologies[0].ClaimMinIdle)
	require.NotNil(t, sc.Logger)
}

func TestConnect(t *testing.T) {
	s := mrd.RunT(t)
	ctx := context.Background()

	rdb, err := Connect(ctx, "redis://"+s.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Connect(ctx, "not a url")
	require.Error(t, err)

	s.Close()
	_, err = Connect(ctx, "redis://"+s.Addr()+"/0")
	require.Error(t, err)
}
