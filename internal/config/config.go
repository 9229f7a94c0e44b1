// Package config loads process configuration for the taskstream commands.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/UniQw/taskstream"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Status   StatusConfig   `mapstructure:"status"`
	Streams  []StreamConfig `mapstructure:"streams"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type StatusConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Strict bool          `mapstructure:"strict"`
}

type StreamConfig struct {
	Name         string        `mapstructure:"name"`
	Group        string        `mapstructure:"group"`
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
	MaxLen       int64         `mapstructure:"maxlen"`
}

type ConsumerConfig struct {
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockTimeout  time.Duration `mapstructure:"block_timeout"`
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
}

type ReaperConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	IdleThreshold    time.Duration `mapstructure:"idle_threshold"`
	PendingThreshold int64         `mapstructure:"pending_threshold"`
	Schedule         string        `mapstructure:"schedule"`
}

type HTTPConfig struct {
	// Addr enables the status endpoint of the worker when set.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads path (any format viper understands) and applies TASKSTREAM_*
// environment overrides, e.g. TASKSTREAM_REDIS_URL. An empty path uses
// defaults and the environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("taskstream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("status.ttl", taskstream.DefaultStatusTTL)
	v.SetDefault("status.strict", false)
	v.SetDefault("streams", []map[string]any{{
		"name":           "demo-best-practice-stream",
		"group":          "demo-best-practice-group",
		"claim_min_idle": "60s",
		"maxlen":         200,
	}})
	v.SetDefault("consumer.batch_size", 10)
	v.SetDefault("consumer.block_timeout", time.Second)
	v.SetDefault("consumer.claim_interval", 5*time.Second)
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.idle_threshold", taskstream.DefaultReapIdleThreshold)
	v.SetDefault("reaper.pending_threshold", 0)
	v.SetDefault("log.level", "info")
}

func (c Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Status.TTL <= 0 {
		return fmt.Errorf("status.ttl must be positive")
	}
	if len(c.Streams) == 0 {
		return fmt.Errorf("at least one stream is required")
	}
	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		if s.Name == "" || s.Group == "" {
			return fmt.Errorf("streams[%d]: name and group are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("streams[%d]: duplicate stream %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.ClaimMinIdle <= 0 {
			return fmt.Errorf("streams[%d]: claim_min_idle must be positive", i)
		}
		if s.MaxLen < 0 {
			return fmt.Errorf("streams[%d]: maxlen must not be negative", i)
		}
	}
	if c.Consumer.BatchSize <= 0 {
		return fmt.Errorf("consumer.batch_size must be positive")
	}
	if c.Reaper.IdleThreshold <= 0 {
		return fmt.Errorf("reaper.idle_threshold must be positive")
	}
	if c.Reaper.PendingThreshold < 0 {
		return fmt.Errorf("reaper.pending_threshold must not be negative")
	}
	if c.Reaper.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reaper.Schedule); err != nil {
			return fmt.Errorf("reaper.schedule: %w", err)
		}
	}
	if _, err := taskstream.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Stream returns the configuration of the named stream.
func (c Config) Stream(name string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}

// Topologies builds one topology per configured stream for the process identity.
func (c Config) Topologies(id taskstream.ConsumerIdentity) []taskstream.Topology {
	out := make([]taskstream.Topology, 0, len(c.Streams))
	for _, s := range c.Streams {
		out = append(out, taskstream.NewTopology(s.Name, s.Group, id, s.ClaimMinIdle))
	}
	return out
}

// ServerConfig maps consumer and reaper settings onto a server configuration.
func (c Config) ServerConfig(id taskstream.ConsumerIdentity, log taskstream.Logger) taskstream.ServerConfig {
	return taskstream.ServerConfig{
		Topologies:           c.Topologies(id),
		BatchSize:            c.Consumer.BatchSize,
		BlockTimeout:         c.Consumer.BlockTimeout,
		ClaimInterval:        c.Consumer.ClaimInterval,
		ReapIdleThreshold:    c.Reaper.IdleThreshold,
		ReapPendingThreshold: c.Reaper.PendingThreshold,
		DisableStartupReap:   !c.Reaper.Enabled,
		ReapSchedule:         c.Reaper.Schedule,
		Logger:               log,
	}
}

// Logger builds the logger selected by log.level.
func (c Config) Logger() taskstream.Logger {
	lvl, err := taskstream.ParseLevel(c.Log.Level)
	if err != nil {
		lvl = taskstream.LevelInfo
	}
	return taskstream.NewLeveledLogger(lvl)
}

// Connect opens a client for url and checks it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
