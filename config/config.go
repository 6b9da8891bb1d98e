// Package config loads the engine configuration from YAML with sane
// defaults for every knob.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Tree       TreeConfig       `mapstructure:"tree"`
	Forest     ForestConfig     `mapstructure:"forest"`
	Blackboard BlackboardConfig `mapstructure:"blackboard"`
	Comm       CommConfig       `mapstructure:"comm"`
	Store      StoreConfig      `mapstructure:"store"`
	Log        LogConfig        `mapstructure:"log"`
}

type TreeConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type ForestConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

type BlackboardConfig struct {
	CacheCapacity int           `mapstructure:"cache_capacity"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type CommConfig struct {
	AuditLimit   int `mapstructure:"audit_limit"`
	HistoryLimit int `mapstructure:"history_limit"`
	QueueLimit   int `mapstructure:"queue_limit"`
}

type StoreConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tree.tick_interval", "100ms")
	v.SetDefault("forest.monitor_interval", "1s")
	v.SetDefault("blackboard.cache_capacity", 1000)
	v.SetDefault("blackboard.cache_ttl", "300ms")
	v.SetDefault("comm.audit_limit", 1000)
	v.SetDefault("comm.history_limit", 100)
	v.SetDefault("comm.queue_limit", 1000)
	v.SetDefault("store.local_gc_interval", "30s")
	v.SetDefault("store.local_pubsub_buf", 256)
	v.SetDefault("log.debug", false)
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads config from the given YAML file path. Keys absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
