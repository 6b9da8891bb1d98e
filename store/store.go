// Package store abstracts the backend used to mirror forest-scope
// shared state and to bridge pub/sub across processes. A forest on one
// machine runs entirely on the in-process backend; cooperating forests
// on several machines point at the same Redis instance.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arborbt/arbor/store/local"
	storeredis "github.com/arborbt/arbor/store/redis"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store defines the KV operations shared state mirroring needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// Config holds settings for both backends.
type Config struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// New returns a Store backed by Redis if RedisAddr is set, otherwise an
// in-process store.
func New(cfg Config) (Store, error) {
	if cfg.RedisAddr != "" {
		s, err := storeredis.NewStore(storeredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisStoreAdapter{s: s}, nil
	}
	s, err := local.NewStore(local.Config{GCInterval: cfg.LocalGCInterval})
	if err != nil {
		return nil, err
	}
	return &localStoreAdapter{s: s}, nil
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process fan-out.
func NewPubSub(cfg Config) (PubSub, error) {
	bufSize := cfg.LocalPubSubBuf
	if bufSize <= 0 {
		bufSize = 256
	}
	if cfg.RedisAddr != "" {
		rps, err := storeredis.NewPubSub(storeredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisPubSubAdapter{ps: rps}, nil
	}
	return &localPubSubAdapter{ps: local.NewPubSub(bufSize)}, nil
}

// ---- adapters to bridge sub-package types and sentinels ----

type localStoreAdapter struct {
	s *local.Store
}

func (a *localStoreAdapter) Get(ctx context.Context, key string) (string, error) {
	v, err := a.s.Get(ctx, key)
	if errors.Is(err, local.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (a *localStoreAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.s.Set(ctx, key, value, ttl)
}

func (a *localStoreAdapter) Del(ctx context.Context, keys ...string) error {
	return a.s.Del(ctx, keys...)
}

func (a *localStoreAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return a.s.Exists(ctx, key)
}

func (a *localStoreAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return a.s.SetNX(ctx, key, value, ttl)
}

type redisStoreAdapter struct {
	s *storeredis.Store
}

func (a *redisStoreAdapter) Get(ctx context.Context, key string) (string, error) {
	v, err := a.s.Get(ctx, key)
	if errors.Is(err, storeredis.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (a *redisStoreAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.s.Set(ctx, key, value, ttl)
}

func (a *redisStoreAdapter) Del(ctx context.Context, keys ...string) error {
	return a.s.Del(ctx, keys...)
}

func (a *redisStoreAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return a.s.Exists(ctx, key)
}

func (a *redisStoreAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return a.s.SetNX(ctx, key, value, ttl)
}

type localPubSubAdapter struct {
	ps *local.PubSub
}

func (a *localPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range localCh {
			out <- &Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return out, cancel, nil
}

type redisPubSubAdapter struct {
	ps *storeredis.PubSub
}

func (a *redisPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range redisCh {
			out <- &Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return out, cancel, nil
}
