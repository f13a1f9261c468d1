package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ocpp-sim/chargepoint-simulator/internal/config"
)

// RedisStore backs the configuration key space with a Redis hash per
// charge point (one field per key) plus a pub/sub channel for Watch
// notifications, so several simulator processes sharing one Redis
// instance observe each other's ChangeConfiguration calls.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore dials cfg and verifies connectivity with a Ping.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{Client: client, Prefix: "cpsim:config:"}, nil
}

func (r *RedisStore) prefix() string {
	if r.Prefix == "" {
		return "cpsim:config:"
	}
	return r.Prefix
}

func (r *RedisStore) hashKey(chargePointID string) string {
	return r.prefix() + chargePointID
}

func (r *RedisStore) channel(chargePointID string) string {
	return r.prefix() + "changes:" + chargePointID
}

func (r *RedisStore) Load(ctx context.Context, chargePointID string) (map[string]KeyValue, error) {
	raw, err := r.Client.HGetAll(ctx, r.hashKey(chargePointID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load config keys for %s: %w", chargePointID, err)
	}

	out := make(map[string]KeyValue, len(raw))
	for field, data := range raw {
		var kv KeyValue
		if err := json.Unmarshal([]byte(data), &kv); err != nil {
			continue
		}
		out[field] = kv
	}
	return out, nil
}

func (r *RedisStore) Save(ctx context.Context, chargePointID string, kv KeyValue) error {
	data, err := json.Marshal(kv)
	if err != nil {
		return fmt.Errorf("marshal config key %s: %w", kv.Key, err)
	}
	if err := r.Client.HSet(ctx, r.hashKey(chargePointID), kv.Key, data).Err(); err != nil {
		return fmt.Errorf("save config key %s for %s: %w", kv.Key, chargePointID, err)
	}
	return r.Client.Publish(ctx, r.channel(chargePointID), data).Err()
}

// Watch subscribes to chargePointID's change channel on a background
// goroutine and delivers every published KeyValue to fn until
// unsubscribe is called.
func (r *RedisStore) Watch(chargePointID string, fn Watcher) func() {
	sub := r.Client.Subscribe(context.Background(), r.channel(chargePointID))
	done := make(chan struct{})

	go func() {
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var kv KeyValue
				if json.Unmarshal([]byte(msg.Payload), &kv) == nil {
					fn(kv)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = sub.Close()
	}
}

func (r *RedisStore) Close() error {
	return r.Client.Close()
}
