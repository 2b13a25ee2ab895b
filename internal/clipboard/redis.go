package clipboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/newsroomate/rundown/pkg/rundown"
)

// RedisStore keeps the clipboard record in Redis so every process of a scope
// (a user, a workstation) shares it. Fields expire with the payload, and each
// change is announced on a Pub/Sub channel tagged with the writer's origin.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
	scope     string
	origin    string
	ttl       time.Duration
}

// NewRedisStore creates a store handle. Each handle has its own origin, so
// Watch on one handle reports the writes of every other handle.
func NewRedisStore(rdb *redis.Client, namespace, scope string) (*RedisStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if scope == "" {
		return nil, fmt.Errorf("clipboard scope cannot be empty")
	}
	return &RedisStore{
		rdb:       rdb,
		namespace: namespace,
		scope:     scope,
		origin:    uuid.New().String(),
		ttl:       DefaultExpiry,
	}, nil
}

// SetTTL changes how long written fields live. Zero or less keeps the default.
func (s *RedisStore) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *RedisStore) key(field string) string {
	return rundown.ClipboardKey(s.namespace, s.scope, field)
}

func (s *RedisStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read clipboard: %w", err)
	}

	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Apply writes and deletes fields in one MULTI/EXEC, then announces the change.
// A failed announcement after a committed write is reported as ErrNotAnnounced.
func (s *RedisStore) Apply(ctx context.Context, set map[string]string, remove []string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range remove {
			pipe.Del(ctx, s.key(k))
		}
		for k, v := range set {
			pipe.Set(ctx, s.key(k), v, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}

	if err := s.rdb.Publish(ctx, rundown.ClipboardChannel(s.namespace, s.scope), s.origin).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAnnounced, err)
	}
	return nil
}

// Watch subscribes to change announcements, skipping this handle's own.
// The subscription is confirmed before returning.
func (s *RedisStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	channel := rundown.ClipboardChannel(s.namespace, s.scope)
	pubsub := s.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == s.origin {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
