package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannel = "storefront.cart.changes"

// RedisStore keeps the keyspace in Redis and broadcasts every write on a
// pub/sub channel so other storefront processes sharing the instance observe
// the change. Values are stored without TTL; carts live until cleared.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string

	mu       sync.Mutex
	sub      *redis.PubSub
	watchers map[int]ChangeHandler
	nextID   int
	closed   bool
}

// RedisStoreConfig carries connection parameters for the Redis backend.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the keys; defaults to "storefront:".
	Prefix string
	// Channel overrides the pub/sub channel used for change fan-out.
	Channel string
}

type redisChange struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("kvstore: redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kvstore: redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "storefront:"
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = defaultRedisChannel
	}

	store := &RedisStore{
		client:   client,
		prefix:   prefix,
		channel:  channel,
		watchers: make(map[int]ChangeHandler),
	}
	store.sub = client.Subscribe(context.Background(), channel)
	go store.receive()
	return store, nil
}

// Get reads the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: redis get: %w", err)
	}
	return value, true, nil
}

// Set writes the value and publishes the change.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set: %w", err)
	}
	s.publish(ctx, redisChange{Key: key, Value: value})
	return nil
}

// Delete removes the key and publishes the deletion.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	removed, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("kvstore: redis del: %w", err)
	}
	if removed > 0 {
		s.publish(ctx, redisChange{Key: key, Deleted: true})
	}
	return nil
}

// Watch registers a change handler fed from the pub/sub channel.
func (s *RedisStore) Watch(_ context.Context, fn ChangeHandler) (func(), error) {
	if fn == nil {
		return func() {}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

// Close unsubscribes and closes the client connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.watchers = make(map[int]ChangeHandler)
	sub := s.sub
	s.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *RedisStore) publish(ctx context.Context, change redisChange) {
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	// Publish failures degrade cross-context sync only; the write itself
	// already succeeded and remains readable.
	_ = s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisStore) receive() {
	ch := s.sub.Channel()
	for msg := range ch {
		var change redisChange
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			continue
		}
		s.mu.Lock()
		handlers := make([]ChangeHandler, 0, len(s.watchers))
		for _, fn := range s.watchers {
			handlers = append(handlers, fn)
		}
		s.mu.Unlock()
		for _, fn := range handlers {
			fn(change.Key, change.Value, !change.Deleted)
		}
	}
}

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
