package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "orchestrate"

// RedisStoreConfig configures the Redis-backed tool store.
type RedisStoreConfig struct {
	// Client is used when set; otherwise URL is parsed.
	Client *redis.Client
	URL    string
	Prefix string
}

// RedisStore keeps all entries in one hash, one field per tool id.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisStore connects a Redis-backed entry store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := cfg.Client
	owned := false
	if client == nil {
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("tool: redis store url is required")
		}
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("tool: redis store parse url: %w", err)
		}
		client = redis.NewClient(opts)
		owned = true
	}

	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		key:    prefix + ":tools",
		owned:  owned,
	}, nil
}

// Get returns an entry by id.
func (s *RedisStore) Get(ctx context.Context, id string) (Entry, bool, error) {
	payload, err := s.client.HGet(ctx, s.key, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("tool: redis get entry: %w", err)
	}
	entry, err := decodeEntry(payload)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Put inserts or replaces an entry.
func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("tool: entry id is required")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("tool: redis encode entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, entry.ID, payload).Err(); err != nil {
		return fmt.Errorf("tool: redis put entry: %w", err)
	}
	return nil
}

// Delete removes an entry. Deleting a missing id is a no-op.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("tool: redis delete entry: %w", err)
	}
	return nil
}

// List returns all entries in id order.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("tool: redis list entries: %w", err)
	}
	entries := make([]Entry, 0, len(fields))
	for _, payload := range fields {
		entry, err := decodeEntry([]byte(payload))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
