package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "orchestrate"

// RedisStoreConfig configures the Redis workflow store.
type RedisStoreConfig struct {
	Client *redis.Client
	URL    string
	Prefix string
}

// RedisStore keeps definitions in the hash <prefix>:workflows.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisStore connects a Redis-backed workflow store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := cfg.Client
	owned := false
	if client == nil {
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("workflow: redis store url is required")
		}
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("workflow: redis store parse url: %w", err)
		}
		client = redis.NewClient(opts)
		owned = true
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, key: prefix + ":workflows", owned: owned}, nil
}

func (s *RedisStore) Get(ctx context.Context, name string) (Definition, bool, error) {
	payload, err := s.client.HGet(ctx, s.key, name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Definition{}, false, nil
		}
		return Definition{}, false, fmt.Errorf("workflow: redis get definition: %w", err)
	}
	def, err := decodeDefinition(payload)
	if err != nil {
		return Definition{}, false, err
	}
	return def, true, nil
}

func (s *RedisStore) Put(ctx context.Context, def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("workflow: name is required")
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("workflow: redis encode definition: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, def.Name, payload).Err(); err != nil {
		return fmt.Errorf("workflow: redis put definition: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := s.client.HDel(ctx, s.key, name).Err(); err != nil {
		return fmt.Errorf("workflow: redis delete definition: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Definition, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("workflow: redis list definitions: %w", err)
	}
	defs := make([]Definition, 0, len(fields))
	for _, payload := range fields {
		def, err := decodeDefinition([]byte(payload))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sortDefinitions(defs)
	return defs, nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
