// Package redis provides a context-scoped key-value cache, used for
// ephemeral state (kernel leases and consent mode, see leases.go) that
// benefits from a shared cache across replicas but isn't part of the
// durable SQLite document/block log. It has no pub/sub code:
// eventbus.RedisBus talks to a redis.Client directly.
package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/kelindar/binary"
	"github.com/redis/go-redis/v9"
)

type Storage struct {
	Client *redis.Client
}

func NewStorage() *Storage {
	return &Storage{Client: setupClient()}
}

func (s Storage) CheckConnection(ctx context.Context) error {
	_, err := s.Client.Ping(ctx).Result()
	return err
}

// MGet fetches keys scoped to contextId, returning nil for any key that
// wasn't set.
func (s Storage) MGet(ctx context.Context, contextId string, keys []string) ([][]byte, error) {
	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = fmt.Sprintf("%s:%s", contextId, key)
	}
	values, err := s.Client.MGet(ctx, prefixedKeys...).Result()
	if err != nil {
		return nil, err
	}
	byteValues := make([][]byte, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		byteValues[i] = []byte(value.(string))
	}
	return byteValues, nil
}

// MSet binary-marshals each value via kelindar/binary before storing, so
// callers can round-trip arbitrary Go structs through MGet.
func (s Storage) MSet(ctx context.Context, contextId string, values map[string]interface{}) error {
	prefixedValues := make(map[string]interface{})
	for key, value := range values {
		bytes, err := binary.Marshal(value)
		if err != nil {
			return fmt.Errorf("redis mset failed to marshal value: %w", err)
		}
		prefixedValues[fmt.Sprintf("%s:%s", contextId, key)] = bytes
	}
	return s.Client.MSet(ctx, prefixedValues).Err()
}

func (s Storage) MSetRaw(ctx context.Context, contextId string, values map[string][]byte) error {
	prefixedValues := make(map[string]interface{})
	for key, value := range values {
		prefixedValues[fmt.Sprintf("%s:%s", contextId, key)] = value
	}
	return s.Client.MSet(ctx, prefixedValues).Err()
}

func (s Storage) DeletePrefix(ctx context.Context, contextId string, prefix string) error {
	pattern := fmt.Sprintf("%s:%s*", contextId, prefix)
	var cursor uint64
	for {
		keys, nextCursor, err := s.Client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			pipe := s.Client.Pipeline()
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("redis pipeline del failed: %w", err)
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s Storage) GetKeysWithPrefix(ctx context.Context, contextId string, prefix string) ([]string, error) {
	pattern := fmt.Sprintf("%s:%s*", contextId, prefix)
	var allKeys []string
	var cursor uint64
	for {
		keys, nextCursor, err := s.Client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan failed: %w", err)
		}
		for _, key := range keys {
			stripped := key[len(contextId)+1:]
			allKeys = append(allKeys, stripped)
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	sort.Strings(allKeys)
	return allKeys, nil
}
