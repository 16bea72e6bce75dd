package redis

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func newTestRedisStorage(t *testing.T) *Storage {
	t.Helper()
	db := &Storage{Client: newTestRedisClient()}

	_, err := db.Client.FlushDB(context.Background()).Result()
	if err != nil {
		t.Skipf("Skipping test; Redis not available: %v", err)
	}

	return db
}

func newTestRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     "localhost:6379",
		Password: "",
		DB:       1,
	})
}
