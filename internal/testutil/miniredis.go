package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniredis starts an in-memory Redis that is closed with the test
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	return miniredis.RunT(t)
}

// MiniredisURL returns the redis:// URL the engine configuration expects
func MiniredisURL(mr *miniredis.Miniredis) string {
	return "redis://" + mr.Addr()
}

// NewMiniredisClient returns an in-memory Redis and a client connected to it.
// Lock, cache and election tests assert on keys and TTLs through the server.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := NewMiniredis(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}
