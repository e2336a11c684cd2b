package test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// NewRedisDB returns an in-process redis DB for testing. The server
// is torn down with the test.
func NewRedisDB(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	db := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		db.Close()
	})

	return db, srv
}
