// Package pubsubtest spins up a miniredis instance so tests can exercise
// internal/pubsub without a live Redis deployment.
package pubsubtest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tinode/fanout/internal/pubsub"
)

// NewClient starts an in-process miniredis server and returns a
// pubsub.Client with the given instanceID connected to it. The server is
// stopped automatically via t.Cleanup.
func NewClient(t *testing.T, instanceID string) *pubsub.Client {
	t.Helper()

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return pubsub.New(rdb, instanceID)
}
