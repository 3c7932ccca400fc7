// Package testutil provides shared helpers for unit tests
package testutil

import (
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/artifact"
)

// NewLogger returns a silent logger for tests
func NewLogger(t *testing.T) logrus.FieldLogger {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// NewMiniredisClient returns an in-memory Redis server and a connected
// client; both are closed when the test completes.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}

// NewFSStore returns a filesystem artifact store rooted in a fresh temp dir
func NewFSStore(t *testing.T) *artifact.FSStore {
	t.Helper()

	store, err := artifact.NewFSStore(NewLogger(t), t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}

	return store
}
