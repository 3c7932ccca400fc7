// Package artifact provides an atomic write-then-commit store for named
// output blobs. Writers stage content under a temporary identity and commit
// via a single atomic replace; readers never observe partial content.
package artifact

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no committed content exists for a name
	ErrNotFound = errors.New("artifact not found")
	// ErrHandleClosed is returned when a staging handle is committed or aborted twice
	ErrHandleClosed = errors.New("staging handle already committed or aborted")
)

// StagingHandle identifies staged-but-uncommitted content
type StagingHandle struct {
	// Name is the committed name the content is destined for.
	Name string

	// path is the backend-private staging location.
	path string

	closed bool
}

// Store defines the atomic artifact store contract.
//
// Between Stage and Commit, ReadCurrent returns only the pre-commit content.
// After Commit it returns only the new content. Abort must be called on any
// failure path after Stage to avoid leaking staged content.
type Store interface {
	Stage(ctx context.Context, name string, content []byte) (*StagingHandle, error)
	Commit(ctx context.Context, handle *StagingHandle) error
	Abort(ctx context.Context, handle *StagingHandle) error
	ReadCurrent(ctx context.Context, name string) ([]byte, error)
}
