package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const stagingDir = ".staging"

// ErrInvalidName is returned when an artifact name escapes the store root
var ErrInvalidName = os.ErrInvalid

// FSStore implements Store on a local or mounted filesystem. Staged content
// lives under root/.staging so the commit rename never crosses a filesystem
// boundary, which is what keeps it atomic.
type FSStore struct {
	log  logrus.FieldLogger
	root string
}

// NewFSStore creates a filesystem-backed artifact store rooted at dir
func NewFSStore(log logrus.FieldLogger, dir string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, stagingDir), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	return &FSStore{
		log:  log.WithField("component", "artifact"),
		root: dir,
	}, nil
}

// Stage writes content under a temporary identity invisible to readers of name
func (s *FSStore) Stage(_ context.Context, name string, content []byte) (*StagingHandle, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(s.root, stagingDir, uuid.New().String()+".tmp")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // Path is store-generated
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return nil, fmt.Errorf("failed to write staging file: %w", err)
	}

	// Content must be durable before the rename makes it visible.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return nil, fmt.Errorf("failed to sync staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)

		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"name":  name,
		"bytes": len(content),
	}).Debug("Staged artifact content")

	return &StagingHandle{Name: name, path: path}, nil
}

// Commit atomically makes the staged content the new content of the handle's
// name. Readers mid-read of the old content are unaffected.
func (s *FSStore) Commit(_ context.Context, handle *StagingHandle) error {
	if handle.closed {
		return ErrHandleClosed
	}

	final := filepath.Join(s.root, filepath.FromSlash(handle.Name))

	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	if err := os.Rename(handle.path, final); err != nil {
		return fmt.Errorf("failed to commit artifact %s: %w", handle.Name, err)
	}

	handle.closed = true

	s.log.WithField("name", handle.Name).Debug("Committed artifact")

	return nil
}

// Abort discards staged content. Aborting an already-closed handle is a no-op.
func (s *FSStore) Abort(_ context.Context, handle *StagingHandle) error {
	if handle.closed {
		return nil
	}

	handle.closed = true

	if err := os.Remove(handle.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard staged artifact %s: %w", handle.Name, err)
	}

	s.log.WithField("name", handle.Name).Debug("Aborted staged artifact")

	return nil
}

// ReadCurrent returns the committed content of name, or ErrNotFound
func (s *FSStore) ReadCurrent(_ context.Context, name string) ([]byte, error) {
	if err := s.checkName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name))) //nolint:gosec // Name validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}

	return data, nil
}

func (s *FSStore) checkName(name string) error {
	if name == "" || strings.HasPrefix(name, stagingDir) || strings.Contains(name, "..") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

var _ Store = (*FSStore)(nil)
