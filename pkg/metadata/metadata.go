// Package metadata persists per-dataset refresh state. A metadata record is
// replaced wholesale after each successful refresh through the same atomic
// artifact store that holds the dataset outputs, so no observer ever sees a
// half-updated record.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/artifact"
)

// SchemaVersion tags persisted records so a future layout change can detect
// and migrate old ones.
const SchemaVersion = 1

// ErrWatermarkRegression is returned when a staged record would move a
// dataset's watermark backwards
var ErrWatermarkRegression = errors.New("watermark must not move backwards")

// Metadata is the per-dataset refresh record
type Metadata struct {
	DatasetID     string `json:"dataset_id"`
	SchemaVersion int    `json:"schema_version"`

	LastRefreshAt time.Time `json:"last_refresh_at"`

	// LastQueryWatermark is the exclusive upper bound already fetched. It
	// is monotonically non-decreasing across successful refreshes.
	LastQueryWatermark time.Time `json:"last_query_watermark"`

	LastRowCount int    `json:"last_row_count"`
	LastStatus   string `json:"last_status"`
	QueryHash    string `json:"query_hash,omitempty"`
}

// Store reads and stages metadata records on top of an artifact store
type Store struct {
	log       logrus.FieldLogger
	artifacts artifact.Store
}

// NewStore creates a metadata store backed by the given artifact store
func NewStore(log logrus.FieldLogger, artifacts artifact.Store) *Store {
	return &Store{
		log:       log.WithField("component", "metadata"),
		artifacts: artifacts,
	}
}

// ArtifactName returns the artifact name holding a dataset's metadata record
func ArtifactName(datasetID string) string {
	return fmt.Sprintf("metadata/%s.json", datasetID)
}

// Get returns the dataset's metadata record, or nil if the dataset has never
// been successfully refreshed. Always reads fresh from the store; records are
// never cached across requests.
func (s *Store) Get(ctx context.Context, datasetID string) (*Metadata, error) {
	data, err := s.artifacts.ReadCurrent(ctx, ArtifactName(datasetID))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read metadata for %s: %w", datasetID, err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", datasetID, err)
	}

	return &md, nil
}

// Stage serializes a replacement record and stages it in the artifact store.
// The caller commits the handle together with the refresh's other artifacts,
// metadata last. Stage rejects records that would regress the watermark
// relative to the previous record.
func (s *Store) Stage(ctx context.Context, md *Metadata) (*artifact.StagingHandle, error) {
	prev, err := s.Get(ctx, md.DatasetID)
	if err != nil {
		return nil, err
	}

	if prev != nil && md.LastQueryWatermark.Before(prev.LastQueryWatermark) {
		return nil, fmt.Errorf("%w: %s staged %s before %s",
			ErrWatermarkRegression, md.DatasetID,
			md.LastQueryWatermark.Format(time.RFC3339),
			prev.LastQueryWatermark.Format(time.RFC3339))
	}

	md.SchemaVersion = SchemaVersion

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for %s: %w", md.DatasetID, err)
	}

	handle, err := s.artifacts.Stage(ctx, ArtifactName(md.DatasetID), data)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"dataset":   md.DatasetID,
		"watermark": md.LastQueryWatermark,
		"rows":      md.LastRowCount,
	}).Debug("Staged metadata record")

	return handle, nil
}
