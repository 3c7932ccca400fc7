// Package refresh implements the per-dataset refresh engine: the throttle
// policy, the incremental window planner, and the coordinator that drives a
// refresh attempt end to end.
package refresh

import (
	"context"
	"time"

	"github.com/threatmaps/refresher/pkg/artifact"
	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/lock"
	"github.com/threatmaps/refresher/pkg/metadata"
)

// Row is an opaque record from the query backend. The engine never interprets
// columns; it passes rows to the transform stage unchanged.
type Row map[string]interface{}

// Status is the semantic outcome of one dataset's refresh attempt. The HTTP
// layer maps these to transport codes; the engine only produces the status.
type Status string

const (
	// StatusInitialLoad means the dataset was fetched for the first time
	StatusInitialLoad Status = "initial_load"
	// StatusRefreshed means fresh data replaced the cached artifact
	StatusRefreshed Status = "refreshed"
	// StatusCached means cached data was still fresh and nothing ran
	StatusCached Status = "cached"
	// StatusLocked means another refresh held the dataset lock
	StatusLocked Status = "locked"
	// StatusFailed means the attempt failed; prior state is untouched
	StatusFailed Status = "failed"
)

// WindowKind distinguishes an initial full fetch from an incremental one
type WindowKind string

const (
	// WindowFull covers the configured full window ending now
	WindowFull WindowKind = "full"
	// WindowIncremental covers watermark minus overlap up to now
	WindowIncremental WindowKind = "incremental"
)

// Window is the planned query time range: [Start, End). Derived, never
// persisted; only its consequence (the new watermark) is.
type Window struct {
	Start time.Time
	End   time.Time
	Kind  WindowKind
}

// Result is the per-dataset outcome of a refresh attempt
type Result struct {
	DatasetID     string     `json:"dataset_id"`
	Status        Status     `json:"status"`
	RowCount      int        `json:"row_count"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	NewWatermark  *time.Time `json:"new_watermark,omitempty"`
	WindowKind    WindowKind `json:"window_kind,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// TransformResult carries every output artifact's content for one refresh
type TransformResult struct {
	TSV      []byte
	GeoJSON  []byte // nil when the dataset has no GeoJSON companion
	RowCount int
}

// Querier is the external query-execution contract: run the dataset's query
// over the window, return rows. The hash of the rendered query is recorded in
// metadata for change tracking.
type Querier interface {
	Execute(ctx context.Context, ds *config.Dataset, window Window) (rows []Row, queryHash string, err error)
}

// Transformer applies the dataset's configured transform steps. Pure from the
// engine's perspective.
type Transformer interface {
	Apply(ctx context.Context, ds *config.Dataset, rows []Row) (*TransformResult, error)
}

// Locker is the distributed mutual-exclusion contract
type Locker interface {
	Acquire(ctx context.Context, datasetID string, lease time.Duration) (*lock.Token, error)
	Release(ctx context.Context, token *lock.Token) error
}

// MetadataStore reads and stages per-dataset refresh records
type MetadataStore interface {
	Get(ctx context.Context, datasetID string) (*metadata.Metadata, error)
	Stage(ctx context.Context, md *metadata.Metadata) (*artifact.StagingHandle, error)
}
