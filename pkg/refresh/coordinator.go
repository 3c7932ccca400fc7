package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/artifact"
	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/lock"
	"github.com/threatmaps/refresher/pkg/metadata"
	"github.com/threatmaps/refresher/pkg/observability"
)

// Deps carries the coordinator's collaborators. Now defaults to time.Now and
// exists so tests can pin the clock.
type Deps struct {
	Log         logrus.FieldLogger
	Datasets    *config.Datasets
	Locks       Locker
	Artifacts   artifact.Store
	Metadata    MetadataStore
	Querier     Querier
	Transformer Transformer

	// LeaseDuration must comfortably exceed worst-case query + transform +
	// write time; it is the crash-recovery timeout, not a work timer.
	LeaseDuration time.Duration

	Now func() time.Time
}

// Coordinator drives the per-dataset refresh state machine. It is the only
// stateful control-flow component; everything it coordinates is either a pure
// decision function or an external store.
type Coordinator struct {
	log         logrus.FieldLogger
	datasets    *config.Datasets
	locks       Locker
	artifacts   artifact.Store
	meta        MetadataStore
	querier     Querier
	transformer Transformer
	lease       time.Duration
	now         func() time.Time
}

// NewCoordinator creates a refresh coordinator
func NewCoordinator(d Deps) *Coordinator {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		log:         d.Log.WithField("service", "coordinator"),
		datasets:    d.Datasets,
		locks:       d.Locks,
		artifacts:   d.Artifacts,
		meta:        d.Metadata,
		querier:     d.Querier,
		transformer: d.Transformer,
		lease:       d.LeaseDuration,
		now:         now,
	}
}

// RefreshAll refreshes every enabled dataset. Datasets are independent: one
// dataset's failure never blocks another's refresh, and each result reports
// its own outcome.
func (c *Coordinator) RefreshAll(ctx context.Context, force bool) []Result {
	enabled := c.datasets.Enabled()
	results := make([]Result, 0, len(enabled))

	for i := range enabled {
		results = append(results, c.refreshDataset(ctx, &enabled[i], force))
	}

	return results
}

// Refresh refreshes a single dataset by id. Unknown or disabled datasets are
// rejected before any lock or fetch attempt, with no side effects.
func (c *Coordinator) Refresh(ctx context.Context, datasetID string, force bool) Result {
	ds, err := c.datasets.Get(datasetID)
	if err != nil {
		observability.RecordError("coordinator", "config_error")

		return Result{DatasetID: datasetID, Status: StatusFailed, Error: err.Error()}
	}

	return c.refreshDataset(ctx, ds, force)
}

func (c *Coordinator) refreshDataset(ctx context.Context, ds *config.Dataset, force bool) Result {
	started := c.now()

	result := c.runAttempt(ctx, ds, force)

	observability.RefreshTotal.WithLabelValues(ds.ID, string(result.Status)).Inc()
	observability.RefreshDuration.WithLabelValues(ds.ID, string(result.Status)).Observe(time.Since(started).Seconds())

	return result
}

//nolint:gocyclo // The state machine reads better as one sequence than split apart
func (c *Coordinator) runAttempt(ctx context.Context, ds *config.Dataset, force bool) Result {
	log := c.log.WithField("dataset", ds.ID)

	// CheckingThrottle: always a fresh read, never a cached one, because
	// concurrent requests may land on different instances.
	md, err := c.meta.Get(ctx, ds.ID)
	if err != nil {
		observability.RecordError("coordinator", "metadata_read_error")

		return failed(ds.ID, fmt.Errorf("failed to read metadata: %w", err))
	}

	now := c.now()

	if !ShouldRefresh(md, now, force, time.Duration(ds.RefreshThreshold)) {
		log.WithField("age", now.Sub(md.LastRefreshAt)).Debug("Cached data still fresh, skipping")

		return cached(ds.ID, md)
	}

	// Locking: fail fast, never queue. A held lock means a refresh is
	// already in flight somewhere, which is a success of the system.
	token, err := c.locks.Acquire(ctx, ds.ID, c.lease)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			observability.LockContention.WithLabelValues(ds.ID).Inc()

			return Result{DatasetID: ds.ID, Status: StatusLocked}
		}

		observability.RecordError("coordinator", "lock_error")

		return failed(ds.ID, fmt.Errorf("failed to acquire lock: %w", err))
	}

	// The lock is held on behalf of the system, not the caller; release is
	// unconditional cleanup on every terminal path below.
	defer func() {
		if err := c.locks.Release(context.WithoutCancel(ctx), token); err != nil {
			log.WithError(err).Warn("Failed to release lock")
		}
	}()

	// Fetching
	window := PlanWindow(md, now, time.Duration(ds.FullWindow), time.Duration(ds.Overlap))

	queryStart := time.Now()

	rows, queryHash, err := c.querier.Execute(ctx, ds, window)

	observability.QueryDuration.WithLabelValues(ds.ID, string(window.Kind)).Observe(time.Since(queryStart).Seconds())

	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"window_start": window.Start,
			"window_end":   window.End,
			"window_kind":  window.Kind,
		}).Error("Query backend failed")
		observability.RecordError("coordinator", "query_error")

		return failed(ds.ID, fmt.Errorf("query failed: %w", err))
	}

	observability.RowsFetched.WithLabelValues(ds.ID).Add(float64(len(rows)))

	// Transforming
	out, err := c.transformer.Apply(ctx, ds, rows)
	if err != nil {
		log.WithError(err).Error("Transform failed")
		observability.RecordError("coordinator", "transform_error")

		return failed(ds.ID, fmt.Errorf("transform failed: %w", err))
	}

	status := StatusRefreshed
	if md == nil {
		status = StatusInitialLoad
	}

	// Staging: every output of this refresh is staged before anything is
	// committed, so a failure here leaves every committed artifact exactly
	// as it was.
	newMD := &metadata.Metadata{
		DatasetID:          ds.ID,
		LastRefreshAt:      now,
		LastQueryWatermark: window.End,
		LastRowCount:       out.RowCount,
		LastStatus:         string(status),
		QueryHash:          queryHash,
	}

	handles, err := c.stageAll(ctx, ds, out, newMD)
	if err != nil {
		c.abortAll(ctx, handles)
		log.WithError(err).Error("Staging failed")
		observability.RecordError("coordinator", "stage_error")

		return failed(ds.ID, fmt.Errorf("staging failed: %w", err))
	}

	// Committing: deterministic order, primary data first and metadata
	// last, so the durable record of what happened is the least likely
	// artifact to be wrong.
	if err := c.commitAll(ctx, ds, handles); err != nil {
		return failed(ds.ID, err)
	}

	// Done
	observability.DatasetLastRefresh.WithLabelValues(ds.ID).Set(float64(now.Unix()))
	observability.DatasetRowCount.WithLabelValues(ds.ID).Set(float64(out.RowCount))

	log.WithFields(logrus.Fields{
		"status":      status,
		"rows":        out.RowCount,
		"window_kind": window.Kind,
		"watermark":   window.End,
	}).Info("Dataset refreshed")

	return Result{
		DatasetID:     ds.ID,
		Status:        status,
		RowCount:      out.RowCount,
		LastRefreshAt: &newMD.LastRefreshAt,
		NewWatermark:  &newMD.LastQueryWatermark,
		WindowKind:    window.Kind,
	}
}

// stageAll stages the primary data artifact, any companions, and the metadata
// record, in commit order. On error the caller aborts every returned handle.
func (c *Coordinator) stageAll(ctx context.Context, ds *config.Dataset, out *TransformResult, md *metadata.Metadata) ([]*artifact.StagingHandle, error) {
	var handles []*artifact.StagingHandle

	h, err := c.artifacts.Stage(ctx, ds.OutputFile, out.TSV)
	if err != nil {
		return handles, fmt.Errorf("failed to stage %s: %w", ds.OutputFile, err)
	}

	handles = append(handles, h)

	if ds.GeoJSONFile != "" && out.GeoJSON != nil {
		h, err := c.artifacts.Stage(ctx, ds.GeoJSONFile, out.GeoJSON)
		if err != nil {
			return handles, fmt.Errorf("failed to stage %s: %w", ds.GeoJSONFile, err)
		}

		handles = append(handles, h)
	}

	h, err = c.meta.Stage(ctx, md)
	if err != nil {
		return handles, fmt.Errorf("failed to stage metadata: %w", err)
	}

	handles = append(handles, h)

	return handles, nil
}

func (c *Coordinator) abortAll(ctx context.Context, handles []*artifact.StagingHandle) {
	for _, h := range handles {
		if err := c.artifacts.Abort(ctx, h); err != nil {
			c.log.WithError(err).WithField("name", h.Name).Warn("Failed to abort staged artifact")
		}
	}
}

// commitAll commits every staged handle in order. Each commit is atomic on
// its own; the set appearing all-or-nothing holds on the common path because
// commits only run after every stage succeeded. A failure after the first
// successful commit is the partial-commit anomaly: it cannot be undone, so it
// is logged loudly for manual reconciliation and the rest is aborted. The
// failed handle is still staged, so it is aborted along with the rest.
func (c *Coordinator) commitAll(ctx context.Context, ds *config.Dataset, handles []*artifact.StagingHandle) error {
	for i, h := range handles {
		if err := c.artifacts.Commit(ctx, h); err != nil {
			c.abortAll(ctx, handles[i:])

			if i > 0 {
				committed := make([]string, 0, i)
				for _, done := range handles[:i] {
					committed = append(committed, done.Name)
				}

				uncommitted := make([]string, 0, len(handles)-i)
				for _, left := range handles[i:] {
					uncommitted = append(uncommitted, left.Name)
				}

				c.log.WithError(err).WithFields(logrus.Fields{
					"dataset":     ds.ID,
					"committed":   strings.Join(committed, ","),
					"uncommitted": strings.Join(uncommitted, ","),
				}).Error("Partial commit: some artifacts of this refresh committed and some did not")
				observability.PartialCommitTotal.WithLabelValues(ds.ID).Inc()
			} else {
				observability.RecordError("coordinator", "commit_error")
			}

			return fmt.Errorf("failed to commit %s: %w", h.Name, err)
		}
	}

	return nil
}

func cached(datasetID string, md *metadata.Metadata) Result {
	return Result{
		DatasetID:     datasetID,
		Status:        StatusCached,
		RowCount:      md.LastRowCount,
		LastRefreshAt: &md.LastRefreshAt,
		NewWatermark:  &md.LastQueryWatermark,
	}
}

func failed(datasetID string, err error) Result {
	return Result{
		DatasetID: datasetID,
		Status:    StatusFailed,
		Error:     err.Error(),
	}
}
