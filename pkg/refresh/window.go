package refresh

import (
	"time"

	"github.com/threatmaps/refresher/pkg/metadata"
)

// minimalWindow is the floor applied when clock skew or misconfiguration
// would otherwise produce an empty or inverted query range.
const minimalWindow = time.Second

// PlanWindow computes the query time range for the next fetch. Pure function.
//
// Without a watermark the plan is a full load over fullWindow ending now.
// With one, the plan starts overlap before the watermark: the backend may
// ingest events late, so the trailing window is re-queried and downstream
// key dedup absorbs the duplicates. The planner only proposes the window; it
// never dedups.
func PlanWindow(md *metadata.Metadata, now time.Time, fullWindow, overlap time.Duration) Window {
	if md == nil || md.LastQueryWatermark.IsZero() {
		return Window{
			Start: now.Add(-fullWindow),
			End:   now,
			Kind:  WindowFull,
		}
	}

	start := md.LastQueryWatermark.Add(-overlap)
	if !start.Before(now) {
		start = now.Add(-minimalWindow)
	}

	return Window{
		Start: start,
		End:   now,
		Kind:  WindowIncremental,
	}
}
