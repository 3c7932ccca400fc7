package refresh

import (
	"time"

	"github.com/threatmaps/refresher/pkg/metadata"
)

// ShouldRefresh decides whether a dataset's cached data is stale. It is a
// pure function: same inputs, same decision, no side effects.
//
// force always proceeds. Absent metadata proceeds (the initial load case).
// Otherwise the cached data's age is compared against the threshold; age
// exactly equal to the threshold counts as stale, so the threshold is an
// upper bound on freshness.
func ShouldRefresh(md *metadata.Metadata, now time.Time, force bool, threshold time.Duration) bool {
	if force {
		return true
	}

	if md == nil || md.LastRefreshAt.IsZero() {
		return true
	}

	return now.Sub(md.LastRefreshAt) >= threshold
}
