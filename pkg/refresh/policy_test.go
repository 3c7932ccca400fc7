package refresh

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/threatmaps/refresher/pkg/metadata"
)

func TestShouldRefresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := 24 * time.Hour

	mdAged := func(age time.Duration) *metadata.Metadata {
		return &metadata.Metadata{
			DatasetID:     "signin-failures",
			LastRefreshAt: now.Add(-age),
		}
	}

	tests := []struct {
		name    string
		md      *metadata.Metadata
		force   bool
		proceed bool
	}{
		{name: "absent metadata proceeds", md: nil, proceed: true},
		{name: "zero last refresh proceeds", md: &metadata.Metadata{DatasetID: "x"}, proceed: true},
		{name: "fresh data skips", md: mdAged(time.Hour), proceed: false},
		{name: "stale data proceeds", md: mdAged(30 * time.Hour), proceed: true},
		{name: "age exactly threshold proceeds", md: mdAged(threshold), proceed: true},
		{name: "one nanosecond under threshold skips", md: mdAged(threshold - time.Nanosecond), proceed: false},
		{name: "force overrides fresh data", md: mdAged(time.Hour), force: true, proceed: true},
		{name: "force with absent metadata", md: nil, force: true, proceed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.proceed, ShouldRefresh(tt.md, now, tt.force, threshold))
		})
	}
}

func TestShouldRefreshProperty(t *testing.T) {
	// proceed iff age >= threshold, for arbitrary ages and thresholds
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // Deterministic test randomness

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 1000; i++ {
		age := time.Duration(rng.Int63n(int64(72 * time.Hour)))
		threshold := time.Duration(rng.Int63n(int64(48*time.Hour)) + 1)

		md := &metadata.Metadata{
			DatasetID:     "prop",
			LastRefreshAt: now.Add(-age),
		}

		got := ShouldRefresh(md, now, false, threshold)
		assert.Equalf(t, age >= threshold, got, "age=%s threshold=%s", age, threshold)

		// force always proceeds regardless of age
		assert.True(t, ShouldRefresh(md, now, true, threshold))
	}
}

func TestShouldRefreshDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	md := &metadata.Metadata{DatasetID: "x", LastRefreshAt: now.Add(-3 * time.Hour)}

	first := ShouldRefresh(md, now, false, 2*time.Hour)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ShouldRefresh(md, now, false, 2*time.Hour))
	}
}
