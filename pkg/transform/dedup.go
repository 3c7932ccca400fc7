package transform

import (
	"fmt"
	"strings"

	"github.com/threatmaps/refresher/pkg/refresh"
)

// DedupByKey collapses rows sharing the same key-column values. The backend
// returns rows in ascending time order, so the last occurrence wins; output
// keeps each key's first-seen position. This is what absorbs the duplicates
// the incremental overlap window deliberately re-fetches.
func DedupByKey(rows []refresh.Row, keyColumns []string) []refresh.Row {
	if len(keyColumns) == 0 {
		return rows
	}

	out := make([]refresh.Row, 0, len(rows))
	seen := make(map[string]int, len(rows))

	for _, row := range rows {
		key := rowKey(row, keyColumns)

		if idx, ok := seen[key]; ok {
			out[idx] = row

			continue
		}

		seen[key] = len(out)
		out = append(out, row)
	}

	return out
}

func rowKey(row refresh.Row, keyColumns []string) string {
	parts := make([]string, 0, len(keyColumns))
	for _, col := range keyColumns {
		parts = append(parts, fmt.Sprintf("%v", row[col]))
	}

	return strings.Join(parts, "\x1f")
}
