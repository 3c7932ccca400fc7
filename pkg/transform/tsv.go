// Package transform turns fetched rows into output artifacts: key dedup, geo
// enrichment, TSV and GeoJSON encoding. Every step is pure from the
// coordinator's perspective.
package transform

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/threatmaps/refresher/pkg/refresh"
)

// EncodeTSV renders rows as tab-separated values with a header line. Column
// order follows columns; when empty, the sorted keys of the first row are
// used so output stays deterministic.
func EncodeTSV(rows []refresh.Row, columns []string) []byte {
	if len(columns) == 0 && len(rows) > 0 {
		columns = make([]string, 0, len(rows[0]))
		for k := range rows[0] {
			columns = append(columns, k)
		}

		sort.Strings(columns)
	}

	var buf bytes.Buffer

	buf.WriteString(strings.Join(columns, "\t"))
	buf.WriteByte('\n')

	for _, row := range rows {
		for i, col := range columns {
			if i > 0 {
				buf.WriteByte('\t')
			}

			buf.WriteString(sanitize(row[col]))
		}

		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// sanitize renders a cell value with tabs and newlines replaced, since
// either would corrupt the row structure.
func sanitize(v interface{}) string {
	if v == nil {
		return ""
	}

	s := fmt.Sprintf("%v", v)
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")

	return s
}
