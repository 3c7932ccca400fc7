// Package query renders dataset query templates and executes them against
// the external log backend.
package query

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

// Render substitutes the planned window into the dataset's query template.
// Sprig functions are available to templates, mirroring how transformations
// templatize their bounds.
func Render(ds *config.Dataset, window refresh.Window) (string, error) {
	tmpl, err := template.New(ds.ID).Funcs(sprig.TxtFuncMap()).Parse(ds.Query)
	if err != nil {
		return "", fmt.Errorf("failed to parse query template for %s: %w", ds.ID, err)
	}

	vars := map[string]interface{}{
		"dataset": map[string]interface{}{
			"id": ds.ID,
		},
		"window": map[string]interface{}{
			"start": window.Start.UTC().Format(time.RFC3339),
			"end":   window.End.UTC().Format(time.RFC3339),
			"kind":  string(window.Kind),
		},
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute query template for %s: %w", ds.ID, err)
	}

	return buf.String(), nil
}

// Hash returns a short content hash of a rendered query, recorded in
// metadata so a changed query definition is visible across refreshes.
func Hash(rendered string) string {
	sum := sha256.Sum256([]byte(rendered))

	return hex.EncodeToString(sum[:])[:8]
}
