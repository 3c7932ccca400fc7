package transform

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestServiceApply(t *testing.T) {
	ctx := context.Background()
	svc := NewService(discardLogger(), nil)

	ds := &config.Dataset{
		ID:         "signin-failures",
		Columns:    []string{"IPAddress", "User"},
		KeyColumns: []string{"IPAddress"},
		OutputFile: "signin-failures.tsv",
	}

	rows := []refresh.Row{
		{"IPAddress": "1.1.1.1", "User": "alice"},
		{"IPAddress": "1.1.1.1", "User": "bob"}, // overlap duplicate, wins
	}

	out, err := svc.Apply(ctx, ds, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, out.RowCount)
	assert.Equal(t, "IPAddress\tUser\n1.1.1.1\tbob\n", string(out.TSV))
	assert.Nil(t, out.GeoJSON, "no geojson artifact unless configured")
}

func TestServiceApplyGeoEnrichment(t *testing.T) {
	ctx := context.Background()

	enricher, err := NewEnricher(discardLogger(), seedGeoDatabase(t))
	require.NoError(t, err)

	defer enricher.Close()

	svc := NewService(discardLogger(), enricher)

	ds := &config.Dataset{
		ID:          "malicious-ips",
		Columns:     []string{"IPAddress", "country", "city"},
		OutputFile:  "malicious-ips.tsv",
		GeoJSONFile: "malicious-ips.geojson",
		GeoEnrich:   true,
		IPColumn:    "IPAddress",
	}

	rows := []refresh.Row{
		{"IPAddress": "10.0.0.1"},
		{"IPAddress": "198.51.100.1"}, // not covered, passes through
	}

	out, err := svc.Apply(ctx, ds, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, out.RowCount, "lookup misses are not failures")
	assert.True(t, strings.Contains(string(out.TSV), "10.0.0.1\tNL\tAmsterdam"))

	require.NotNil(t, out.GeoJSON)
	assert.Contains(t, string(out.GeoJSON), `"coordinates":[4.89,52.37]`)
}

func TestServiceApplyGeoWithoutEnricher(t *testing.T) {
	ctx := context.Background()
	svc := NewService(discardLogger(), nil)

	ds := &config.Dataset{
		ID:         "malicious-ips",
		OutputFile: "malicious-ips.tsv",
		GeoEnrich:  true,
		IPColumn:   "IPAddress",
	}

	_, err := svc.Apply(ctx, ds, []refresh.Row{{"IPAddress": "10.0.0.1"}})
	require.ErrorIs(t, err, ErrGeoNotConfigured)
}
