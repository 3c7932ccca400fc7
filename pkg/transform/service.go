package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

// ErrGeoNotConfigured is returned when a dataset enables geo enrichment but
// no geolocation database was configured
var ErrGeoNotConfigured = errors.New("geo enrichment enabled but no geo database configured")

// Service applies a dataset's configured transform steps to fetched rows
type Service struct {
	log      logrus.FieldLogger
	enricher *Enricher // nil when geolocation is disabled service-wide
}

// NewService creates a transform service. enricher may be nil.
func NewService(log logrus.FieldLogger, enricher *Enricher) *Service {
	return &Service{
		log:      log.WithField("service", "transform"),
		enricher: enricher,
	}
}

// Apply runs dedup, enrichment, and encoding for one dataset's rows
func (s *Service) Apply(ctx context.Context, ds *config.Dataset, rows []refresh.Row) (*refresh.TransformResult, error) {
	rows = DedupByKey(rows, ds.KeyColumns)

	if ds.GeoEnrich {
		if s.enricher == nil {
			return nil, fmt.Errorf("%w: %s", ErrGeoNotConfigured, ds.ID)
		}

		s.enrich(ctx, ds, rows)
	}

	result := &refresh.TransformResult{
		TSV:      EncodeTSV(rows, ds.Columns),
		RowCount: len(rows),
	}

	if ds.GeoJSONFile != "" {
		geojson, err := BuildGeoJSON(rows)
		if err != nil {
			return nil, err
		}

		result.GeoJSON = geojson
	}

	return result, nil
}

// enrich adds geolocation columns in place. Lookup misses leave the row
// unenriched; they are not refresh failures.
func (s *Service) enrich(ctx context.Context, ds *config.Dataset, rows []refresh.Row) {
	misses := 0

	for _, row := range rows {
		address, _ := row[ds.IPColumn].(string)
		if address == "" {
			misses++

			continue
		}

		info, err := s.enricher.Lookup(ctx, address)
		if err != nil {
			misses++

			continue
		}

		row["country"] = info.Country
		row["city"] = info.City
		row["latitude"] = info.Latitude
		row["longitude"] = info.Longitude
	}

	if misses > 0 {
		s.log.WithFields(logrus.Fields{
			"dataset": ds.ID,
			"misses":  misses,
			"rows":    len(rows),
		}).Debug("Some rows passed through without geolocation")
	}
}
