package transform

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	// Pure-Go SQLite driver for the local geolocation database
	_ "modernc.org/sqlite"
)

// ErrNoGeoMatch is returned when no range in the database covers an address
var ErrNoGeoMatch = errors.New("no geolocation match")

// GeoInfo is the result of a single address lookup
type GeoInfo struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
}

// Enricher looks up IPv4 addresses against a local SQLite database holding an
// ip_ranges table (start_ip, end_ip, country, city, latitude, longitude with
// addresses stored as unsigned 32-bit integers).
type Enricher struct {
	log logrus.FieldLogger
	db  *sql.DB
}

// NewEnricher opens the geolocation database read-only
func NewEnricher(log logrus.FieldLogger, path string) (*Enricher, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database: %w", err)
	}

	return &Enricher{
		log: log.WithField("component", "geo"),
		db:  db,
	}, nil
}

// Close releases the database handle
func (e *Enricher) Close() error {
	return e.db.Close()
}

// Lookup resolves a single address. Only IPv4 is covered by the range table.
func (e *Enricher) Lookup(ctx context.Context, address string) (*GeoInfo, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoGeoMatch, address)
	}

	addr = addr.Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrNoGeoMatch, address)
	}

	v4 := addr.As4()
	n := binary.BigEndian.Uint32(v4[:])

	var info GeoInfo

	row := e.db.QueryRowContext(ctx,
		`SELECT country, city, latitude, longitude
		 FROM ip_ranges
		 WHERE start_ip <= ? AND end_ip >= ?
		 ORDER BY start_ip DESC
		 LIMIT 1`, n, n)

	if err := row.Scan(&info.Country, &info.City, &info.Latitude, &info.Longitude); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNoGeoMatch, address)
		}

		return nil, fmt.Errorf("geo lookup failed for %s: %w", address, err)
	}

	return &info, nil
}
