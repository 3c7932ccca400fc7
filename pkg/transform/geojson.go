package transform

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/threatmaps/refresher/pkg/refresh"
)

type geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // lon, lat
}

type feature struct {
	Type       string      `json:"type"`
	Geometry   geometry    `json:"geometry"`
	Properties refresh.Row `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// BuildGeoJSON encodes geo-enriched rows as a FeatureCollection of points.
// Rows without usable latitude/longitude values are skipped, not failed; a
// lookup miss should thin the map, not break the refresh.
func BuildGeoJSON(rows []refresh.Row) ([]byte, error) {
	fc := featureCollection{
		Type:     "FeatureCollection",
		Features: make([]feature, 0, len(rows)),
	}

	for _, row := range rows {
		lat, latOK := floatValue(row["latitude"])
		lon, lonOK := floatValue(row["longitude"])

		if !latOK || !lonOK {
			continue
		}

		fc.Features = append(fc.Features, feature{
			Type: "Feature",
			Geometry: geometry{
				Type:        "Point",
				Coordinates: [2]float64{lon, lat},
			},
			Properties: row,
		})
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geojson: %w", err)
	}

	return data, nil
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
