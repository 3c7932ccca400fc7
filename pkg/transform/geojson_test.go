package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatmaps/refresher/pkg/refresh"
)

func TestBuildGeoJSON(t *testing.T) {
	rows := []refresh.Row{
		{"ip": "1.2.3.4", "latitude": 52.37, "longitude": 4.89, "country": "NL"},
		{"ip": "5.6.7.8"}, // never enriched, skipped
		{"ip": "9.9.9.9", "latitude": "40.71", "longitude": "-74.00"},
	}

	data, err := BuildGeoJSON(rows)
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string     `json:"type"`
				Coordinates [2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}

	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, "Point", first.Geometry.Type)
	assert.InDelta(t, 4.89, first.Geometry.Coordinates[0], 1e-9, "coordinates are lon,lat")
	assert.InDelta(t, 52.37, first.Geometry.Coordinates[1], 1e-9)
	assert.Equal(t, "NL", first.Properties["country"])

	second := fc.Features[1]
	assert.InDelta(t, -74.00, second.Geometry.Coordinates[0], 1e-9, "string coordinates are parsed")
}

func TestBuildGeoJSONEmpty(t *testing.T) {
	data, err := BuildGeoJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(data))
}
