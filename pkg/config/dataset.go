package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

var (
	// ErrDatasetIDRequired is returned when a dataset has no id
	ErrDatasetIDRequired = errors.New("dataset id is required")
	// ErrDatasetQueryRequired is returned when a dataset has no query template
	ErrDatasetQueryRequired = errors.New("dataset query template is required")
	// ErrDatasetOutputRequired is returned when a dataset has no output artifact name
	ErrDatasetOutputRequired = errors.New("dataset output artifact name is required")
	// ErrDatasetDuplicateID is returned when two datasets share an id
	ErrDatasetDuplicateID = errors.New("duplicate dataset id")
	// ErrDatasetNotFound is returned when a dataset id is not configured
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrDatasetDisabled is returned when a disabled dataset is requested explicitly
	ErrDatasetDisabled = errors.New("dataset is disabled")
)

// Dataset represents a single dataset definition. It is loaded once at
// startup and treated as read-only afterwards.
type Dataset struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled" default:"true"`

	// RefreshThreshold is the maximum acceptable age of cached data before
	// a refresh is mandatory. Age exactly equal to the threshold counts as
	// stale.
	RefreshThreshold Duration `yaml:"refreshThreshold" default:"5m"`

	// FullWindow is the query range used when no watermark exists yet.
	FullWindow Duration `yaml:"fullWindow" default:"24h"`

	// Overlap is re-queried before the watermark on every incremental
	// fetch to cover late-arriving upstream events. Downstream dedup by
	// key absorbs the duplicates.
	Overlap Duration `yaml:"overlap" default:"10m"`

	// Query is a template rendered with the planned window bounds before
	// execution against the log backend.
	Query string `yaml:"query"`

	// Columns fixes the output column order. Empty means the column order
	// of the first fetched row is used.
	Columns []string `yaml:"columns"`

	// KeyColumns, when set, dedup fetched rows at the overlap seam. The
	// newest row for a key wins.
	KeyColumns []string `yaml:"keyColumns"`

	// OutputFile is the committed name of the primary TSV artifact.
	OutputFile string `yaml:"outputFile"`

	// GeoJSONFile, when set, emits a GeoJSON companion artifact. Requires
	// GeoEnrich.
	GeoJSONFile string `yaml:"geojsonFile"`

	// GeoEnrich enables per-row source-IP geolocation lookup.
	GeoEnrich bool `yaml:"geoEnrich"`

	// IPColumn names the column holding the address to geolocate.
	IPColumn string `yaml:"ipColumn" default:"IPAddress"`

	// Schedule is an optional cron expression for background refreshes.
	Schedule string `yaml:"schedule"`
}

// UnmarshalYAML applies struct defaults before decoding so absent keys keep
// their documented values, including `enabled: true`.
func (d *Dataset) UnmarshalYAML(value *yaml.Node) error {
	if err := defaults.Set(d); err != nil {
		return err
	}

	type plain Dataset

	return value.Decode((*plain)(d))
}

// Validate checks if the dataset definition is valid
func (d *Dataset) Validate() error {
	if d.ID == "" {
		return ErrDatasetIDRequired
	}

	if d.Query == "" {
		return fmt.Errorf("%w: %s", ErrDatasetQueryRequired, d.ID)
	}

	if d.OutputFile == "" {
		return fmt.Errorf("%w: %s", ErrDatasetOutputRequired, d.ID)
	}

	return nil
}

// Datasets is the set of configured datasets, indexed by id
type Datasets struct {
	list  []Dataset
	index map[string]*Dataset
}

// LoadDatasetsFromFile reads dataset definitions from a YAML file
func LoadDatasetsFromFile(file string) (*Datasets, error) {
	data, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	return ParseDatasets(data)
}

// ParseDatasets parses dataset definitions from YAML bytes
func ParseDatasets(data []byte) (*Datasets, error) {
	var doc struct {
		Datasets []Dataset `yaml:"datasets"`
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return NewDatasets(doc.Datasets)
}

// NewDatasets validates and indexes a set of dataset definitions
func NewDatasets(list []Dataset) (*Datasets, error) {
	ds := &Datasets{
		list:  list,
		index: make(map[string]*Dataset, len(list)),
	}

	for i := range ds.list {
		d := &ds.list[i]

		if err := d.Validate(); err != nil {
			return nil, err
		}

		if _, exists := ds.index[d.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDatasetDuplicateID, d.ID)
		}

		ds.index[d.ID] = d
	}

	return ds, nil
}

// All returns every configured dataset
func (ds *Datasets) All() []Dataset {
	return ds.list
}

// Enabled returns only the enabled datasets
func (ds *Datasets) Enabled() []Dataset {
	out := make([]Dataset, 0, len(ds.list))
	for _, d := range ds.list {
		if d.Enabled {
			out = append(out, d)
		}
	}

	return out
}

// Get returns the dataset with the given id. A disabled dataset is returned
// with ErrDatasetDisabled so callers can reject it before any side effects.
func (ds *Datasets) Get(id string) (*Dataset, error) {
	d, ok := ds.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
	}

	if !d.Enabled {
		return d, fmt.Errorf("%w: %s", ErrDatasetDisabled, id)
	}

	return d, nil
}
