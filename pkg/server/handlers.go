package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/metadata"
	"github.com/threatmaps/refresher/pkg/refresh"
)

// ErrDatasetNotFound is returned when an unknown dataset id is requested
var ErrDatasetNotFound = fiber.NewError(fiber.StatusNotFound, "dataset not found")

// ErrDatasetDisabled is returned when a disabled dataset is requested
var ErrDatasetDisabled = fiber.NewError(fiber.StatusBadRequest, "dataset is disabled")

// MetadataReader provides dataset stats for the listing endpoint
type MetadataReader interface {
	Get(ctx context.Context, datasetID string) (*metadata.Metadata, error)
}

// Handlers implements the API request handlers
type Handlers struct {
	refresher RefreshService
	datasets  *config.Datasets
	meta      MetadataReader
	log       logrus.FieldLogger
}

// NewHandlers creates the API handlers
func NewHandlers(refresher RefreshService, datasets *config.Datasets, meta MetadataReader, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		refresher: refresher,
		datasets:  datasets,
		meta:      meta,
		log:       log.WithField("component", "api.handlers"),
	}
}

type refreshResponse struct {
	Message        string           `json:"message"`
	RefreshedCount int              `json:"refreshed_count"`
	TotalDatasets  int              `json:"total_datasets"`
	Results        []refresh.Result `json:"results"`
	CorrelationID  string           `json:"correlation_id"`
}

// HandleRefresh triggers a refresh of one dataset or all enabled datasets.
// Query params: dataset (optional), force (bool). The per-dataset semantic
// statuses are mapped to a single transport code here and nowhere else.
func (h *Handlers) HandleRefresh(c fiber.Ctx) error {
	correlationID := c.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	force := c.Query("force") == "true"
	datasetID := c.Query("dataset")

	log := h.log.WithField("correlation_id", correlationID)

	var results []refresh.Result

	if datasetID != "" {
		if _, err := h.datasets.Get(datasetID); err != nil {
			if errors.Is(err, config.ErrDatasetNotFound) {
				return ErrDatasetNotFound
			}

			return ErrDatasetDisabled
		}

		log.WithField("dataset", datasetID).Info("Refresh requested")
		results = []refresh.Result{h.refresher.Refresh(c.RequestCtx(), datasetID, force)}
	} else {
		log.WithField("force", force).Info("Refresh of all enabled datasets requested")
		results = h.refresher.RefreshAll(c.RequestCtx(), force)
	}

	refreshed := 0
	locked := false
	failed := 0

	for _, r := range results {
		switch r.Status {
		case refresh.StatusInitialLoad, refresh.StatusRefreshed:
			refreshed++
		case refresh.StatusLocked:
			locked = true
		case refresh.StatusFailed:
			failed++
		case refresh.StatusCached:
		}
	}

	resp := refreshResponse{
		RefreshedCount: refreshed,
		TotalDatasets:  len(results),
		Results:        results,
		CorrelationID:  correlationID,
	}

	status := fiber.StatusOK

	switch {
	case failed == len(results) && len(results) > 0:
		status = fiber.StatusInternalServerError
		resp.Message = "Refresh failed"
	case refreshed > 0:
		resp.Message = "Refreshed"
	case locked:
		status = fiber.StatusAccepted
		resp.Message = "Refresh in progress"
	default:
		resp.Message = "No refresh needed"
	}

	c.Set("X-Correlation-ID", correlationID)

	return c.Status(status).JSON(resp)
}

type datasetInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Enabled       bool       `json:"enabled"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	Watermark     *time.Time `json:"watermark,omitempty"`
	RowCount      int        `json:"row_count"`
	LastStatus    string     `json:"last_status,omitempty"`
	OutputFile    string     `json:"output_file"`
	GeoJSONFile   string     `json:"geojson_file,omitempty"`
}

// HandleListDatasets lists configured datasets with their refresh stats
func (h *Handlers) HandleListDatasets(c fiber.Ctx) error {
	all := h.datasets.All()
	out := make([]datasetInfo, 0, len(all))

	for i := range all {
		ds := &all[i]

		info := datasetInfo{
			ID:          ds.ID,
			Name:        ds.Name,
			Enabled:     ds.Enabled,
			OutputFile:  ds.OutputFile,
			GeoJSONFile: ds.GeoJSONFile,
		}

		md, err := h.meta.Get(c.RequestCtx(), ds.ID)
		if err != nil {
			h.log.WithError(err).WithField("dataset", ds.ID).Warn("Failed to read metadata")
		} else if md != nil {
			info.LastRefreshAt = &md.LastRefreshAt
			info.Watermark = &md.LastQueryWatermark
			info.RowCount = md.LastRowCount
			info.LastStatus = md.LastStatus
		}

		out = append(out, info)
	}

	return c.JSON(fiber.Map{"datasets": out})
}
