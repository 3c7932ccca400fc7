package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/metadata"
	"github.com/threatmaps/refresher/pkg/refresh"
)

type stubRefresher struct {
	single    refresh.Result
	all       []refresh.Result
	lastForce bool
}

func (s *stubRefresher) Refresh(_ context.Context, datasetID string, force bool) refresh.Result {
	s.lastForce = force
	r := s.single
	r.DatasetID = datasetID

	return r
}

func (s *stubRefresher) RefreshAll(_ context.Context, force bool) []refresh.Result {
	s.lastForce = force

	return s.all
}

type stubMeta struct {
	records map[string]*metadata.Metadata
}

func (s *stubMeta) Get(_ context.Context, datasetID string) (*metadata.Metadata, error) {
	return s.records[datasetID], nil
}

func newTestApp(t *testing.T, refresher RefreshService, meta MetadataReader) *fiber.App {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	datasets, err := config.NewDatasets([]config.Dataset{
		{ID: "signin-failures", Name: "Sign-in Failures", Enabled: true, Query: "q", OutputFile: "signin-failures.tsv"},
		{ID: "disabled-ds", Enabled: false, Query: "q", OutputFile: "disabled.tsv"},
	})
	require.NoError(t, err)

	if meta == nil {
		meta = &stubMeta{}
	}

	handlers := NewHandlers(refresher, datasets, meta, log)

	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/api/v1/refresh", handlers.HandleRefresh)
	app.Post("/api/v1/refresh", handlers.HandleRefresh)
	app.Get("/api/v1/datasets", handlers.HandleListDatasets)

	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, refreshResponse) {
	t.Helper()

	resp, err := app.Test(req)
	require.NoError(t, err)

	var body refreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NoError(t, resp.Body.Close())

	return resp, body
}

func TestHandleRefreshRefreshed(t *testing.T) {
	refresher := &stubRefresher{single: refresh.Result{Status: refresh.StatusRefreshed, RowCount: 10}}
	app := newTestApp(t, refresher, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=signin-failures&force=true", nil)
	resp, body := doRequest(t, app, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Refreshed", body.Message)
	assert.Equal(t, 1, body.RefreshedCount)
	assert.True(t, refresher.lastForce)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "signin-failures", body.Results[0].DatasetID)
}

func TestHandleRefreshCached(t *testing.T) {
	refresher := &stubRefresher{single: refresh.Result{Status: refresh.StatusCached, RowCount: 42}}
	app := newTestApp(t, refresher, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=signin-failures", nil)
	resp, body := doRequest(t, app, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "No refresh needed", body.Message)
	assert.Zero(t, body.RefreshedCount)
	assert.False(t, refresher.lastForce)
}

func TestHandleRefreshLocked(t *testing.T) {
	refresher := &stubRefresher{single: refresh.Result{Status: refresh.StatusLocked}}
	app := newTestApp(t, refresher, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=signin-failures", nil)
	resp, body := doRequest(t, app, req)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Refresh in progress", body.Message)
}

func TestHandleRefreshAllFailed(t *testing.T) {
	refresher := &stubRefresher{single: refresh.Result{Status: refresh.StatusFailed, Error: "query failed"}}
	app := newTestApp(t, refresher, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=signin-failures", nil)
	resp, body := doRequest(t, app, req)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Refresh failed", body.Message)
}

func TestHandleRefreshMixedOutcomes(t *testing.T) {
	refresher := &stubRefresher{all: []refresh.Result{
		{DatasetID: "a", Status: refresh.StatusRefreshed, RowCount: 5},
		{DatasetID: "b", Status: refresh.StatusFailed, Error: "boom"},
	}}
	app := newTestApp(t, refresher, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	resp, body := doRequest(t, app, req)

	// One success is enough for an overall success
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Refreshed", body.Message)
	assert.Equal(t, 1, body.RefreshedCount)
	assert.Equal(t, 2, body.TotalDatasets)
}

func TestHandleRefreshUnknownDataset(t *testing.T) {
	app := newTestApp(t, &stubRefresher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=nope", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleRefreshDisabledDataset(t *testing.T) {
	app := newTestApp(t, &stubRefresher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=disabled-ds", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRefreshCorrelationID(t *testing.T) {
	refresher := &stubRefresher{single: refresh.Result{Status: refresh.StatusCached}}
	app := newTestApp(t, refresher, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=signin-failures", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")

	resp, body := doRequest(t, app, req)

	assert.Equal(t, "corr-42", resp.Header.Get("X-Correlation-ID"), "caller's id is echoed back")
	assert.Equal(t, "corr-42", body.CorrelationID)

	// Absent id gets generated
	req = httptest.NewRequest(http.MethodGet, "/api/v1/refresh?dataset=signin-failures", nil)
	resp, body = doRequest(t, app, req)

	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
	assert.Equal(t, resp.Header.Get("X-Correlation-ID"), body.CorrelationID)
}

func TestHandleListDatasets(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	meta := &stubMeta{records: map[string]*metadata.Metadata{
		"signin-failures": {
			DatasetID:          "signin-failures",
			LastRefreshAt:      now,
			LastQueryWatermark: now,
			LastRowCount:       1234,
			LastStatus:         "refreshed",
		},
	}}

	app := newTestApp(t, &stubRefresher{}, meta)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Datasets []datasetInfo `json:"datasets"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Datasets, 2)

	first := body.Datasets[0]
	assert.Equal(t, "signin-failures", first.ID)
	assert.Equal(t, 1234, first.RowCount)
	assert.Equal(t, "refreshed", first.LastStatus)
	require.NotNil(t, first.LastRefreshAt)
	assert.True(t, first.LastRefreshAt.Equal(now))

	second := body.Datasets[1]
	assert.False(t, second.Enabled)
	assert.Nil(t, second.LastRefreshAt, "never-refreshed datasets have no stats")
}
