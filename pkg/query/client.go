package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/refresh"
)

// ErrBackend is returned when the log backend rejects or fails a query
var ErrBackend = errors.New("query backend error")

// Client executes rendered queries against the log backend's workspace query
// endpoint. Transient failures are retried with backoff; a query that still
// fails surfaces as a single error to the coordinator, which never retries.
type Client struct {
	log         logrus.FieldLogger
	http        *retryablehttp.Client
	endpoint    string
	workspaceID string
}

// NewClient creates a query backend client
func NewClient(log logrus.FieldLogger, cfg *config.QueryConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.HTTPClient.Timeout = time.Duration(cfg.Timeout)
	rc.Logger = nil

	return &Client{
		log:         log.WithField("component", "query"),
		http:        rc,
		endpoint:    cfg.Endpoint,
		workspaceID: cfg.WorkspaceID,
	}
}

type queryRequest struct {
	Query    string `json:"query"`
	Timespan string `json:"timespan"`
}

type queryResponse struct {
	Tables []struct {
		Name    string `json:"name"`
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]interface{} `json:"rows"`
	} `json:"tables"`
}

// Execute renders the dataset's query for the window and runs it. Rows come
// back as opaque column-keyed records.
func (c *Client) Execute(ctx context.Context, ds *config.Dataset, window refresh.Window) ([]refresh.Row, string, error) {
	rendered, err := Render(ds, window)
	if err != nil {
		return nil, "", err
	}

	hash := Hash(rendered)

	body, err := json.Marshal(queryRequest{
		Query: rendered,
		Timespan: fmt.Sprintf("%s/%s",
			window.Start.UTC().Format(time.RFC3339),
			window.End.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return nil, hash, fmt.Errorf("failed to encode query request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/workspaces/%s/query", c.endpoint, c.workspaceID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, hash, fmt.Errorf("failed to build query request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	c.log.WithFields(logrus.Fields{
		"dataset":      ds.ID,
		"query_hash":   hash,
		"window_start": window.Start,
		"window_end":   window.End,
	}).Debug("Executing query")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, hash, fmt.Errorf("%w: %s", ErrBackend, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, hash, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, hash, fmt.Errorf("%w: failed to decode response: %s", ErrBackend, err)
	}

	rows := flattenTables(&decoded)

	c.log.WithFields(logrus.Fields{
		"dataset": ds.ID,
		"rows":    len(rows),
	}).Debug("Query returned")

	return rows, hash, nil
}

// flattenTables converts the backend's columnar first table into row records
func flattenTables(resp *queryResponse) []refresh.Row {
	if len(resp.Tables) == 0 {
		return nil
	}

	table := resp.Tables[0]
	rows := make([]refresh.Row, 0, len(table.Rows))

	for _, raw := range table.Rows {
		row := make(refresh.Row, len(table.Columns))

		for i, col := range table.Columns {
			if i < len(raw) {
				row[col.Name] = raw[i]
			}
		}

		rows = append(rows, row)
	}

	return rows
}
