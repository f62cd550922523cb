package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/internal/domain/ranking"
)

// Client calls the service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// TestRef names a test known to the service.
type TestRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// LeaderboardRow is one ranked entry as served by the API.
type LeaderboardRow struct {
	ranking.Entry
	StudentName string `json:"student_name"`
}

type leaderboardPage struct {
	Items []LeaderboardRow `json:"items"`
	Total int              `json:"total"`
}

// Health checks that the service answers on /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Ingest posts one batch.
func (c *Client) Ingest(ctx context.Context, batch []model.AttemptEvent) (model.BatchResult, error) {
	var res model.BatchResult
	err := c.do(ctx, http.MethodPost, "/api/ingest/attempts", batch, &res)
	return res, err
}

// Tests lists every test.
func (c *Client) Tests(ctx context.Context) ([]TestRef, error) {
	var tests []TestRef
	err := c.do(ctx, http.MethodGet, "/api/tests", nil, &tests)
	return tests, err
}

// Leaderboard fetches every page of a test's leaderboard.
func (c *Client) Leaderboard(ctx context.Context, testID uuid.UUID, pageSize int) ([]LeaderboardRow, error) {
	var all []LeaderboardRow
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("test_id", testID.String())
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(pageSize))

		var p leaderboardPage
		if err := c.do(ctx, http.MethodGet, "/api/leaderboard?"+q.Encode(), nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if len(p.Items) == 0 || len(all) >= p.Total {
			return all, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
