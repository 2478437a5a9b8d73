// Package restgw is a Remote Gateway for PostgREST-style HTTP document
// tables, such as a Supabase project. Each collection is a table whose
// primary key column is "id".
package restgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/logging"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     logging.Logger
	poll       time.Duration
}

// New returns a client for baseURL (without the /rest/v1 suffix). apiKey is
// sent both as the apikey header and as the bearer token.
func New(httpClient *http.Client, baseURL, apiKey string, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.With("module", "restgw"),
		poll:       5 * time.Second,
	}
}

// SetPollInterval sets how often Subscribe re-queries.
func (c *Client) SetPollInterval(d time.Duration) { c.poll = d }

var _ remote.Gateway = (*Client)(nil)

// classify maps an HTTP status to a remote error class.
func classify(method, path string, code int, body []byte) error {
	err := fmt.Errorf("rest %s %s returned %d: %s", method, path, code, strings.TrimSpace(string(body)))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", remote.ErrNotConfigured, err)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return remote.Retryable(err)
	default:
		return remote.Terminal(err)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, prefer string) ([]byte, int, error) {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, remote.Terminal(fmt.Errorf("encode body: %w", err))
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, remote.Terminal(err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "rest request failed", "method", method, "path", path, "error", err)
		return nil, 0, remote.Retryable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, remote.Retryable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn(ctx, "rest non-2xx", "method", method, "path", path, "status", resp.StatusCode)
		return data, resp.StatusCode, classify(method, path, resp.StatusCode, data)
	}

	c.logger.Debug(ctx, "rest request OK", "method", method, "path", path, "status", resp.StatusCode)
	return data, resp.StatusCode, nil
}

func (c *Client) Apply(ctx context.Context, m remote.Mutation) error {
	return remote.ApplyMutation(ctx, c, m)
}

// Create inserts doc, ignoring a row that already has the same id.
func (c *Client) Create(ctx context.Context, collection string, doc remote.Document) (string, error) {
	id := remote.DocumentID(doc)
	row := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		row[k] = v
	}
	row["id"] = id

	q := url.Values{"on_conflict": {"id"}}
	_, code, err := c.do(ctx, http.MethodPost, collection, q, row, "resolution=ignore-duplicates,return=minimal")
	if code == http.StatusConflict {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	q := url.Values{"id": {"eq." + id}, "limit": {"1"}}
	body, _, err := c.do(ctx, http.MethodGet, collection, q, nil, "")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Update merges patch into the row with id, inserting the row when it is
// absent. A PATCH matching no rows also answers 2xx, so it is not used here.
func (c *Client) Update(ctx context.Context, collection, id string, patch remote.Document) error {
	row := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		row[k] = v
	}
	row["id"] = id

	q := url.Values{"on_conflict": {"id"}}
	_, _, err := c.do(ctx, http.MethodPost, collection, q, row, "resolution=merge-duplicates,return=minimal")
	return err
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	q := url.Values{"id": {"eq." + id}}
	_, _, err := c.do(ctx, http.MethodDelete, collection, q, nil, "")
	return err
}

func (c *Client) Query(ctx context.Context, collection string, filters ...remote.Filter) ([]remote.Document, error) {
	q := url.Values{"select": {"*"}}
	for _, f := range filters {
		q.Add(f.Field, "eq."+fmt.Sprint(f.Value))
	}
	body, _, err := c.do(ctx, http.MethodGet, collection, q, nil, "")
	if err != nil {
		return nil, err
	}
	return decodeRows(body)
}

func decodeRows(body []byte) ([]remote.Document, error) {
	rows := []remote.Document{}
	if len(bytes.TrimSpace(body)) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, remote.Terminal(fmt.Errorf("decode rows: %w", err))
	}
	return rows, nil
}

func (c *Client) Subscribe(ctx context.Context, collection string, filters []remote.Filter, fn func([]remote.Document)) (func(), error) {
	return remote.PollSubscribe(ctx, c, collection, filters, c.poll, fn), nil
}

// Ping fetches the API root, which PostgREST serves for any valid key.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodGet, "", nil, nil, "")
	return err
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
