package restgw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Prefer string
	Body   map[string]any
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Prefer: r.Header.Get("Prefer")}
		b, _ := io.ReadAll(r.Body)
		if len(b) > 0 {
			_ = json.Unmarshal(b, &rec.Body)
		}
		r.Body = io.NopCloser(bytes.NewReader(b))
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return New(srv.Client(), srv.URL+"/", "key", logging.Nop()), &reqs
}

func TestApply_Create(t *testing.T) {
	c, reqs := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Apply(context.Background(), remote.Mutation{
		Collection: finance.CollectionDebts,
		Op:         finance.OpCreate,
		ID:         "d1",
		Document:   remote.Document{"totalAmount": "1000"},
	})
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/rest/v1/debts", got.Path)
	assert.Equal(t, "on_conflict=id", got.Query)
	assert.Contains(t, got.Prefer, "resolution=ignore-duplicates")
	assert.Equal(t, "d1", got.Body["id"])
}

func TestApply_UpdateAndDelete(t *testing.T) {
	c, reqs := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, c.Apply(ctx, remote.Mutation{Collection: "debts", Op: finance.OpUpdate, ID: "d1", Document: remote.Document{"status": "paid_off"}}))
	require.NoError(t, c.Apply(ctx, remote.Mutation{Collection: "debts", Op: finance.OpDelete, ID: "d1"}))

	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPost, (*reqs)[0].Method)
	assert.Equal(t, "on_conflict=id", (*reqs)[0].Query)
	assert.Contains(t, (*reqs)[0].Prefer, "resolution=merge-duplicates")
	assert.Equal(t, "d1", (*reqs)[0].Body["id"])
	assert.Equal(t, "paid_off", (*reqs)[0].Body["status"])
	assert.Equal(t, http.MethodDelete, (*reqs)[1].Method)
	assert.Equal(t, "id=eq.d1", (*reqs)[1].Query)
}

// table mimics a PostgREST table: PATCH touches only existing rows, POST with
// merge-duplicates upserts.
type table struct {
	mu   sync.Mutex
	rows map[string]map[string]any
}

func (tb *table) serve(w http.ResponseWriter, r *http.Request) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	switch r.Method {
	case http.MethodPatch:
		id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
		if row, ok := tb.rows[id]; ok {
			for k, v := range body {
				row[k] = v
			}
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		id, _ := body["id"].(string)
		row, ok := tb.rows[id]
		switch {
		case !ok:
			tb.rows[id] = body
		case strings.Contains(r.Header.Get("Prefer"), "merge-duplicates"):
			for k, v := range body {
				row[k] = v
			}
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
		out := []map[string]any{}
		if row, ok := tb.rows[id]; ok {
			out = append(out, row)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func TestUpdate_MissingRowIsWritten(t *testing.T) {
	tb := &table{rows: map[string]map[string]any{}}
	c, _ := newTestServer(t, tb.serve)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, "debts", "d9", remote.Document{"status": "active", "remainingAmount": "40"}))

	doc, err := c.Get(ctx, "debts", "d9")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "40", doc["remainingAmount"])

	require.NoError(t, c.Update(ctx, "debts", "d9", remote.Document{"remainingAmount": "0"}))
	doc, err = c.Get(ctx, "debts", "d9")
	require.NoError(t, err)
	assert.Equal(t, "0", doc["remainingAmount"])
	assert.Equal(t, "active", doc["status"])
}

func TestCreate_ConflictIsSuccess(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	id, err := c.Create(context.Background(), "users", remote.Document{"id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		code int
		want remote.Class
	}{
		{http.StatusInternalServerError, remote.ClassRetryable},
		{http.StatusBadGateway, remote.ClassRetryable},
		{http.StatusTooManyRequests, remote.ClassRetryable},
		{http.StatusBadRequest, remote.ClassTerminal},
		{http.StatusUnprocessableEntity, remote.ClassTerminal},
		{http.StatusUnauthorized, remote.ClassNotConfigured},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})
			err := c.Update(context.Background(), "debts", "d1", remote.Document{})
			assert.Equal(t, tt.want, remote.Classify(err))
		})
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(nil, url, "key", logging.Nop())
	err := c.Ping(context.Background())
	assert.Equal(t, remote.ClassRetryable, remote.Classify(err))
}

func TestGetAndQuery(t *testing.T) {
	c, reqs := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.missing" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":"t1","type":"expense","amount":"150"}]`))
	})
	ctx := context.Background()

	doc, err := c.Get(ctx, "transactions", "t1")
	require.NoError(t, err)
	assert.Equal(t, "150", doc["amount"])

	doc, err = c.Get(ctx, "transactions", "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)

	docs, err := c.Query(ctx, "transactions", remote.Filter{Field: "type", Value: "expense"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Contains(t, (*reqs)[2].Query, "type=eq.expense")
}
