package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/joblens/internal/joblens"
)

type staticSummaries struct {
	summary *joblens.RunSummary
}

func (s staticSummaries) LastSummary() *joblens.RunSummary { return s.summary }

type stubStore struct {
	pending []joblens.StoredRecord
	err     error
	limit   int
}

func (s *stubStore) Exists(context.Context, joblens.IdentityKey) (bool, error) { return false, nil }
func (s *stubStore) Upsert(context.Context, joblens.StoredRecord) error        { return nil }
func (s *stubStore) UpdateStatus(context.Context, string, joblens.RecordStatus, map[string]any) error {
	return nil
}

func (s *stubStore) ReadPending(_ context.Context, _ joblens.RecordStatus, limit int) ([]joblens.StoredRecord, error) {
	s.limit = limit
	return s.pending, s.err
}

func doRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	t.Parallel()

	s := NewServer(staticSummaries{}, &stubStore{}, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(t, s.Handler(), path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	s := NewServer(staticSummaries{}, &stubStore{}, nil)
	rec := doRequest(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestGetSummary(t *testing.T) {
	t.Parallel()

	empty := NewServer(staticSummaries{}, &stubStore{}, nil)
	rec := doRequest(t, empty.Handler(), "/v1/summary")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	summary := &joblens.RunSummary{
		RunID:      "run-1",
		Keywords:   []string{"Go"},
		Discovered: 4,
		Resolved:   3,
		StartedAt:  time.Unix(1700000000, 0).UTC(),
	}
	s := NewServer(staticSummaries{summary: summary}, &stubStore{}, nil)
	rec = doRequest(t, s.Handler(), "/v1/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary joblens.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Summary.RunID)
	assert.Equal(t, 3, body.Summary.Resolved)
}

func TestListPending(t *testing.T) {
	t.Parallel()

	store := &stubStore{pending: []joblens.StoredRecord{{ID: "rec-1", Status: joblens.StatusPending}}}
	s := NewServer(staticSummaries{}, store, nil)

	rec := doRequest(t, s.Handler(), "/v1/postings/pending")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultPendingLimit, store.limit)

	var body struct {
		Postings []joblens.StoredRecord `json:"postings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Postings, 1)
	assert.Equal(t, "rec-1", body.Postings[0].ID)

	rec = doRequest(t, s.Handler(), "/v1/postings/pending?limit=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxPendingLimit, store.limit)

	rec = doRequest(t, s.Handler(), "/v1/postings/pending?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPendingStoreFailure(t *testing.T) {
	t.Parallel()

	store := &stubStore{err: fmt.Errorf("connection refused")}
	s := NewServer(staticSummaries{}, store, nil)
	rec := doRequest(t, s.Handler(), "/v1/postings/pending")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	noStore := NewServer(staticSummaries{}, nil, nil)
	rec = doRequest(t, noStore.Handler(), "/v1/postings/pending")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
