package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/joblens/internal/joblens"
)

func TestDescriptionFetcherFillsDescription(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><article>Build Go services.</article></body></html>`))
	}))
	defer srv.Close()

	f := NewDescriptionFetcher(FetchConfig{
		Selector: "article",
		Timeout:  5 * time.Second,
	}, nil)

	records := []joblens.Posting{
		{FinalURL: srv.URL},
		{ResolutionFailed: true},
		{FinalURL: srv.URL, Description: "already set"},
	}
	out, err := f.Stage()(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "Build Go services.", out[0].Description)
	assert.Empty(t, out[1].Description)
	assert.Equal(t, "already set", out[2].Description)
}

func TestDescriptionFetcherSurvivesDeadDestination(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := NewDescriptionFetcher(FetchConfig{Timeout: 5 * time.Second}, nil)
	out, err := f.Stage()(context.Background(), []joblens.Posting{{FinalURL: srv.URL}})
	require.NoError(t, err)
	assert.Empty(t, out[0].Description)
}

func TestScoreStageCountsNormalizedTermHits(t *testing.T) {
	t.Parallel()

	stage := ScoreStage([]string{"Go", "Kubernetes", "gRPC"})
	records := []joblens.Posting{
		{
			Candidate:   joblens.Candidate{RawTitle: "Señor Gó Developer"},
			Description: "We run Kubernetes in production.",
		},
		{
			Candidate: joblens.Candidate{RawTitle: "Accountant", SalaryHint: "$90k"},
		},
	}
	out, err := stage(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, out[0].Score)
	assert.Equal(t, 1, out[1].Score)
}

func TestMapByCompanyAndReduceScores(t *testing.T) {
	t.Parallel()

	pairs, err := MapByCompany(context.Background(), joblens.Posting{
		Candidate: joblens.Candidate{CompanyHint: "Acmé"},
		Score:     4,
	})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "acme", pairs[0].Key)

	avg, err := ReduceScores(context.Background(), "acme", []any{4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, avg.(float64), 0.001)
}
