package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/joblens/internal/hash/sha256"
	"github.com/joblens/joblens/internal/joblens"
)

type fakeStore struct {
	pending []joblens.StoredRecord
	updates map[string]joblens.RecordStatus
	fields  map[string]map[string]any
}

func newFakeStore(pending ...joblens.StoredRecord) *fakeStore {
	return &fakeStore{
		pending: pending,
		updates: make(map[string]joblens.RecordStatus),
		fields:  make(map[string]map[string]any),
	}
}

func (s *fakeStore) Exists(context.Context, joblens.IdentityKey) (bool, error) { return false, nil }

func (s *fakeStore) Upsert(context.Context, joblens.StoredRecord) error { return nil }

func (s *fakeStore) ReadPending(_ context.Context, status joblens.RecordStatus, limit int) ([]joblens.StoredRecord, error) {
	if status != joblens.StatusPending {
		return nil, fmt.Errorf("unexpected status %q", status)
	}
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	return s.pending[:limit], nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status joblens.RecordStatus, fields map[string]any) error {
	s.updates[id] = status
	s.fields[id] = fields
	return nil
}

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ any) (string, error) {
	p.published = append(p.published, topic)
	return "msg-1", nil
}

func pendingRecord(id, title, url string) joblens.StoredRecord {
	return joblens.StoredRecord{
		ID:      id,
		Title:   title,
		Company: "Acme",
		URL:     url,
		Status:  joblens.StatusPending,
	}
}

func TestRunnerEnrichesPendingRecords(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		pendingRecord("r1", "Go Developer", "https://example.com/job/1"),
		pendingRecord("r2", "Data Analyst", "https://example.com/job/2"),
	)
	pub := &fakePublisher{}

	scoring := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		for i := range records {
			records[i].Score = 7
		}
		return records, nil
	}
	batch, err := NewBatch(BatchConfig{Size: 10}, scoring, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{BatchLimit: 10, Topic: "joblens.enriched"}, store, batch, pub, newStepClock(), nil)
	require.NoError(t, err)

	enriched, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, enriched)
	assert.Equal(t, joblens.StatusEnriched, store.updates["r1"])
	assert.Equal(t, joblens.StatusEnriched, store.updates["r2"])
	assert.Equal(t, 7, store.fields["r1"]["score"])
	assert.Equal(t, []string{"joblens.enriched", "joblens.enriched"}, pub.published)
}

func TestRunnerMatchesRecordsSharingAURL(t *testing.T) {
	t.Parallel()

	// Two distinct postings can share a destination URL; each processed
	// result must land on its own record, not whichever one mapped last.
	store := newFakeStore(
		pendingRecord("r1", "Go Developer", "https://example.com/careers"),
		pendingRecord("r2", "Data Analyst", "https://example.com/careers"),
	)

	scoring := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		for i := range records {
			records[i].Score = len(records[i].RawTitle)
		}
		return records, nil
	}
	batch, err := NewBatch(BatchConfig{Size: 10}, scoring, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{BatchLimit: 10}, store, batch, nil, newStepClock(), nil)
	require.NoError(t, err)

	enriched, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, enriched)
	assert.Equal(t, joblens.StatusEnriched, store.updates["r1"])
	assert.Equal(t, joblens.StatusEnriched, store.updates["r2"])
	assert.Equal(t, len("Go Developer"), store.fields["r1"]["score"])
	assert.Equal(t, len("Data Analyst"), store.fields["r2"]["score"])
}

func TestRunnerMarksDroppedRecordsFailed(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		pendingRecord("r1", "Go Developer", "https://example.com/job/1"),
		pendingRecord("r2", "Data Analyst", "https://example.com/job/2"),
	)

	// The stage fails on every chunk, so with one record per chunk the
	// second record survives while the first is dropped.
	calls := 0
	stage := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("enrichment failed")
		}
		return records, nil
	}
	batch, err := NewBatch(BatchConfig{Size: 1}, stage, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{BatchLimit: 10}, store, batch, nil, newStepClock(), nil)
	require.NoError(t, err)

	enriched, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, enriched)
	assert.Equal(t, joblens.StatusFailed, store.updates["r1"])
	assert.Equal(t, joblens.StatusEnriched, store.updates["r2"])
}

func TestRunnerNoPendingRecordsIsANoop(t *testing.T) {
	t.Parallel()

	batch, err := NewBatch(BatchConfig{Size: 1}, identityStage, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)
	runner, err := NewRunner(RunnerConfig{BatchLimit: 5}, newFakeStore(), batch, nil, newStepClock(), nil)
	require.NoError(t, err)

	enriched, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, enriched)
}

func TestRunnerRequiresPublisherWhenTopicSet(t *testing.T) {
	t.Parallel()

	batch, err := NewBatch(BatchConfig{Size: 1}, identityStage, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)
	_, err = NewRunner(RunnerConfig{BatchLimit: 5, Topic: "t"}, newFakeStore(), batch, nil, newStepClock(), nil)
	var cfgErr *joblens.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
