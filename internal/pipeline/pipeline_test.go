package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joblens/joblens/internal/hash/sha256"
	"github.com/joblens/joblens/internal/joblens"
)

// stepClock advances a fixed amount on every Now call so chunk durations
// and throughput are deterministic and non-zero.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0).UTC(), step: 10 * time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func postings(n int) []joblens.Posting {
	out := make([]joblens.Posting, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, joblens.Posting{
			Candidate: joblens.Candidate{
				RawTitle:    "Job " + strconv.Itoa(i),
				CompanyHint: "Company " + strconv.Itoa(i%2),
			},
			FinalURL: "https://example.com/job/" + strconv.Itoa(i),
		})
	}
	return out
}

func identityStage(ctx context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
	return records, nil
}

func TestMetricsThroughputZeroWhenNoTimeElapsed(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.AddProcessed(10)
	assert.Zero(t, m.Throughput())

	m.AddElapsed(2 * time.Second)
	assert.InDelta(t, 5.0, m.Throughput(), 0.001)
}

func TestNewChunkDerivesIDFromContent(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	hasher := sha256.New()
	items := postings(3)

	a, err := NewChunk("", items, hasher, clock)
	require.NoError(t, err)
	b, err := NewChunk("", items, hasher, clock)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.ID, 16)

	c, err := NewChunk("explicit", items, hasher, clock)
	require.NoError(t, err)
	assert.Equal(t, "explicit", c.ID)
}

func TestChainWrapsFailingStage(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("boom")
	chain := Chain(
		identityStage,
		func(context.Context, []joblens.Posting) ([]joblens.Posting, error) { return nil, boom },
	)
	_, err := chain(context.Background(), postings(1))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 1, stageErr.Index)
	assert.ErrorIs(t, err, boom)
}

func TestBatchChunksByCountAndSurvivesChunkFailure(t *testing.T) {
	t.Parallel()

	// Five items at size two: chunks of [2 2 1]. The second chunk fails,
	// adding its whole size to the failed counter while chunks one and
	// three still complete.
	var chunkSizes []int
	chunks := 0
	stage := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		chunks++
		chunkSizes = append(chunkSizes, len(records))
		if chunks == 2 {
			return nil, fmt.Errorf("transform exploded")
		}
		return records, nil
	}

	b, err := NewBatch(BatchConfig{Size: 2}, stage, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)

	result, err := b.Process(context.Background(), postings(5))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, chunkSizes)
	assert.Equal(t, int64(3), result.Metrics.RecordsProcessed)
	assert.Equal(t, int64(2), result.Metrics.RecordsFailed)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "Job 0", result.Records[0].RawTitle)
	assert.Equal(t, "Job 4", result.Records[2].RawTitle)
	assert.Positive(t, result.Metrics.Throughput)
}

func TestBatchMemoryCeilingCutsChunksEarly(t *testing.T) {
	t.Parallel()

	var chunkSizes []int
	stage := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		chunkSizes = append(chunkSizes, len(records))
		return records, nil
	}

	b, err := NewBatch(BatchConfig{Size: 100, MemoryCeilingBytes: 1}, stage, sha256.New(), newStepClock(), nil)
	require.NoError(t, err)
	b.readMem = func() uint64 { return 2 }

	result, err := b.Process(context.Background(), postings(4))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1}, chunkSizes)
	assert.Equal(t, int64(4), result.Metrics.RecordsProcessed)
}

func TestBatchRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewBatch(BatchConfig{Size: 0}, identityStage, sha256.New(), newStepClock(), nil)
	var cfgErr *joblens.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestMapReduceGroupsByKeyInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	mapFn := func(_ context.Context, record joblens.Posting) ([]KV, error) {
		return []KV{{Key: record.CompanyHint, Value: 1}}, nil
	}
	reduceFn := func(_ context.Context, _ string, values []any) (any, error) {
		total := 0
		for _, v := range values {
			total += v.(int)
		}
		return total, nil
	}

	p, err := NewMapReduce(MapReduceConfig{Workers: 4, Reducers: 2}, mapFn, reduceFn, newStepClock(), nil)
	require.NoError(t, err)

	result, err := p.Process(context.Background(), postings(5))
	require.NoError(t, err)

	// Companies alternate 0,1,0,1,0: first-seen order is [0 1].
	require.Len(t, result.Reductions, 2)
	assert.Equal(t, "Company 0", result.Reductions[0].Key)
	assert.Equal(t, 3, result.Reductions[0].Value)
	assert.Equal(t, "Company 1", result.Reductions[1].Key)
	assert.Equal(t, 2, result.Reductions[1].Value)
	assert.Equal(t, int64(5), result.Metrics.RecordsProcessed)
	assert.Positive(t, result.Metrics.Throughput)
}

func TestMapReduceFailuresDropOnlyTheirContribution(t *testing.T) {
	t.Parallel()

	mapFn := func(_ context.Context, record joblens.Posting) ([]KV, error) {
		if record.RawTitle == "Job 2" {
			return nil, fmt.Errorf("unmappable")
		}
		return []KV{{Key: record.CompanyHint, Value: 1}}, nil
	}
	reduceFn := func(_ context.Context, key string, values []any) (any, error) {
		if key == "Company 1" {
			return nil, fmt.Errorf("unreducible")
		}
		return len(values), nil
	}

	p, err := NewMapReduce(MapReduceConfig{Workers: 2, Reducers: 1}, mapFn, reduceFn, newStepClock(), nil)
	require.NoError(t, err)

	result, err := p.Process(context.Background(), postings(5))
	require.NoError(t, err)

	// Job 2 failed in map, Company 1 failed in reduce: one reduction
	// survives and two failures are counted.
	require.Len(t, result.Reductions, 1)
	assert.Equal(t, "Company 0", result.Reductions[0].Key)
	assert.Equal(t, 2, result.Reductions[0].Value)
	assert.Equal(t, int64(4), result.Metrics.RecordsProcessed)
	assert.Equal(t, int64(2), result.Metrics.RecordsFailed)
}

func TestShufflePreservesAllMappedPairs(t *testing.T) {
	t.Parallel()

	pairs := []KV{
		{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "a", Value: 3},
		{Key: "c", Value: 4}, {Key: "b", Value: 5},
	}
	grouped, order := shuffle(pairs)

	total := 0
	for _, values := range grouped {
		total += len(values)
	}
	assert.Equal(t, len(pairs), total)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []any{1, 3}, grouped["a"])
}

func TestStreamPreservesFIFOOrderUnderBackpressure(t *testing.T) {
	t.Parallel()

	var seen []string
	stage := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		for _, r := range records {
			seen = append(seen, r.RawTitle)
		}
		return records, nil
	}

	s, err := NewStream(StreamConfig{
		BufferCapacity:    4,
		BackpressureRatio: 0.5,
		ProcessingRate:    3,
		PauseInterval:     time.Millisecond,
	}, stage, newStepClock(), nil)
	require.NoError(t, err)

	input := postings(10)
	result, err := s.Process(context.Background(), input)
	require.NoError(t, err)

	want := make([]string, 0, len(input))
	for _, p := range input {
		want = append(want, p.RawTitle)
	}
	assert.Equal(t, want, seen)
	assert.Equal(t, int64(10), result.Metrics.RecordsProcessed)
	assert.Equal(t, StreamStopped, s.State())
}

func TestStreamPausesAtBackpressureThreshold(t *testing.T) {
	t.Parallel()

	// Capacity 10 at ratio 0.8: the ninth push finds 8 items buffered and
	// must pause before being accepted.
	s, err := NewStream(StreamConfig{
		BufferCapacity:    10,
		BackpressureRatio: 0.8,
		ProcessingRate:    10,
		PauseInterval:     time.Millisecond,
	}, identityStage, newStepClock(), nil)
	require.NoError(t, err)

	_, err = s.Process(context.Background(), postings(9))
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.BackpressurePauses())
}

func TestStreamCountsPerItemFailuresAndContinues(t *testing.T) {
	t.Parallel()

	stage := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		if records[0].RawTitle == "Job 1" {
			return nil, fmt.Errorf("bad item")
		}
		return records, nil
	}

	s, err := NewStream(StreamConfig{
		BufferCapacity:    8,
		BackpressureRatio: 0.8,
		ProcessingRate:    4,
		PauseInterval:     time.Millisecond,
	}, stage, newStepClock(), nil)
	require.NoError(t, err)

	result, err := s.Process(context.Background(), postings(4))
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Metrics.RecordsProcessed)
	assert.Equal(t, int64(1), result.Metrics.RecordsFailed)
	require.Len(t, result.Records, 3)
}

func TestStreamStopDrainsRemainingBuffer(t *testing.T) {
	t.Parallel()

	var seen []string
	s, err := NewStream(StreamConfig{
		BufferCapacity:    16,
		BackpressureRatio: 0.9,
		ProcessingRate:    8,
		PauseInterval:     time.Millisecond,
	}, nil, newStepClock(), nil)
	require.Error(t, err)

	stage := func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		for _, r := range records {
			seen = append(seen, r.RawTitle)
		}
		return records, nil
	}
	s, err = NewStream(StreamConfig{
		BufferCapacity:    16,
		BackpressureRatio: 0.9,
		ProcessingRate:    8,
		PauseInterval:     time.Millisecond,
	}, stage, newStepClock(), nil)
	require.NoError(t, err)

	// Stop before processing: the whole input is declined, nothing drains.
	s.Stop()
	result, err := s.Process(context.Background(), postings(5))
	require.NoError(t, err)
	assert.Zero(t, result.Metrics.RecordsProcessed)
	assert.Empty(t, seen)
	assert.Equal(t, StreamStopped, s.State())
}
