// Package pipeline provides three interchangeable processing strategies,
// batch, map-reduce, and stream, over a shared chunk and metrics model.
// A strategy consumes postings from the crawl orchestrator (or any record
// source), applies a chain of transform stages, and reports per-run metrics.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joblens/joblens/internal/joblens"
)

// Mode selects the processing strategy.
type Mode string

// Supported pipeline modes.
const (
	ModeBatch     Mode = "batch"
	ModeMapReduce Mode = "mapreduce"
	ModeStream    Mode = "stream"
)

// Stage transforms one ordered slice of postings into another. A stage may
// be pure (scoring) or side-effecting (description fetch, store writes).
type Stage func(ctx context.Context, records []joblens.Posting) ([]joblens.Posting, error)

// Chain composes stages left to right into a single stage.
func Chain(stages ...Stage) Stage {
	return func(ctx context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		out := records
		var err error
		for i, stage := range stages {
			out, err = stage(ctx, out)
			if err != nil {
				return nil, &StageError{Index: i, Err: err}
			}
		}
		return out, nil
	}
}

// StageError identifies which stage of a chain failed.
type StageError struct {
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d: %v", e.Index, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// DataChunk is one unit of work for the batch strategy.
type DataChunk struct {
	ID        string
	Items     []joblens.Posting
	CreatedAt time.Time
	Priority  int
	Metadata  map[string]string
}

// NewChunk builds a chunk, deriving the ID from a content hash when none is
// supplied.
func NewChunk(id string, items []joblens.Posting, hasher joblens.Hasher, clock joblens.Clock) (DataChunk, error) {
	if id == "" {
		var sb strings.Builder
		for _, item := range items {
			sb.WriteString(item.RawTitle)
			sb.WriteByte('\n')
			sb.WriteString(item.FinalURL)
			sb.WriteByte('\n')
		}
		sum, err := hasher.Hash([]byte(sb.String()))
		if err != nil {
			return DataChunk{}, fmt.Errorf("hash chunk content: %w", err)
		}
		id = sum[:16]
	}
	return DataChunk{
		ID:        id,
		Items:     items,
		CreatedAt: clock.Now(),
	}, nil
}

// Reduction is one reduced key produced by the map-reduce strategy.
type Reduction struct {
	Key   string
	Value any
}

// Result is what a strategy returns for one run. Records carries the
// transformed postings for the batch and stream strategies; Reductions
// carries the per-key results of a map-reduce run.
type Result struct {
	Records    []joblens.Posting
	Reductions []Reduction
	Metrics    Snapshot
}

// Processor is the single interface all three strategies implement.
type Processor interface {
	Process(ctx context.Context, records []joblens.Posting) (Result, error)
}
