// Copyright 2025 James Ross
package reduce

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PartialIterator yields partial group rows produced by one range's
// aggregation pipeline.
type PartialIterator interface {
	Next(ctx context.Context) (row map[string]interface{}, ok bool, err error)
}

// RangeSource is the collaborator that knows how to talk to the source
// collection: finding the identifier bounds under a tenant+filter scope, and
// running the two-stage match/group pipeline for a single range.
type RangeSource interface {
	IDBounds(ctx context.Context, tenantID string, filters map[string]interface{}) (min, max ID, ok bool, err error)
	Aggregate(ctx context.Context, tenantID string, filters map[string]interface{}, spec Spec, r Range) (PartialIterator, error)
}

// ChunkMetric reports one range worker's contribution, sorted by Index
// before being returned to the caller.
type ChunkMetric struct {
	Index      int   `json:"index"`
	DurationMs int64 `json:"durationMs"`
	RowsOut    int   `json:"rowsOut"`
}

// Result is the engine's complete output: rows already in ascending
// canonical group-key order, plus the counters and per-chunk timings the
// job processor surfaces to callers.
type Result struct {
	Rows         []bson.D
	RowsIn       int64
	RowsOut      int64
	Chunks       int
	ChunkMetrics []ChunkMetric
}

// Options bounds the engine's resource usage and picks the merge strategy.
type Options struct {
	DefaultChunks        int
	PartitionCapMax      int
	PartitionMaxConcurrency int
	MaxGroups            int
	StreamingAccumulator bool
}

// Run computes a grouped aggregation per SPEC. It splits the identifier
// space under (tenantID, filters) into ranges, runs one bounded worker per
// range, and merges partial groups either online (streaming accumulator) or
// via a serial merge of buffered partials, depending on
// Options.StreamingAccumulator.
func Run(ctx context.Context, src RangeSource, tenantID string, filters map[string]interface{}, spec Spec, part PartitionSpec, opts Options) (Result, error) {
	if err := Validate(spec); err != nil {
		return Result{}, err
	}

	min, max, ok, err := src.IDBounds(ctx, tenantID, filters)
	if err != nil {
		return Result{}, err
	}
	if !ok || max.Cmp(min) < 0 {
		return Result{}, nil
	}

	k := ResolveChunks(part, opts.DefaultChunks, opts.PartitionCapMax)
	ranges := BuildRanges(min, max, k)
	numRanges := len(ranges)

	concurrency := opts.PartitionMaxConcurrency
	if concurrency > numRanges {
		concurrency = numRanges
	}
	if concurrency < 1 {
		concurrency = 1
	}

	metrics := make([]ChunkMetric, numRanges)
	var counter int64

	if opts.StreamingAccumulator {
		acc := newAccumulator(spec, opts.MaxGroups)
		var mu sync.Mutex
		if err := runWorkers(ctx, concurrency, numRanges, &counter, func(idx int) error {
			start := time.Now()
			rowsOut, err := aggregateRange(ctx, src, tenantID, filters, spec, ranges[idx], func(partial map[string]interface{}) error {
				mu.Lock()
				defer mu.Unlock()
				return acc.consume(partial)
			})
			metrics[idx] = ChunkMetric{Index: idx, DurationMs: time.Since(start).Milliseconds(), RowsOut: rowsOut}
			return err
		}); err != nil {
			return Result{}, err
		}

		rows, rowsIn, rowsOut := acc.finalize()
		sortChunkMetrics(metrics)
		return Result{Rows: rows, RowsIn: rowsIn, RowsOut: rowsOut, Chunks: numRanges, ChunkMetrics: metrics}, nil
	}

	var mu sync.Mutex
	var partials []map[string]interface{}
	if err := runWorkers(ctx, concurrency, numRanges, &counter, func(idx int) error {
		start := time.Now()
		rowsOut, err := aggregateRange(ctx, src, tenantID, filters, spec, ranges[idx], func(partial map[string]interface{}) error {
			mu.Lock()
			partials = append(partials, partial)
			mu.Unlock()
			return nil
		})
		metrics[idx] = ChunkMetric{Index: idx, DurationMs: time.Since(start).Milliseconds(), RowsOut: rowsOut}
		return err
	}); err != nil {
		return Result{}, err
	}

	result, err := ReducePartitionRows(spec, partials, opts.MaxGroups)
	if err != nil {
		return Result{}, err
	}
	result.Chunks = numRanges
	sortChunkMetrics(metrics)
	result.ChunkMetrics = metrics
	return result, nil
}

func aggregateRange(ctx context.Context, src RangeSource, tenantID string, filters map[string]interface{}, spec Spec, r Range, fold func(map[string]interface{}) error) (int, error) {
	it, err := src.Aggregate(ctx, tenantID, filters, spec, r)
	if err != nil {
		return 0, err
	}
	rowsOut := 0
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			return rowsOut, err
		}
		if !ok {
			return rowsOut, nil
		}
		if err := fold(row); err != nil {
			return rowsOut, err
		}
		rowsOut++
	}
}

// runWorkers starts a bounded pool of size concurrency, with each worker
// pulling its next range index from the shared counter until exhausted.
func runWorkers(ctx context.Context, concurrency, numRanges int, counter *int64, work func(idx int) error) error {
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(atomic.AddInt64(counter, 1)) - 1
				if idx >= numRanges {
					return
				}
				select {
				case <-ctx.Done():
					once.Do(func() { firstErr = ctx.Err() })
					return
				default:
				}
				if err := work(idx); err != nil {
					once.Do(func() { firstErr = err })
					return
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func sortChunkMetrics(metrics []ChunkMetric) {
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Index < metrics[j].Index })
}

// ReducePartitionRows is the v1 merge path: build an accumulator, consume
// each buffered partial serially, finalize. maxGroups is enforced here too
// rather than left uncapped, per the chosen resolution for the merge-path
// cardinality caveat (see DESIGN.md).
func ReducePartitionRows(spec Spec, partialRows []map[string]interface{}, maxGroups int) (Result, error) {
	acc := newAccumulator(spec, maxGroups)
	for _, partial := range partialRows {
		if err := acc.consume(partial); err != nil {
			return Result{}, err
		}
	}
	rows, rowsIn, rowsOut := acc.finalize()
	return Result{Rows: rows, RowsIn: rowsIn, RowsOut: rowsOut}, nil
}
