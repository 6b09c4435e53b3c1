// Copyright 2025 James Ross
package docstore

import (
	"context"

	"github.com/flyingrobots/reportgen/internal/reduce"
)

// ReduceRangeSource adapts a SourceReader, pinned to one resolved source
// collection, into reduce.RangeSource — translating between the document
// store's hex identifier strings and the reduce engine's 96-bit ID type.
type ReduceRangeSource struct {
	Reader     SourceReader
	Collection string
	BatchSize  int32
}

func (a *ReduceRangeSource) IDBounds(ctx context.Context, tenantID string, filters map[string]interface{}) (reduce.ID, reduce.ID, bool, error) {
	minHex, maxHex, ok, err := a.Reader.IDBounds(ctx, tenantID, a.Collection, filters)
	if err != nil || !ok {
		return reduce.ID{}, reduce.ID{}, false, err
	}
	min, err := reduce.ParseID(minHex)
	if err != nil {
		return reduce.ID{}, reduce.ID{}, false, err
	}
	max, err := reduce.ParseID(maxHex)
	if err != nil {
		return reduce.ID{}, reduce.ID{}, false, err
	}
	return min, max, true, nil
}

func (a *ReduceRangeSource) Aggregate(ctx context.Context, tenantID string, filters map[string]interface{}, spec reduce.Spec, r reduce.Range) (reduce.PartialIterator, error) {
	return a.Reader.Aggregate(ctx, tenantID, a.Collection, filters, spec, r, a.BatchSize)
}
