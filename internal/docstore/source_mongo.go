// Copyright 2025 James Ross
package docstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flyingrobots/reportgen/internal/normalize"
	"github.com/flyingrobots/reportgen/internal/reduce"
)

type mongoSourceReader struct {
	client *mongo.Client
	db     string
}

func (r *mongoSourceReader) collection(name string) *mongo.Collection {
	return r.client.Database(r.db).Collection(name)
}

// IsWritablePrimary issues a hello-style identity query. The read endpoint
// must resolve to a non-writable secondary; the job processor aborts with
// ReadEndpointIsPrimary if this returns true.
func (r *mongoSourceReader) IsWritablePrimary(ctx context.Context) (bool, error) {
	var result struct {
		IsWritablePrimary bool `bson:"isWritablePrimary"`
	}
	err := r.client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&result)
	if err != nil {
		return false, fmt.Errorf("docstore: hello command: %w", err)
	}
	return result.IsWritablePrimary, nil
}

func (r *mongoSourceReader) IDBounds(ctx context.Context, tenantID, collection string, filters map[string]interface{}) (string, string, bool, error) {
	filter := matchFilter(tenantID, filters)
	projection := bson.D{{Key: "_id", Value: 1}}

	var minDoc, maxDoc struct {
		ID bson.ObjectID `bson:"_id"`
	}

	minOpts := options.FindOne().SetProjection(projection).SetSort(bson.D{{Key: "_id", Value: 1}})
	err := r.collection(collection).FindOne(ctx, filter, minOpts).Decode(&minDoc)
	if err == mongo.ErrNoDocuments {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("docstore: min identifier query: %w", err)
	}

	maxOpts := options.FindOne().SetProjection(projection).SetSort(bson.D{{Key: "_id", Value: -1}})
	err = r.collection(collection).FindOne(ctx, filter, maxOpts).Decode(&maxDoc)
	if err == mongo.ErrNoDocuments {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("docstore: max identifier query: %w", err)
	}

	return minDoc.ID.Hex(), maxDoc.ID.Hex(), true, nil
}

func matchFilter(tenantID string, filters map[string]interface{}) bson.D {
	match := bson.D{{Key: "tenantId", Value: tenantID}}
	for k, v := range normalize.SanitizeFilters(filters) {
		match = append(match, bson.E{Key: k, Value: v})
	}
	return match
}

func rangePredicate(r reduce.Range) bson.D {
	pred := bson.D{{Key: "$gte", Value: r.Start.ObjectID()}}
	if r.End != nil {
		pred = append(pred, bson.E{Key: "$lt", Value: r.End.ObjectID()})
	}
	return pred
}

// SortedCursor opens an ascending-by-_id cursor for raw/multipass reads,
// optionally capped at maxIDHex (used by the archive-multipass plan to pin
// every sub-format pass to the same snapshot of the dataset).
func (r *mongoSourceReader) SortedCursor(ctx context.Context, tenantID, collection string, filters map[string]interface{}, maxIDHex string, batchSize int32) (RowCursor, error) {
	match := matchFilter(tenantID, filters)
	if maxIDHex != "" {
		maxID, err := bson.ObjectIDFromHex(maxIDHex)
		if err != nil {
			return nil, fmt.Errorf("docstore: invalid maxId %q: %w", maxIDHex, err)
		}
		match = append(match, bson.E{Key: "_id", Value: bson.D{{Key: "$lte", Value: maxID}}})
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if batchSize > 0 {
		opts.SetBatchSize(batchSize)
	}
	cur, err := r.collection(collection).Find(ctx, match, opts)
	if err != nil {
		return nil, fmt.Errorf("docstore: sorted cursor: %w", err)
	}
	return &mongoRowCursor{cur: cur}, nil
}

type mongoRowCursor struct {
	cur *mongo.Cursor
}

func (c *mongoRowCursor) Next(ctx context.Context) (bson.D, bool, error) {
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	var row bson.D
	if err := c.cur.Decode(&row); err != nil {
		return nil, false, err
	}
	return normalize.OrderedRow(row), true, nil
}

func (c *mongoRowCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// Aggregate runs the two-stage match/group pipeline for one reduce range:
// match on tenant, sanitized filters and the range predicate on _id; group
// keyed by the groupBy fields, emitting each metric's partial per spec.md
// §4.3. Disk fallback is allowed and the configured cursor batch size used.
func (r *mongoSourceReader) Aggregate(ctx context.Context, tenantID, collection string, filters map[string]interface{}, spec reduce.Spec, rng reduce.Range, batchSize int32) (reduce.PartialIterator, error) {
	match := matchFilter(tenantID, filters)
	match = append(match, bson.E{Key: "_id", Value: rangePredicate(rng)})

	groupID := bson.D{}
	for _, field := range spec.GroupBy {
		groupID = append(groupID, bson.E{Key: field, Value: "$" + field})
	}

	group := bson.D{{Key: "_id", Value: groupID}}
	for _, m := range spec.Metrics {
		switch m.Op {
		case reduce.OpCount:
			group = append(group, bson.E{Key: m.As, Value: bson.D{{Key: "$sum", Value: 1}}})
		case reduce.OpSum:
			group = append(group, bson.E{Key: m.As, Value: bson.D{{Key: "$sum", Value: "$" + m.Field}}})
		case reduce.OpMin:
			group = append(group, bson.E{Key: m.As, Value: bson.D{{Key: "$min", Value: "$" + m.Field}}})
		case reduce.OpMax:
			group = append(group, bson.E{Key: m.As, Value: bson.D{{Key: "$max", Value: "$" + m.Field}}})
		case reduce.OpAvg:
			group = append(group,
				bson.E{Key: "__avg_sum__" + m.As, Value: bson.D{{Key: "$sum", Value: "$" + m.Field}}},
				bson.E{Key: "__avg_count__" + m.As, Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$ne", Value: bson.A{"$" + m.Field, nil}}}, 1, 0,
				}}}}},
			)
		}
	}
	group = append(group, bson.E{Key: "__input_count", Value: bson.D{{Key: "$sum", Value: 1}}})

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: group}},
	}

	aggOpts := options.Aggregate().SetAllowDiskUse(true)
	if batchSize > 0 {
		aggOpts.SetBatchSize(batchSize)
	}
	cur, err := r.collection(collection).Aggregate(ctx, pipeline, aggOpts)
	if err != nil {
		return nil, fmt.Errorf("docstore: reduce aggregate: %w", err)
	}
	return &mongoPartialIterator{cur: cur, groupBy: spec.GroupBy}, nil
}

type mongoPartialIterator struct {
	cur     *mongo.Cursor
	groupBy []string
}

func (p *mongoPartialIterator) Next(ctx context.Context) (map[string]interface{}, bool, error) {
	if !p.cur.Next(ctx) {
		if err := p.cur.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	var doc bson.M
	if err := p.cur.Decode(&doc); err != nil {
		return nil, false, err
	}
	out := make(map[string]interface{}, len(doc)+len(p.groupBy))
	if id, ok := doc["_id"].(bson.M); ok {
		for _, field := range p.groupBy {
			out[field] = id[field]
		}
	}
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	return out, true, nil
}
