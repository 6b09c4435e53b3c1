// Copyright 2025 James Ross
package reduce

import (
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flyingrobots/reportgen/internal/reporterr"
)

const (
	inputCountField = "__input_count"
	avgSumPrefix    = "__avg_sum__"
	avgCountPrefix  = "__avg_count__"
)

type groupState struct {
	group      map[string]interface{}
	scalars    map[string]float64
	hasScalar  map[string]bool
	extreme    map[string]interface{}
	avgSum     map[string]float64
	avgCount   map[string]int64
	inputCount int64
}

func (s *groupState) extremeRaw(alias string, v interface{}) {
	if s.extreme == nil {
		s.extreme = make(map[string]interface{})
	}
	s.extreme[alias] = v
}

// accumulator folds per-range partial group rows into one shared group set,
// keyed by the canonical JSON of the groupBy mapping. It enforces maxGroups
// at the point a brand new group would be admitted.
type accumulator struct {
	spec      Spec
	maxGroups int
	order     []string
	groups    map[string]*groupState
}

func newAccumulator(spec Spec, maxGroups int) *accumulator {
	return &accumulator{
		spec:      spec,
		maxGroups: maxGroups,
		groups:    make(map[string]*groupState),
	}
}

// consume folds one partial row produced by a single range's aggregation
// pipeline into the accumulator.
func (a *accumulator) consume(partial map[string]interface{}) error {
	group := make(map[string]interface{}, len(a.spec.GroupBy))
	for _, field := range a.spec.GroupBy {
		group[field] = partial[field]
	}

	key, err := canonicalGroupKey(a.spec.GroupBy, group)
	if err != nil {
		return fmt.Errorf("reduce: encode group key: %w", err)
	}

	state, ok := a.groups[key]
	if !ok {
		if a.maxGroups > 0 && len(a.groups) >= a.maxGroups {
			return reporterr.New(reporterr.KindReduceCardinalityExceeded, "reduce cardinality exceeded: more than %d groups", a.maxGroups)
		}
		state = &groupState{
			group:     group,
			scalars:   make(map[string]float64),
			hasScalar: make(map[string]bool),
			avgSum:    make(map[string]float64),
			avgCount:  make(map[string]int64),
		}
		a.groups[key] = state
		a.order = append(a.order, key)
	}

	for _, m := range a.spec.Metrics {
		switch m.Op {
		case OpCount, OpSum:
			if v, present := toFloat64(partial[m.As]); present {
				state.scalars[m.As] += v
				state.hasScalar[m.As] = true
			}
		case OpMin:
			foldExtreme(state, m.As, partial[m.As], true)
		case OpMax:
			foldExtreme(state, m.As, partial[m.As], false)
		case OpAvg:
			if v, present := toFloat64(partial[avgSumPrefix+m.As]); present {
				state.avgSum[m.As] += v
			}
			if c, present := toInt64(partial[avgCountPrefix+m.As]); present {
				state.avgCount[m.As] += c
			}
		}
	}

	if c, present := toInt64(partial[inputCountField]); present {
		state.inputCount += c
	}

	return nil
}

func foldExtreme(state *groupState, alias string, raw interface{}, wantMin bool) {
	projected, ok := comparableProjection(raw)
	if !ok {
		return
	}
	if !state.hasScalar[alias] {
		state.hasScalar[alias] = true
		state.extremeRaw(alias, projected)
		return
	}
	existing := state.extreme[alias]
	if (wantMin && lessThan(projected, existing)) || (!wantMin && lessThan(existing, projected)) {
		state.extremeRaw(alias, projected)
	}
}

// finalize emits one output row per group in ascending canonical-key order,
// plus rowsIn = sum of per-group inputCount and rowsOut = group count.
func (a *accumulator) finalize() (rows []bson.D, rowsIn int64, rowsOut int64) {
	keys := make([]string, len(a.order))
	copy(keys, a.order)
	sort.Strings(keys)

	rows = make([]bson.D, 0, len(keys))
	for _, key := range keys {
		state := a.groups[key]
		rowsIn += state.inputCount

		row := make(bson.D, 0, len(a.spec.GroupBy)+len(a.spec.Metrics))
		for _, field := range a.spec.GroupBy {
			row = append(row, bson.E{Key: field, Value: state.group[field]})
		}
		for _, m := range a.spec.Metrics {
			row = append(row, bson.E{Key: m.As, Value: metricValue(state, m)})
		}
		rows = append(rows, row)
	}
	return rows, rowsIn, int64(len(keys))
}

func metricValue(state *groupState, m Metric) interface{} {
	switch m.Op {
	case OpAvg:
		count := state.avgCount[m.As]
		if count == 0 {
			return nil
		}
		return state.avgSum[m.As] / float64(count)
	case OpMin, OpMax:
		if !state.hasScalar[m.As] {
			return nil
		}
		return state.extreme[m.As]
	default:
		if !state.hasScalar[m.As] {
			return nil
		}
		return state.scalars[m.As]
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

// comparableProjection implements the min/max comparison rule: timestamps
// project to epoch milliseconds, numbers and strings compare natively,
// everything else is incomparable and skipped.
func comparableProjection(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case time.Time:
		return t.UnixMilli(), true
	case bson.DateTime:
		return int64(t), true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		return t, true
	default:
		return nil, false
	}
}

func lessThan(a, b interface{}) bool {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return av < bv
		case float64:
			return float64(av) < bv
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return av < bv
		case int64:
			return av < float64(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return false
}
