// Copyright 2025 James Ross
package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flyingrobots/reportgen/internal/reduce"
)

// FakeJobStore is an in-memory JobStore for unit tests; no live Mongo
// dependency is required to exercise the job processor.
type FakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewFakeJobStore() *FakeJobStore {
	return &FakeJobStore{jobs: make(map[string]*Job)}
}

func key(tenantID, id string) string { return tenantID + "/" + id }

func (f *FakeJobStore) LoadJob(ctx context.Context, tenantID, id string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *job
	return &copy, nil
}

func (f *FakeJobStore) InsertJob(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID.IsZero() {
		job.ID = bson.NewObjectID()
	}
	copy := *job
	f.jobs[key(job.TenantID, job.ID.Hex())] = &copy
	return nil
}

func (f *FakeJobStore) TransitionRunning(ctx context.Context, tenantID, id string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.Progress = 10
	job.StartedAt = &now
	job.Error = nil
	copy := *job
	return &copy, nil
}

func (f *FakeJobStore) PersistUploading(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key(tenantID, id)]
	if !ok {
		return ErrNotFound
	}
	job.Status = StatusUploading
	job.Progress = 75
	return nil
}

func (f *FakeJobStore) PersistUploaded(ctx context.Context, tenantID, id string, rowCount int64, artifact ArtifactDescriptor, stats ProcessingStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key(tenantID, id)]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = StatusUploaded
	job.Progress = 100
	job.RowCount = rowCount
	job.Artifact = artifact
	statsCopy := stats
	job.ProcessingStats = &statsCopy
	job.FinishedAt = &now
	job.Error = nil
	return nil
}

func (f *FakeJobStore) PersistFailed(ctx context.Context, tenantID, id string, errRecord ErrorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key(tenantID, id)]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.FinishedAt = &now
	errCopy := errRecord
	job.Error = &errCopy
	return nil
}

// FakeScheduleStore is an in-memory ScheduleStore for unit tests.
type FakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[bson.ObjectID]*Schedule
}

func NewFakeScheduleStore() *FakeScheduleStore {
	return &FakeScheduleStore{schedules: make(map[bson.ObjectID]*Schedule)}
}

func (f *FakeScheduleStore) ClaimDueSchedule(ctx context.Context, now time.Time) (*Schedule, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []bson.ObjectID
	for id := range f.schedules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	for _, id := range ids {
		sched := f.schedules[id]
		if sched.Enabled && sched.NextRunAt != nil && !sched.NextRunAt.After(now) {
			copy := *sched
			return &copy, true, nil
		}
	}
	return nil, false, nil
}

func (f *FakeScheduleStore) AdvanceSchedule(ctx context.Context, id bson.ObjectID, prevNextRunAt, nextRunAt, lastRunAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sched, ok := f.schedules[id]
	if !ok || !sched.Enabled || sched.NextRunAt == nil || !sched.NextRunAt.Equal(prevNextRunAt) {
		return false, nil
	}
	sched.LastRunAt = &lastRunAt
	sched.NextRunAt = &nextRunAt
	sched.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *FakeScheduleStore) DisableSchedule(ctx context.Context, id bson.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sched, ok := f.schedules[id]; ok {
		sched.Enabled = false
	}
	return nil
}

func (f *FakeScheduleStore) InsertSchedule(ctx context.Context, schedule *Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if schedule.ID.IsZero() {
		schedule.ID = bson.NewObjectID()
	}
	copy := *schedule
	f.schedules[schedule.ID] = &copy
	return nil
}

func (f *FakeScheduleStore) GetSchedule(ctx context.Context, tenantID, id string) (*Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	sched, ok := f.schedules[oid]
	if !ok || sched.TenantID != tenantID {
		return nil, ErrNotFound
	}
	copy := *sched
	return &copy, nil
}

func (f *FakeScheduleStore) ListSchedules(ctx context.Context, tenantID string) ([]*Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Schedule
	for _, sched := range f.schedules {
		if sched.TenantID == tenantID {
			copy := *sched
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *FakeScheduleStore) UpdateSchedule(ctx context.Context, schedule *Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[schedule.ID]; !ok {
		return ErrNotFound
	}
	copy := *schedule
	copy.UpdatedAt = time.Now().UTC()
	f.schedules[schedule.ID] = &copy
	return nil
}

// FakeAPIKeyStore is an in-memory APIKeyStore for unit tests: a plain
// tenantID->apiKey map, no hashing, since tests supply their own fixed keys.
type FakeAPIKeyStore struct {
	Keys map[string]string // tenantID -> apiKey
}

func NewFakeAPIKeyStore() *FakeAPIKeyStore {
	return &FakeAPIKeyStore{Keys: make(map[string]string)}
}

func (f *FakeAPIKeyStore) Authenticate(ctx context.Context, tenantID, apiKey string) (bool, error) {
	want, ok := f.Keys[tenantID]
	return ok && want == apiKey, nil
}

// FakeDoc is one source-collection document for FakeSourceReader.
type FakeDoc struct {
	ID     bson.ObjectID
	Fields map[string]interface{}
}

// FakeSourceReader is an in-memory SourceReader driving the job processor
// and reduce engine in tests without a live Mongo deployment.
type FakeSourceReader struct {
	WritablePrimary bool
	Docs            []FakeDoc
}

func (f *FakeSourceReader) IsWritablePrimary(ctx context.Context) (bool, error) {
	return f.WritablePrimary, nil
}

func (f *FakeSourceReader) match(tenantID string, filters map[string]interface{}) []FakeDoc {
	var out []FakeDoc
	for _, d := range f.Docs {
		if d.Fields["tenantId"] != tenantID {
			continue
		}
		ok := true
		for k, v := range filters {
			if d.Fields[k] != v {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}

func (f *FakeSourceReader) IDBounds(ctx context.Context, tenantID, collection string, filters map[string]interface{}) (string, string, bool, error) {
	matched := f.match(tenantID, filters)
	if len(matched) == 0 {
		return "", "", false, nil
	}
	return matched[0].ID.Hex(), matched[len(matched)-1].ID.Hex(), true, nil
}

type fakeRowCursor struct {
	rows []bson.D
	pos  int
}

func (c *fakeRowCursor) Next(ctx context.Context) (bson.D, bool, error) {
	if c.pos >= len(c.rows) {
		return nil, false, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, true, nil
}

func (c *fakeRowCursor) Close(ctx context.Context) error { return nil }

func (f *FakeSourceReader) SortedCursor(ctx context.Context, tenantID, collection string, filters map[string]interface{}, maxIDHex string, batchSize int32) (RowCursor, error) {
	matched := f.match(tenantID, filters)
	var maxID bson.ObjectID
	hasMax := maxIDHex != ""
	if hasMax {
		var err error
		maxID, err = bson.ObjectIDFromHex(maxIDHex)
		if err != nil {
			return nil, err
		}
	}
	rows := make([]bson.D, 0, len(matched))
	for _, d := range matched {
		if hasMax && d.ID.Hex() > maxID.Hex() {
			continue
		}
		row := bson.D{{Key: "_id", Value: d.ID}}
		for k, v := range d.Fields {
			if k == "tenantId" {
				continue
			}
			row = append(row, bson.E{Key: k, Value: v})
		}
		rows = append(rows, row)
	}
	return &fakeRowCursor{rows: rows}, nil
}

type fakePartialIterator struct {
	rows []map[string]interface{}
	pos  int
}

func (p *fakePartialIterator) Next(ctx context.Context) (map[string]interface{}, bool, error) {
	if p.pos >= len(p.rows) {
		return nil, false, nil
	}
	row := p.rows[p.pos]
	p.pos++
	return row, true, nil
}

func (f *FakeSourceReader) Aggregate(ctx context.Context, tenantID, collection string, filters map[string]interface{}, spec reduce.Spec, r reduce.Range, batchSize int32) (reduce.PartialIterator, error) {
	matched := f.match(tenantID, filters)
	groups := make(map[string]map[string]interface{})
	var order []string

	inRange := func(id bson.ObjectID) bool {
		rid := reduce.IDFromObjectID(id)
		if rid.Cmp(r.Start) < 0 {
			return false
		}
		if r.End == nil {
			return true
		}
		return rid.Cmp(*r.End) < 0
	}

	for _, d := range matched {
		if !inRange(d.ID) {
			continue
		}
		keyStr := ""
		for _, field := range spec.GroupBy {
			keyStr += field + "=" + toString(d.Fields[field]) + ";"
		}
		partial, ok := groups[keyStr]
		if !ok {
			partial = make(map[string]interface{})
			for _, field := range spec.GroupBy {
				partial[field] = d.Fields[field]
			}
			groups[keyStr] = partial
			order = append(order, keyStr)
		}
		for _, m := range spec.Metrics {
			switch m.Op {
			case reduce.OpCount:
				partial[m.As] = asFloat(partial[m.As]) + 1
			case reduce.OpSum:
				partial[m.As] = asFloat(partial[m.As]) + asFloat(d.Fields[m.Field])
			case reduce.OpMin:
				if cur, ok := partial[m.As]; !ok || asFloat(d.Fields[m.Field]) < asFloat(cur) {
					partial[m.As] = d.Fields[m.Field]
				}
			case reduce.OpMax:
				if cur, ok := partial[m.As]; !ok || asFloat(d.Fields[m.Field]) > asFloat(cur) {
					partial[m.As] = d.Fields[m.Field]
				}
			case reduce.OpAvg:
				partial["__avg_sum__"+m.As] = asFloat(partial["__avg_sum__"+m.As]) + asFloat(d.Fields[m.Field])
				partial["__avg_count__"+m.As] = asInt(partial["__avg_count__"+m.As]) + 1
			}
		}
		partial["__input_count"] = asInt(partial["__input_count"]) + 1
	}

	rows := make([]map[string]interface{}, 0, len(order))
	for _, k := range order {
		rows = append(rows, groups[k])
	}
	return &fakePartialIterator{rows: rows}, nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}

func asInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
