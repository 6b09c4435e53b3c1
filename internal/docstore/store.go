// Copyright 2025 James Ross
package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flyingrobots/reportgen/internal/reduce"
)

// ErrNotFound is returned by JobStore/ScheduleStore lookups that find
// nothing, and maps to reporterr.KindNotFound at the call site.
var ErrNotFound = errors.New("docstore: not found")

// JobStore is the narrow interface the job processor depends on. It is
// satisfied by the Mongo-backed implementation and by a hand-written fake in
// tests — no live Mongo dependency is required to exercise C4.
type JobStore interface {
	LoadJob(ctx context.Context, tenantID, id string) (*Job, error)
	InsertJob(ctx context.Context, job *Job) error
	TransitionRunning(ctx context.Context, tenantID, id string) (*Job, error)
	PersistUploading(ctx context.Context, tenantID, id string) error
	PersistUploaded(ctx context.Context, tenantID, id string, rowCount int64, artifact ArtifactDescriptor, stats ProcessingStats) error
	PersistFailed(ctx context.Context, tenantID, id string, errRecord ErrorRecord) error
}

// ScheduleStore is the narrow interface the ticker and intake depend on.
type ScheduleStore interface {
	ClaimDueSchedule(ctx context.Context, now time.Time) (*Schedule, bool, error)
	AdvanceSchedule(ctx context.Context, id bson.ObjectID, prevNextRunAt, nextRunAt, lastRunAt time.Time) (bool, error)
	DisableSchedule(ctx context.Context, id bson.ObjectID) error
	InsertSchedule(ctx context.Context, schedule *Schedule) error
	GetSchedule(ctx context.Context, tenantID, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, tenantID string) ([]*Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *Schedule) error
}

// APIKeyStore authenticates an intake request's X-API-Key header against
// the tenant it claims via X-Tenant-Id, per the unique (tenantId, keyHash)
// index spec.md §6 assumes exists.
type APIKeyStore interface {
	Authenticate(ctx context.Context, tenantID, apiKey string) (bool, error)
}

// RowCursor yields normalized-or-not rows one at a time from the source
// collection; Next's shape matches reportformat.RowIterator exactly so a
// cursor can be handed directly to a format generator.
type RowCursor interface {
	Next(ctx context.Context) (bson.D, bool, error)
	Close(ctx context.Context) error
}

// SourceReader is the read-endpoint collaborator: identity verification,
// identifier bounds, sorted raw cursors, and the reduce engine's per-range
// aggregation pipeline.
type SourceReader interface {
	IsWritablePrimary(ctx context.Context) (bool, error)
	IDBounds(ctx context.Context, tenantID, collection string, filters map[string]interface{}) (minHex, maxHex string, ok bool, err error)
	SortedCursor(ctx context.Context, tenantID, collection string, filters map[string]interface{}, maxIDHex string, batchSize int32) (RowCursor, error)
	Aggregate(ctx context.Context, tenantID, collection string, filters map[string]interface{}, spec reduce.Spec, r reduce.Range, batchSize int32) (reduce.PartialIterator, error)
}
