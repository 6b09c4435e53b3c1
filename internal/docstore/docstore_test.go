// Copyright 2025 James Ross
package docstore

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flyingrobots/reportgen/internal/reduce"
)

func TestFakeJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewFakeJobStore()

	job := &Job{TenantID: "tenant-a", Status: StatusQueued, Format: "csv", CreatedAt: time.Now().UTC()}
	if err := store.InsertJob(ctx, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	id := job.ID.Hex()

	if _, err := store.LoadJob(ctx, "tenant-b", id); err != ErrNotFound {
		t.Fatalf("LoadJob wrong tenant: want ErrNotFound, got %v", err)
	}

	running, err := store.TransitionRunning(ctx, "tenant-a", id)
	if err != nil {
		t.Fatalf("TransitionRunning: %v", err)
	}
	if running.Status != StatusRunning || running.Progress != 10 || running.StartedAt == nil {
		t.Fatalf("unexpected running job: %+v", running)
	}

	if err := store.PersistUploading(ctx, "tenant-a", id); err != nil {
		t.Fatalf("PersistUploading: %v", err)
	}
	loaded, err := store.LoadJob(ctx, "tenant-a", id)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if loaded.Status != StatusUploading || loaded.Progress != 75 {
		t.Fatalf("unexpected uploading job: %+v", loaded)
	}

	artifact := ArtifactDescriptor{Mode: "object-store-cloud", Available: true, Key: "tenant-a/" + id + "/report.csv"}
	stats := ProcessingStats{DurationMs: 120, ThroughputRowsPerSecond: 83.3, MemoryPeakBytes: 1024}
	if err := store.PersistUploaded(ctx, "tenant-a", id, 10, artifact, stats); err != nil {
		t.Fatalf("PersistUploaded: %v", err)
	}
	final, err := store.LoadJob(ctx, "tenant-a", id)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if !final.Terminal() || final.Status != StatusUploaded || final.Progress != 100 || final.RowCount != 10 {
		t.Fatalf("unexpected terminal job: %+v", final)
	}
	if final.Artifact.Key != artifact.Key {
		t.Fatalf("artifact not persisted: %+v", final.Artifact)
	}
}

func TestFakeJobStorePersistFailed(t *testing.T) {
	ctx := context.Background()
	store := NewFakeJobStore()
	job := &Job{TenantID: "tenant-a", Status: StatusRunning, CreatedAt: time.Now().UTC()}
	_ = store.InsertJob(ctx, job)

	if err := store.PersistFailed(ctx, "tenant-a", job.ID.Hex(), ErrorRecord{Message: "boom", Kind: "ReadEndpointIsPrimary"}); err != nil {
		t.Fatalf("PersistFailed: %v", err)
	}
	loaded, err := store.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if !loaded.Terminal() || loaded.Status != StatusFailed || loaded.Error == nil || loaded.Error.Message != "boom" {
		t.Fatalf("unexpected failed job: %+v", loaded)
	}
}

func TestFakeJobStoreNotFoundOnUnknownID(t *testing.T) {
	ctx := context.Background()
	store := NewFakeJobStore()
	if _, err := store.TransitionRunning(ctx, "tenant-a", bson.NewObjectID().Hex()); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFakeScheduleStoreClaimAndAdvance(t *testing.T) {
	ctx := context.Background()
	store := NewFakeScheduleStore()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	sched := &Schedule{TenantID: "tenant-a", Name: "daily", Cron: "0 0 * * *", Enabled: true, NextRunAt: &past, CreatedAt: now}
	if err := store.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	claimed, ok, err := store.ClaimDueSchedule(ctx, now)
	if err != nil || !ok {
		t.Fatalf("ClaimDueSchedule: ok=%v err=%v", ok, err)
	}
	if claimed.ID != sched.ID {
		t.Fatalf("claimed wrong schedule: %+v", claimed)
	}

	next := now.Add(24 * time.Hour)
	advanced, err := store.AdvanceSchedule(ctx, sched.ID, past, next, now)
	if err != nil || !advanced {
		t.Fatalf("AdvanceSchedule: advanced=%v err=%v", advanced, err)
	}

	// Racing second advance with the same stale prevNextRunAt must lose.
	lost, err := store.AdvanceSchedule(ctx, sched.ID, past, next.Add(time.Hour), now)
	if err != nil || lost {
		t.Fatalf("second AdvanceSchedule should lose the race: lost=%v err=%v", lost, err)
	}

	_, ok, err = store.ClaimDueSchedule(ctx, now)
	if err != nil || ok {
		t.Fatalf("schedule should no longer be due: ok=%v err=%v", ok, err)
	}
}

func TestFakeScheduleStoreDisableStopsClaiming(t *testing.T) {
	ctx := context.Background()
	store := NewFakeScheduleStore()
	past := time.Now().UTC().Add(-time.Minute)
	sched := &Schedule{TenantID: "tenant-a", Enabled: true, NextRunAt: &past}
	_ = store.InsertSchedule(ctx, sched)

	if err := store.DisableSchedule(ctx, sched.ID); err != nil {
		t.Fatalf("DisableSchedule: %v", err)
	}
	_, ok, err := store.ClaimDueSchedule(ctx, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("disabled schedule must not be claimed: ok=%v err=%v", ok, err)
	}
}

func TestFakeSourceReaderIDBoundsAndSortedCursor(t *testing.T) {
	ctx := context.Background()
	ids := make([]bson.ObjectID, 3)
	for i := range ids {
		ids[i] = bson.NewObjectID()
		time.Sleep(time.Millisecond)
	}
	reader := &FakeSourceReader{
		WritablePrimary: false,
		Docs: []FakeDoc{
			{ID: ids[0], Fields: map[string]interface{}{"tenantId": "tenant-a", "status": "paid", "amount": 10.0}},
			{ID: ids[1], Fields: map[string]interface{}{"tenantId": "tenant-a", "status": "pending", "amount": 5.0}},
			{ID: ids[2], Fields: map[string]interface{}{"tenantId": "tenant-a", "status": "paid", "amount": 20.0}},
		},
	}

	writable, err := reader.IsWritablePrimary(ctx)
	if err != nil || writable {
		t.Fatalf("expected non-primary read endpoint: writable=%v err=%v", writable, err)
	}

	minHex, maxHex, ok, err := reader.IDBounds(ctx, "tenant-a", "orders", nil)
	if err != nil || !ok {
		t.Fatalf("IDBounds: ok=%v err=%v", ok, err)
	}
	if minHex != ids[0].Hex() || maxHex != ids[2].Hex() {
		t.Fatalf("IDBounds wrong: min=%s max=%s", minHex, maxHex)
	}

	cur, err := reader.SortedCursor(ctx, "tenant-a", "orders", map[string]interface{}{"status": "paid"}, "", 0)
	if err != nil {
		t.Fatalf("SortedCursor: %v", err)
	}
	var count int
	for {
		row, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("cursor.Next: %v", err)
		}
		if !ok {
			break
		}
		count++
		_ = row
	}
	if count != 2 {
		t.Fatalf("expected 2 paid rows, got %d", count)
	}
}

func TestReduceRangeSourceAdapterTranslatesHexToID(t *testing.T) {
	ctx := context.Background()
	idA := bson.NewObjectID()
	time.Sleep(time.Millisecond)
	idB := bson.NewObjectID()

	reader := &FakeSourceReader{
		Docs: []FakeDoc{
			{ID: idA, Fields: map[string]interface{}{"tenantId": "tenant-a", "status": "paid", "amount": 10.0}},
			{ID: idB, Fields: map[string]interface{}{"tenantId": "tenant-a", "status": "paid", "amount": 20.0}},
		},
	}
	adapter := &ReduceRangeSource{Reader: reader, Collection: "orders", BatchSize: 500}

	min, max, ok, err := adapter.IDBounds(ctx, "tenant-a", nil)
	if err != nil || !ok {
		t.Fatalf("IDBounds: ok=%v err=%v", ok, err)
	}
	wantMin := reduce.IDFromObjectID(idA)
	wantMax := reduce.IDFromObjectID(idB)
	if min.Cmp(wantMin) != 0 || max.Cmp(wantMax) != 0 {
		t.Fatalf("IDBounds mismatch: min=%s max=%s", min, max)
	}

	spec := reduce.Spec{
		GroupBy: []string{"status"},
		Metrics: []reduce.Metric{{Op: reduce.OpCount, As: "totalOrders"}, {Op: reduce.OpSum, Field: "amount", As: "sumAmount"}},
	}
	it, err := adapter.Aggregate(ctx, "tenant-a", nil, spec, reduce.Range{Start: min, End: nil})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	partial, ok, err := it.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("it.Next: ok=%v err=%v", ok, err)
	}
	if partial["status"] != "paid" || partial["totalOrders"] != 2.0 || partial["sumAmount"] != 30.0 {
		t.Fatalf("unexpected partial: %+v", partial)
	}
}
