// Copyright 2025 James Ross
package jobprocessor

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/reduce"
	"github.com/flyingrobots/reportgen/internal/reporterr"
)

type fakeAdapter struct {
	mode     string
	failWith error
	uploaded map[string][]byte
}

func newFakeAdapter(mode string) *fakeAdapter {
	return &fakeAdapter{mode: mode, uploaded: make(map[string][]byte)}
}

func (a *fakeAdapter) Mode() string { return a.mode }

func (a *fakeAdapter) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if a.failWith != nil {
		io.Copy(io.Discard, body)
		return a.failWith
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	a.uploaded[key] = b
	return nil
}

func (a *fakeAdapter) SignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "fake://" + key, nil
}

func testConfig(snapshotDir string) *config.Config {
	cfg := &config.Config{}
	cfg.SourceCollection = "reportSource"
	cfg.SourceAllowlist = []string{"reportSource"}
	cfg.Worker.BufferBytes = 4096
	cfg.Worker.CursorBatchSize = 100
	cfg.Worker.SnapshotDir = snapshotDir
	cfg.Reduce.DefaultChunks = 2
	cfg.Reduce.PartitionCapMax = 4
	cfg.Reduce.PartitionMaxConcurrency = 2
	cfg.Reduce.MaxGroups = 1000
	cfg.Reduce.StreamingAccumulator = true
	cfg.Storage.EnableExternal = true
	cfg.Storage.Policy = "required"
	cfg.CircuitBreaker.FailureThreshold = 0.5
	cfg.CircuitBreaker.Window = time.Minute
	cfg.CircuitBreaker.CooldownPeriod = 30 * time.Second
	cfg.CircuitBreaker.MinSamples = 5
	return cfg
}

func insertJob(t *testing.T, store *docstore.FakeJobStore, job *docstore.Job) *docstore.Job {
	t.Helper()
	if err := store.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	return job
}

func makeDocs(tenantID string, n int) []docstore.FakeDoc {
	docs := make([]docstore.FakeDoc, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, docstore.FakeDoc{
			ID: bson.NewObjectID(),
			Fields: map[string]interface{}{
				"tenantId": tenantID,
				"status":   "paid",
				"amount":   float64(10 * (i + 1)),
			},
		})
	}
	return docs
}

func TestProcessRawDelimitedHappyPath(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 3)}
	adapter := newFakeAdapter("filesystem")
	cfg := testConfig(t.TempDir())

	job := insertJob(t, jobs, &docstore.Job{
		TenantID: "tenant-a",
		Status:   docstore.StatusQueued,
		Format:   "delimited",
		ExpireAt: time.Now().Add(24 * time.Hour),
	})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	loaded, err := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if loaded.Status != docstore.StatusUploaded {
		t.Fatalf("expected uploaded, got %s (err=%v)", loaded.Status, loaded.Error)
	}
	if loaded.RowCount != 3 {
		t.Fatalf("expected rowCount=3, got %d", loaded.RowCount)
	}
	if !loaded.Artifact.Available {
		t.Fatalf("expected artifact available")
	}
	wantKey := "tenant-a/" + job.ID.Hex() + "/report.csv"
	if loaded.Artifact.Key != wantKey {
		t.Fatalf("expected key %q, got %q", wantKey, loaded.Artifact.Key)
	}
	body, ok := adapter.uploaded[wantKey]
	if !ok || len(body) == 0 {
		t.Fatalf("expected uploaded body at %q", wantKey)
	}
	if loaded.ProcessingStats == nil {
		t.Fatalf("expected processing stats to be recorded")
	}
}

func TestProcessNotFoundDropsSilently(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{}
	adapter := newFakeAdapter("noop")
	cfg := testConfig(t.TempDir())
	p := New(jobs, reader, adapter, cfg, zap.NewNop())

	if err := p.Process(ctx, "tenant-a", bson.NewObjectID().Hex()); err != nil {
		t.Fatalf("expected nil error for missing job, got %v", err)
	}
}

func TestProcessAlreadyTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{}
	adapter := newFakeAdapter("noop")
	cfg := testConfig(t.TempDir())

	job := insertJob(t, jobs, &docstore.Job{TenantID: "tenant-a", Status: docstore.StatusUploaded, Format: "delimited"})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Progress != 0 {
		t.Fatalf("terminal job should not be touched, got progress=%d", loaded.Progress)
	}
}

func TestProcessReadEndpointIsPrimaryFails(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{WritablePrimary: true}
	adapter := newFakeAdapter("noop")
	cfg := testConfig(t.TempDir())

	job := insertJob(t, jobs, &docstore.Job{TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "delimited"})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	err := p.Process(ctx, "tenant-a", job.ID.Hex())
	if err == nil || !reporterr.IsKind(err, reporterr.KindReadEndpointIsPrimary) {
		t.Fatalf("expected ReadEndpointIsPrimary error, got %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Status != docstore.StatusFailed {
		t.Fatalf("expected failed status, got %s", loaded.Status)
	}
}

func TestProcessSourceCollectionNotAllowedFails(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{}
	adapter := newFakeAdapter("noop")
	cfg := testConfig(t.TempDir())

	job := insertJob(t, jobs, &docstore.Job{
		TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "delimited",
		SourceCollection: "not-allowed",
	})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	err := p.Process(ctx, "tenant-a", job.ID.Hex())
	if err == nil || !reporterr.IsKind(err, reporterr.KindSourceCollectionNotAllowed) {
		t.Fatalf("expected SourceCollectionNotAllowed, got %v", err)
	}
}

func TestProcessReduceMode(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 4)}
	adapter := newFakeAdapter("filesystem")
	cfg := testConfig(t.TempDir())

	job := insertJob(t, jobs, &docstore.Job{
		TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "structured-object",
		ReduceSpec: &reduce.Spec{
			GroupBy: []string{"status"},
			Metrics: []reduce.Metric{
				{Op: reduce.OpCount, As: "count"},
				{Op: reduce.OpSum, Field: "amount", As: "total"},
			},
		},
	})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Status != docstore.StatusUploaded {
		t.Fatalf("expected uploaded, got %s (err=%v)", loaded.Status, loaded.Error)
	}
	if loaded.RowCount != 1 {
		t.Fatalf("expected rowCount=1 (single paid group), got %d", loaded.RowCount)
	}
}

func TestProcessArchiveSnapshotMode(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 2)}
	adapter := newFakeAdapter("filesystem")
	cfg := testConfig(t.TempDir())
	cfg.Worker.ZipMultipass = false

	job := insertJob(t, jobs, &docstore.Job{
		TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "archive",
		IncludeFormats: []string{"delimited", "structured-object"},
	})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Status != docstore.StatusUploaded {
		t.Fatalf("expected uploaded, got %s (err=%v)", loaded.Status, loaded.Error)
	}
	if loaded.ProcessingStats == nil || loaded.ProcessingStats.ZipStrategy != "snapshot" {
		t.Fatalf("expected zipStrategy=snapshot, got %+v", loaded.ProcessingStats)
	}
	if len(loaded.Artifact.Entries) != 2 {
		t.Fatalf("expected 2 archive entries, got %v", loaded.Artifact.Entries)
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.Worker.SnapshotDir, "snapshot-*"))
	if len(matches) != 0 {
		t.Fatalf("expected snapshot file cleaned up, found %v", matches)
	}
}

func TestProcessArchiveMultipassMode(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 2)}
	adapter := newFakeAdapter("filesystem")
	cfg := testConfig(t.TempDir())
	cfg.Worker.ZipMultipass = true

	job := insertJob(t, jobs, &docstore.Job{
		TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "archive",
		IncludeFormats: []string{"delimited", "structured-object"},
	})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Status != docstore.StatusUploaded {
		t.Fatalf("expected uploaded, got %s (err=%v)", loaded.Status, loaded.Error)
	}
	if loaded.ProcessingStats == nil || loaded.ProcessingStats.ZipStrategy != "multipass" {
		t.Fatalf("expected zipStrategy=multipass, got %+v", loaded.ProcessingStats)
	}
	if loaded.RowCount != 2 {
		t.Fatalf("expected rowCount=2 (counted once, from the first pass only), got %d", loaded.RowCount)
	}
}

func TestProcessOptionalStorageFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 2)}
	adapter := newFakeAdapter("filesystem")
	adapter.failWith = errors.New("boom")
	cfg := testConfig(t.TempDir())
	cfg.Storage.Policy = "optional"

	job := insertJob(t, jobs, &docstore.Job{TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "delimited"})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Status != docstore.StatusUploaded {
		t.Fatalf("expected uploaded despite optional storage failure, got %s", loaded.Status)
	}
	if loaded.Artifact.Available {
		t.Fatalf("expected artifact unavailable")
	}
	if loaded.Artifact.Reason != docstore.ReasonOptionalIntegrationFail {
		t.Fatalf("expected reason %s, got %s", docstore.ReasonOptionalIntegrationFail, loaded.Artifact.Reason)
	}
}

func TestProcessRequiredStorageFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 2)}
	adapter := newFakeAdapter("filesystem")
	adapter.failWith = errors.New("boom")
	cfg := testConfig(t.TempDir())
	cfg.Storage.Policy = "required"

	job := insertJob(t, jobs, &docstore.Job{TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "delimited"})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	err := p.Process(ctx, "tenant-a", job.ID.Hex())
	if err == nil || !reporterr.IsKind(err, reporterr.KindIntegrationRequiredFailure) {
		t.Fatalf("expected IntegrationRequiredFailure, got %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Status != docstore.StatusFailed {
		t.Fatalf("expected failed, got %s", loaded.Status)
	}
}

func TestProcessExternalStorageDisabledProducesNoopArtifact(t *testing.T) {
	ctx := context.Background()
	jobs := docstore.NewFakeJobStore()
	reader := &docstore.FakeSourceReader{Docs: makeDocs("tenant-a", 2)}
	adapter := newFakeAdapter("noop")
	cfg := testConfig(t.TempDir())
	cfg.Storage.EnableExternal = false

	job := insertJob(t, jobs, &docstore.Job{TenantID: "tenant-a", Status: docstore.StatusQueued, Format: "delimited"})

	p := New(jobs, reader, adapter, cfg, zap.NewNop())
	if err := p.Process(ctx, "tenant-a", job.ID.Hex()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loaded, _ := jobs.LoadJob(ctx, "tenant-a", job.ID.Hex())
	if loaded.Artifact.Available {
		t.Fatalf("expected artifact unavailable with external storage disabled")
	}
	if loaded.Artifact.Reason != docstore.ReasonExternalStorageDisabled {
		t.Fatalf("expected reason %s, got %s", docstore.ReasonExternalStorageDisabled, loaded.Artifact.Reason)
	}
	if loaded.Artifact.SizeBytes == 0 {
		t.Fatalf("expected size bytes still computed even though storage is disabled")
	}
}
