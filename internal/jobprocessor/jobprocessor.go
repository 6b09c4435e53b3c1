// Copyright 2025 James Ross
package jobprocessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/breaker"
	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/obs"
	"github.com/flyingrobots/reportgen/internal/reporterr"
	"github.com/flyingrobots/reportgen/internal/snapshot"
	"github.com/flyingrobots/reportgen/internal/storage"
)

// Processor runs one report job end to end: load and validate, verify the
// read endpoint, resolve the source collection, plan and stream the output,
// upload it, and persist the terminal state. A Processor is safe to reuse
// across many jobs; callers (a queue consumer loop) run Process once per
// dequeued message, on as many goroutines as the worker's job concurrency
// allows.
type Processor struct {
	jobs    docstore.JobStore
	reader  docstore.SourceReader
	storage storage.Adapter
	cfg     *config.Config
	log     *zap.Logger
	cb      *breaker.CircuitBreaker
	now     func() time.Time
}

func New(jobs docstore.JobStore, reader docstore.SourceReader, adapter storage.Adapter, cfg *config.Config, log *zap.Logger) *Processor {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	return &Processor{jobs: jobs, reader: reader, storage: adapter, cfg: cfg, log: log, cb: cb, now: time.Now}
}

// Process runs the full pipeline for one (tenantID, jobID) message. A nil
// error means the job reached a terminal state or was correctly skipped (not
// found, already terminal); a non-nil error signals the caller should apply
// its retry/backoff policy (see reporterr.IsRetryable).
func (p *Processor) Process(ctx context.Context, tenantID, jobID string) error {
	ctx, span := obs.StartJobSpan(ctx, jobID, tenantID, "")
	defer span.End()

	job, err := p.jobs.LoadJob(ctx, tenantID, jobID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			p.log.Info("report job not found, dropping message",
				obs.String("jobId", jobID), obs.String("tenantId", tenantID))
			return nil
		}
		obs.RecordError(ctx, err)
		return err
	}
	if job.Terminal() {
		p.log.Info("report job already terminal, skipping redelivered message",
			obs.String("jobId", jobID), obs.String("tenantId", tenantID), obs.String("status", string(job.Status)))
		return nil
	}

	job, err = p.jobs.TransitionRunning(ctx, tenantID, jobID)
	if err != nil {
		obs.RecordError(ctx, err)
		return err
	}

	snapshotPath, procErr := p.run(ctx, job)
	if snapshotPath != "" {
		if rmErr := snapshot.Remove(snapshotPath); rmErr != nil {
			p.log.Warn("failed to remove snapshot file", obs.String("path", snapshotPath), obs.Err(rmErr))
		}
	}

	if procErr != nil {
		obs.RecordError(ctx, procErr)
		rec := docstore.ErrorRecord{Message: procErr.Error(), Kind: reporterr.ErrorCode(procErr)}
		if failErr := p.jobs.PersistFailed(ctx, tenantID, jobID, rec); failErr != nil {
			p.log.Error("failed to persist failed job state", obs.Err(failErr))
		}
		return procErr
	}

	obs.SetSpanSuccess(ctx)
	return nil
}

// run carries out steps 2-8 for an already-running job: read-endpoint
// verification, source collection resolution, plan/stream construction,
// upload, and terminal persistence. It returns the snapshot file path (if
// one was created) so the caller can guarantee its cleanup regardless of
// outcome.
func (p *Processor) run(ctx context.Context, job *docstore.Job) (snapshotPath string, err error) {
	if err := p.verifyReadEndpoint(ctx); err != nil {
		return "", err
	}

	collection, err := p.resolveSourceCollection(job)
	if err != nil {
		return "", err
	}

	plan, err := p.buildPlan(ctx, job, collection)
	if err != nil {
		return "", err
	}
	snapshotPath = plan.SnapshotPath

	if err := p.jobs.PersistUploading(ctx, job.TenantID, job.ID.Hex()); err != nil {
		return snapshotPath, err
	}

	artifact, err := p.upload(ctx, job, plan)
	if err != nil {
		return snapshotPath, err
	}

	stats := p.computeStats(job.StartedAt, plan)

	var rowsOut int64
	if plan.RowsOut != nil {
		rowsOut = *plan.RowsOut
	}

	if err := p.jobs.PersistUploaded(ctx, job.TenantID, job.ID.Hex(), rowsOut, artifact, stats); err != nil {
		return snapshotPath, err
	}
	return snapshotPath, nil
}

func (p *Processor) verifyReadEndpoint(ctx context.Context) error {
	var writable bool
	if err := p.cb.Guard(func() error {
		var innerErr error
		writable, innerErr = p.reader.IsWritablePrimary(ctx)
		return innerErr
	}); err != nil {
		return err
	}
	if writable {
		return reporterr.New(reporterr.KindReadEndpointIsPrimary, "read endpoint resolved to a writable primary")
	}
	return nil
}

func (p *Processor) resolveSourceCollection(job *docstore.Job) (string, error) {
	name := strings.TrimSpace(job.SourceCollection)
	if name == "" {
		name = p.cfg.SourceCollection
	}
	if !config.IdentifierSafe(name) || !allowlisted(name, p.cfg.SourceAllowlist) {
		return "", reporterr.New(reporterr.KindSourceCollectionNotAllowed, "source collection %q is not allowed", name)
	}
	return name, nil
}

func allowlisted(name string, allowlist []string) bool {
	for _, a := range allowlist {
		if a == name {
			return true
		}
	}
	return false
}

// upload streams plan.Body through a tee that computes the final size and
// SHA-256 checksum as a side effect of the copy, since neither is known
// until the body is fully drained.
func (p *Processor) upload(ctx context.Context, job *docstore.Job, plan *planOutcome) (docstore.ArtifactDescriptor, error) {
	defer plan.Body.Close()

	key := fmt.Sprintf("%s/%s/report.%s", job.TenantID, job.ID.Hex(), plan.Extension)
	tee := newCountingHashReader(plan.Body)

	if !p.cfg.Storage.EnableExternal {
		if _, err := io.Copy(io.Discard, tee); err != nil {
			return docstore.ArtifactDescriptor{}, reporterr.Wrap(reporterr.KindIntegrationOptionalFailure, err, "draining report body with external storage disabled")
		}
		return docstore.ArtifactDescriptor{
			Mode:      "noop",
			Available: false,
			Reason:    docstore.ReasonExternalStorageDisabled,
			SizeBytes: tee.size(),
			Checksum:  tee.checksum(),
			Entries:   plan.Entries,
		}, nil
	}

	mode := p.storage.Mode()
	if err := p.storage.Upload(ctx, key, tee, -1, plan.ContentType); err != nil {
		if p.cfg.Storage.Policy == "optional" {
			p.log.Warn("optional storage upload failed, job still completes without an artifact",
				obs.String("key", key), obs.Err(err))
			return docstore.ArtifactDescriptor{
				Mode:      mode,
				Available: false,
				Reason:    docstore.ReasonOptionalIntegrationFail,
				Entries:   plan.Entries,
			}, nil
		}
		return docstore.ArtifactDescriptor{}, reporterr.Wrap(reporterr.KindIntegrationRequiredFailure, err, "uploading report artifact to %q", key)
	}

	return docstore.ArtifactDescriptor{
		Mode:      mode,
		Available: true,
		Key:       key,
		Bucket:    p.cfg.Storage.Bucket,
		SizeBytes: tee.size(),
		Checksum:  tee.checksum(),
		Entries:   plan.Entries,
	}, nil
}

func (p *Processor) computeStats(startedAt *time.Time, plan *planOutcome) docstore.ProcessingStats {
	var durationMs int64 = 1
	if startedAt != nil {
		if d := p.now().Sub(*startedAt).Milliseconds(); d > durationMs {
			durationMs = d
		}
	}

	var rowsOut int64
	if plan.RowsOut != nil {
		rowsOut = *plan.RowsOut
	}
	throughput := math.Round(float64(rowsOut)/(float64(durationMs)/1000.0)*100) / 100

	var peak uint64
	if plan.PeakBytes != nil {
		peak = *plan.PeakBytes
	}

	return docstore.ProcessingStats{
		DurationMs:              durationMs,
		ThroughputRowsPerSecond: throughput,
		MemoryPeakBytes:         peak,
		ZipStrategy:             plan.ZipStrategy,
	}
}
