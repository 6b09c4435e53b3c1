// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/breaker"
	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/obs"
	"github.com/flyingrobots/reportgen/internal/queue"
)

// Ticker runs the schedule ticker: at a fixed cadence it claims every due
// schedule, enqueues a report job for it, and advances its next fire time.
// A single Ticker is meant to run as one long-lived goroutine per process.
type Ticker struct {
	schedules docstore.ScheduleStore
	jobs      docstore.JobStore
	q         *queue.Queue
	cfg       *config.Config
	log       *zap.Logger
	cb        *breaker.CircuitBreaker
	parser    cron.Parser
	now       func() time.Time
	ticking   atomic.Bool
}

func New(schedules docstore.ScheduleStore, jobs docstore.JobStore, q *queue.Queue, cfg *config.Config, log *zap.Logger) *Ticker {
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Ticker{schedules: schedules, jobs: jobs, q: q, cfg: cfg, log: log, cb: cb, parser: parser, now: time.Now}
}

// Run ticks once immediately, then again every cfg.Ticker.PollInterval,
// until ctx is cancelled. A tick still in flight when the next one would
// fire is skipped rather than overlapped.
func (t *Ticker) Run(ctx context.Context) {
	t.tick(ctx)

	interval := t.cfg.Ticker.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// Tick runs one pass synchronously; exported so tests and a manual trigger
// endpoint can drive it deterministically.
func (t *Ticker) Tick(ctx context.Context) {
	t.tick(ctx)
}

func (t *Ticker) tick(ctx context.Context) {
	if !t.ticking.CompareAndSwap(false, true) {
		t.log.Debug("schedule tick already running, skipping")
		return
	}
	defer t.ticking.Store(false)

	for {
		more, err := t.claimAndFireOne(ctx)
		if err != nil {
			t.log.Error("schedule tick failed", obs.Err(err))
			return
		}
		if !more {
			return
		}
	}
}

// claimAndFireOne claims at most one due schedule and fires it. It returns
// (true, nil) when a schedule was claimed (regardless of whether this
// instance won the race to advance it), so the caller keeps looping until
// ClaimDueSchedule finds nothing left due.
func (t *Ticker) claimAndFireOne(ctx context.Context) (bool, error) {
	var sched *docstore.Schedule
	var ok bool
	now := t.now().UTC()

	if err := t.cb.Guard(func() error {
		var innerErr error
		sched, ok, innerErr = t.schedules.ClaimDueSchedule(ctx, now)
		return innerErr
	}); err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	next, err := t.computeNextRun(sched, now)
	if err != nil {
		t.log.Warn("schedule has invalid cron expression, disabling",
			obs.String("scheduleId", sched.ID.Hex()), obs.String("cron", sched.Cron), obs.Err(err))
		if disableErr := t.schedules.DisableSchedule(ctx, sched.ID); disableErr != nil {
			return false, disableErr
		}
		return true, nil
	}

	prevNextRunAt := now
	if sched.NextRunAt != nil {
		prevNextRunAt = *sched.NextRunAt
	}

	var advanced bool
	if err := t.cb.Guard(func() error {
		var innerErr error
		advanced, innerErr = t.schedules.AdvanceSchedule(ctx, sched.ID, prevNextRunAt, next, now)
		return innerErr
	}); err != nil {
		return false, err
	}
	if !advanced {
		// Another ticker instance won the race; nothing left for us to do.
		return true, nil
	}

	if err := t.fireJob(ctx, sched, now); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Ticker) computeNextRun(sched *docstore.Schedule, now time.Time) (time.Time, error) {
	loc := time.UTC
	if sched.Timezone != "" {
		l, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}

	schedule, err := t.parser.Parse(sched.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.In(loc)).UTC(), nil
}

func (t *Ticker) fireJob(ctx context.Context, sched *docstore.Schedule, now time.Time) error {
	job := &docstore.Job{
		ID:               bson.NewObjectID(),
		TenantID:         sched.TenantID,
		Status:           docstore.StatusQueued,
		Format:           sched.Format,
		Filters:          sched.Filters,
		Timezone:         sched.Timezone,
		Compression:      sched.Compression,
		IncludeFormats:   sched.IncludeFormats,
		ReduceSpec:       sched.ReduceSpec,
		PartitionSpec:    sched.PartitionSpec,
		SourceCollection: sched.SourceCollection,
		CreatedAt:        now,
		ExpireAt:         now.AddDate(0, 0, t.cfg.Worker.RetentionDays),
	}

	if err := t.jobs.InsertJob(ctx, job); err != nil {
		return err
	}

	jobID := job.ID.Hex()
	msg := queue.Message{ReportJobID: jobID, TenantID: sched.TenantID}
	if err := t.q.Enqueue(ctx, msg); err != nil {
		return err
	}

	obs.SchedulesTicked.Inc()
	t.log.Info("fired scheduled report job",
		obs.String("scheduleId", sched.ID.Hex()), obs.String("jobId", jobID), obs.String("tenantId", sched.TenantID))
	return nil
}
