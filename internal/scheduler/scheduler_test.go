// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/queue"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ticker = config.Ticker{PollInterval: time.Hour}
	cfg.Worker.RetentionDays = 30
	cfg.CircuitBreaker = config.CircuitBreaker{
		FailureThreshold: 0.5,
		Window:           time.Minute,
		CooldownPeriod:   30 * time.Second,
		MinSamples:       5,
	}
	return cfg
}

func setupTicker(t *testing.T) (*Ticker, *docstore.FakeScheduleStore, *docstore.FakeJobStore, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(rdb, queue.Options{
		Name:              "reportgen:jobs",
		ProcessingListFmt: "reportgen:worker:%s:processing",
		HeartbeatKeyFmt:   "reportgen:heartbeat:%s",
		HeartbeatTTL:      30 * time.Second,
		MaxAttempts:       5,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		BRPopLPushTimeout: 200 * time.Millisecond,
		RemoveOnComplete:  100,
		RemoveOnFail:      1000,
	})

	schedules := docstore.NewFakeScheduleStore()
	jobs := docstore.NewFakeJobStore()
	ticker := New(schedules, jobs, q, testConfig(), zap.NewNop())
	return ticker, schedules, jobs, rdb, mr.Close
}

func TestTickFiresDueSchedule(t *testing.T) {
	ctx := context.Background()
	ticker, schedules, _, rdb, cleanup := setupTicker(t)
	defer cleanup()

	past := time.Now().UTC().Add(-time.Minute)
	sched := &docstore.Schedule{
		TenantID:  "tenant-a",
		Name:      "daily",
		Cron:      "0 0 * * *",
		Timezone:  "UTC",
		Enabled:   true,
		Format:    "delimited",
		NextRunAt: &past,
		CreatedAt: time.Now().UTC(),
	}
	if err := schedules.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	ticker.Tick(ctx)

	llen, err := rdb.LLen(ctx, "reportgen:jobs").Result()
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if llen != 1 {
		t.Fatalf("expected one job enqueued, got %d", llen)
	}

	got, err := schedules.GetSchedule(ctx, "tenant-a", sched.ID.Hex())
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(past) {
		t.Fatalf("expected nextRunAt advanced past %v, got %v", past, got.NextRunAt)
	}
	if got.LastRunAt == nil {
		t.Fatalf("expected lastRunAt set")
	}
}

func TestTickSkipsNotYetDueSchedule(t *testing.T) {
	ctx := context.Background()
	ticker, schedules, _, rdb, cleanup := setupTicker(t)
	defer cleanup()

	future := time.Now().UTC().Add(time.Hour)
	sched := &docstore.Schedule{
		TenantID:  "tenant-a",
		Cron:      "0 0 * * *",
		Timezone:  "UTC",
		Enabled:   true,
		Format:    "delimited",
		NextRunAt: &future,
		CreatedAt: time.Now().UTC(),
	}
	if err := schedules.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	ticker.Tick(ctx)

	llen, err := rdb.LLen(ctx, "reportgen:jobs").Result()
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if llen != 0 {
		t.Fatalf("expected no job enqueued for a future schedule, got %d", llen)
	}
}

func TestTickDisablesScheduleOnInvalidCron(t *testing.T) {
	ctx := context.Background()
	ticker, schedules, _, _, cleanup := setupTicker(t)
	defer cleanup()

	past := time.Now().UTC().Add(-time.Minute)
	sched := &docstore.Schedule{
		TenantID:  "tenant-a",
		Cron:      "not a cron expression",
		Timezone:  "UTC",
		Enabled:   true,
		Format:    "delimited",
		NextRunAt: &past,
		CreatedAt: time.Now().UTC(),
	}
	if err := schedules.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	ticker.Tick(ctx)

	got, err := schedules.GetSchedule(ctx, "tenant-a", sched.ID.Hex())
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Enabled {
		t.Fatalf("expected schedule disabled after invalid cron parse failure")
	}
}

func TestTickClaimsMultipleDueSchedulesInOnePass(t *testing.T) {
	ctx := context.Background()
	ticker, schedules, _, rdb, cleanup := setupTicker(t)
	defer cleanup()

	past := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		sched := &docstore.Schedule{
			ID:        bson.NewObjectID(),
			TenantID:  "tenant-a",
			Cron:      "0 0 * * *",
			Timezone:  "UTC",
			Enabled:   true,
			Format:    "delimited",
			NextRunAt: &past,
			CreatedAt: time.Now().UTC(),
		}
		if err := schedules.InsertSchedule(ctx, sched); err != nil {
			t.Fatalf("InsertSchedule: %v", err)
		}
	}

	ticker.Tick(ctx)

	llen, err := rdb.LLen(ctx, "reportgen:jobs").Result()
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if llen != 3 {
		t.Fatalf("expected all three due schedules fired in one tick, got %d", llen)
	}
}
