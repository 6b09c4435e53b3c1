// Copyright 2025 James Ross
package leaserecovery

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/obs"
	"github.com/flyingrobots/reportgen/internal/queue"
)

// Recoverer periodically scans for processing lists whose owning consumer's
// heartbeat key has expired and requeues their abandoned messages. A dead
// consumer leaves its lease behind with no ack/nack ever recorded, so these
// jobs would otherwise sit stuck in "running" forever.
type Recoverer struct {
	cfg   *config.Config
	rdb   *redis.Client
	queue *queue.Queue
	log   *zap.Logger
}

func New(cfg *config.Config, rdb *redis.Client, q *queue.Queue, log *zap.Logger) *Recoverer {
	return &Recoverer{cfg: cfg, rdb: rdb, queue: q, log: log}
}

// Run blocks, scanning on cfg.Queue.LeaseRecoveryInterval until ctx is
// cancelled.
func (r *Recoverer) Run(ctx context.Context) {
	interval := r.cfg.Queue.LeaseRecoveryInterval
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
			r.scanOnce(ctx)
		}
	}
}

// ScanOnce exports scanOnce for tests that want to drive a single pass
// deterministically instead of waiting on the ticker.
func (r *Recoverer) ScanOnce(ctx context.Context) {
	r.scanOnce(ctx)
}

func (r *Recoverer) scanOnce(ctx context.Context) {
	pattern := processingListGlob(r.cfg.Queue.ProcessingListFmt)

	var cursor uint64
	for {
		keys, cur, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			r.log.Warn("lease recovery scan error", obs.Err(err))
			return
		}
		cursor = cur
		for _, procKey := range keys {
			r.reapIfAbandoned(ctx, procKey)
		}
		if cursor == 0 {
			break
		}
	}
}

func (r *Recoverer) reapIfAbandoned(ctx context.Context, procKey string) {
	consumerID := consumerIDFromProcessingKey(r.cfg.Queue.ProcessingListFmt, procKey)
	if consumerID == "" {
		return
	}

	hbKey := formatHeartbeatKey(r.cfg.Queue.HeartbeatKeyFmt, consumerID)
	exists, err := r.rdb.Exists(ctx, hbKey).Result()
	if err != nil {
		r.log.Warn("lease recovery heartbeat check failed", obs.String("consumerId", consumerID), obs.Err(err))
		return
	}
	if exists == 1 {
		return
	}

	for {
		payload, err := r.rdb.RPop(ctx, procKey).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			r.log.Warn("lease recovery rpop error", obs.String("processingList", procKey), obs.Err(err))
			return
		}

		msg, requeued, err := r.queue.RecoverAbandoned(ctx, payload)
		if err != nil {
			r.log.Warn("lease recovery failed to requeue message", obs.String("processingList", procKey), obs.Err(err))
			continue
		}

		obs.LeasesRecovered.Inc()
		if requeued {
			r.log.Warn("recovered abandoned job lease, requeued for retry",
				obs.String("jobId", msg.ReportJobID), obs.String("tenantId", msg.TenantID), obs.String("consumerId", consumerID))
		} else {
			r.log.Warn("recovered abandoned job lease, dead-lettered after exhausting retries",
				obs.String("jobId", msg.ReportJobID), obs.String("tenantId", msg.TenantID), obs.String("consumerId", consumerID))
		}
	}
}

// processingListGlob turns the config's fmt.Sprintf-style processing-list
// pattern ("reportgen:worker:%s:processing") into a Redis SCAN glob
// ("reportgen:worker:*:processing").
func processingListGlob(fmtStr string) string {
	return strings.Replace(fmtStr, "%s", "*", 1)
}

// consumerIDFromProcessingKey extracts the consumer id segment that %s
// occupies in the configured format string, by splitting both the format and
// the observed key on ":" and reading off the segment at %s's position. The
// configured format and the keys SCAN returns always share the same
// delimiter shape, since the keys were produced by the same format string.
func consumerIDFromProcessingKey(fmtStr, key string) string {
	fmtParts := strings.Split(fmtStr, ":")
	keyParts := strings.Split(key, ":")
	if len(fmtParts) != len(keyParts) {
		return ""
	}
	for i, p := range fmtParts {
		if p == "%s" {
			return keyParts[i]
		}
	}
	return ""
}

func formatHeartbeatKey(fmtStr, consumerID string) string {
	return strings.Replace(fmtStr, "%s", consumerID, 1)
}
