// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples the report job queue length and updates a gauge.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := rdb.LLen(ctx, cfg.Queue.Name).Result()
				if err != nil {
					log.Debug("queue length poll error", String("queue", cfg.Queue.Name), Err(err))
					continue
				}
				QueueLength.WithLabelValues(cfg.Queue.Name).Set(float64(n))
			}
		}
	}()
}
