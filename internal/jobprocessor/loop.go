// Copyright 2025 James Ross
package jobprocessor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/obs"
	"github.com/flyingrobots/reportgen/internal/queue"
)

// Consumer drives a pool of goroutines that dequeue from a Queue and run
// each message through a Processor, acking or nacking based on the result.
type Consumer struct {
	q      *queue.Queue
	p      *Processor
	count  int
	log    *zap.Logger
	baseID string
}

func NewConsumer(q *queue.Queue, p *Processor, count int, log *zap.Logger) *Consumer {
	host, _ := os.Hostname()
	base := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
	return &Consumer{q: q, p: p, count: count, log: log, baseID: base}
}

// Run blocks, running count consumer goroutines until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.count; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-%d", c.baseID, i)
		go func() {
			defer wg.Done()
			c.runOne(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (c *Consumer) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		lease, err := c.q.Dequeue(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("dequeue error", obs.Err(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if lease == nil {
			continue // BRPOPLPUSH timeout, nothing available
		}

		procErr := c.p.Process(ctx, lease.Message.TenantID, lease.Message.ReportJobID)
		if procErr == nil {
			if err := c.q.Ack(ctx, lease); err != nil {
				c.log.Error("ack failed", obs.String("jobId", lease.Message.ReportJobID), obs.Err(err))
			}
			continue
		}

		c.log.Error("job processing failed",
			obs.String("jobId", lease.Message.ReportJobID), obs.String("tenantId", lease.Message.TenantID), obs.Err(procErr))
		if _, err := c.q.Nack(ctx, lease); err != nil {
			c.log.Error("nack failed", obs.String("jobId", lease.Message.ReportJobID), obs.Err(err))
		}
	}
}
