// Copyright 2025 James Ross
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goccyjson "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Message is the enqueued unit of work: a pointer to a report job document,
// plus the attempt bookkeeping needed for retry/backoff/dead-lettering.
type Message struct {
	ReportJobID string `json:"reportJobId"`
	TenantID    string `json:"tenantId"`
	Attempts    int    `json:"attempts"`
}

func (m Message) marshal() (string, error) {
	b, err := goccyjson.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMessage(s string) (Message, error) {
	var m Message
	err := goccyjson.Unmarshal([]byte(s), &m)
	return m, err
}

// Queue is a Redis-backed reliable FIFO: BRPOPLPUSH into a per-consumer
// processing list with a heartbeat key, retry with exponential backoff, a
// dead-letter list, and enqueue-time dedupe keyed by job id.
type Queue struct {
	rdb               *redis.Client
	name              string
	processingListFmt string
	heartbeatKeyFmt   string
	heartbeatTTL      time.Duration
	maxAttempts       int
	backoffBase       time.Duration
	backoffMax        time.Duration
	brPopTimeout      time.Duration
	removeOnComplete  int64
	removeOnFail      int64
	dedupeTTL         time.Duration
}

// Options mirrors config.Queue; kept separate so this package has no
// dependency on internal/config.
type Options struct {
	Name              string
	ProcessingListFmt string
	HeartbeatKeyFmt   string
	HeartbeatTTL      time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BRPopLPushTimeout time.Duration
	RemoveOnComplete  int64
	RemoveOnFail      int64
	DedupeTTL         time.Duration
}

func New(rdb *redis.Client, opts Options) *Queue {
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 24 * time.Hour
	}
	return &Queue{
		rdb:               rdb,
		name:              opts.Name,
		processingListFmt: opts.ProcessingListFmt,
		heartbeatKeyFmt:   opts.HeartbeatKeyFmt,
		heartbeatTTL:      opts.HeartbeatTTL,
		maxAttempts:       opts.MaxAttempts,
		backoffBase:       opts.BackoffBase,
		backoffMax:        opts.BackoffMax,
		brPopTimeout:      opts.BRPopLPushTimeout,
		removeOnComplete:  opts.RemoveOnComplete,
		removeOnFail:      opts.RemoveOnFail,
		dedupeTTL:         opts.DedupeTTL,
	}
}

func (q *Queue) completedList() string  { return q.name + ":completed" }
func (q *Queue) deadLetterList() string { return q.name + ":dead" }
func (q *Queue) dedupeKey(jobID string) string {
	return q.name + ":dedupe:" + jobID
}

// Enqueue pushes msg onto the main list unless a message with the same job
// id was already enqueued within the dedupe TTL window (dedupe id = job id,
// per the intake/ticker's at-most-once-enqueue contract).
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	ok, err := q.rdb.SetNX(ctx, q.dedupeKey(msg.ReportJobID), "1", q.dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("queue: dedupe check: %w", err)
	}
	if !ok {
		return nil
	}
	payload, err := msg.marshal()
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Lease is a dequeued message plus the bookkeeping needed to ack/nack it.
type Lease struct {
	Message Message
	payload string
	procKey string
	hbKey   string
}

// Dequeue blocks up to BRPopLPushTimeout waiting for a message, moving it
// into a per-consumer processing list and setting its heartbeat key. It
// returns (nil, nil) on a timeout with no message available.
func (q *Queue) Dequeue(ctx context.Context, consumerID string) (*Lease, error) {
	procKey := fmt.Sprintf(q.processingListFmt, consumerID)
	hbKey := fmt.Sprintf(q.heartbeatKeyFmt, consumerID)

	payload, err := q.rdb.BRPopLPush(ctx, q.name, procKey, q.brPopTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	if err := q.rdb.Set(ctx, hbKey, payload, q.heartbeatTTL).Err(); err != nil {
		return nil, fmt.Errorf("queue: heartbeat: %w", err)
	}

	msg, err := unmarshalMessage(payload)
	if err != nil {
		// Poison pill: drop it from processing rather than looping forever.
		_ = q.rdb.LRem(ctx, procKey, 1, payload).Err()
		_ = q.rdb.Del(ctx, hbKey).Err()
		return nil, fmt.Errorf("queue: invalid message payload: %w", err)
	}

	return &Lease{Message: msg, payload: payload, procKey: procKey, hbKey: hbKey}, nil
}

// Ack removes the leased message from its processing list, clears its
// heartbeat, and records it on a size-capped completed list.
func (q *Queue) Ack(ctx context.Context, lease *Lease) error {
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.completedList(), lease.payload)
	pipe.LTrim(ctx, q.completedList(), 0, q.removeOnComplete-1)
	pipe.LRem(ctx, lease.procKey, 1, lease.payload)
	pipe.Del(ctx, lease.hbKey)
	_, err := pipe.Exec(ctx)
	return err
}

// Nack handles a failed lease: retried (re-enqueued with exponential
// backoff and Attempts incremented) while Attempts stays within
// MaxAttempts, or dead-lettered onto a size-capped list otherwise. It
// always clears the lease's processing-list entry and heartbeat.
func (q *Queue) Nack(ctx context.Context, lease *Lease) (retried bool, err error) {
	msg := lease.Message
	msg.Attempts++

	if msg.Attempts <= q.maxAttempts {
		wait := backoffDelay(msg.Attempts, q.backoffBase, q.backoffMax)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
		payload, marshalErr := msg.marshal()
		if marshalErr != nil {
			return false, fmt.Errorf("queue: marshal retry: %w", marshalErr)
		}
		pipe := q.rdb.TxPipeline()
		pipe.LPush(ctx, q.name, payload)
		pipe.LRem(ctx, lease.procKey, 1, lease.payload)
		pipe.Del(ctx, lease.hbKey)
		if _, execErr := pipe.Exec(ctx); execErr != nil {
			return false, fmt.Errorf("queue: retry enqueue: %w", execErr)
		}
		return true, nil
	}

	payload, marshalErr := msg.marshal()
	if marshalErr != nil {
		return false, fmt.Errorf("queue: marshal dead-letter: %w", marshalErr)
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.deadLetterList(), payload)
	pipe.LTrim(ctx, q.deadLetterList(), 0, q.removeOnFail-1)
	pipe.LRem(ctx, lease.procKey, 1, lease.payload)
	pipe.Del(ctx, lease.hbKey)
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		return false, fmt.Errorf("queue: dead-letter: %w", execErr)
	}
	return false, nil
}

// RecoverAbandoned re-enqueues a payload recovered from a dead consumer's
// processing list: same retry-vs-dead-letter decision as Nack, but without
// the backoff sleep (the job already waited out the abandoned consumer's
// heartbeat TTL) and without a lease to clear, since the caller already
// RPop'd the payload off the processing list directly.
func (q *Queue) RecoverAbandoned(ctx context.Context, payload string) (msg Message, requeued bool, err error) {
	msg, err = unmarshalMessage(payload)
	if err != nil {
		return Message{}, false, fmt.Errorf("queue: invalid abandoned payload: %w", err)
	}
	msg.Attempts++

	if msg.Attempts <= q.maxAttempts {
		retryPayload, marshalErr := msg.marshal()
		if marshalErr != nil {
			return msg, false, fmt.Errorf("queue: marshal recovered message: %w", marshalErr)
		}
		if err := q.rdb.LPush(ctx, q.name, retryPayload).Err(); err != nil {
			return msg, false, fmt.Errorf("queue: requeue recovered message: %w", err)
		}
		return msg, true, nil
	}

	deadPayload, marshalErr := msg.marshal()
	if marshalErr != nil {
		return msg, false, fmt.Errorf("queue: marshal dead-lettered recovered message: %w", marshalErr)
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.deadLetterList(), deadPayload)
	pipe.LTrim(ctx, q.deadLetterList(), 0, q.removeOnFail-1)
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		return msg, false, fmt.Errorf("queue: dead-letter recovered message: %w", execErr)
	}
	return msg, false, nil
}

func backoffDelay(attempts int, base, max time.Duration) time.Duration {
	d := time.Duration(1<<uint(attempts-1)) * base
	if d > max {
		return max
	}
	return d
}
