// Package queue abstracts the job queue behind the narrow interface the
// withdrawal workflow and payout executor need: enqueue with a retry
// policy, and subscribe with a fixed worker concurrency. The production
// implementation is backed by Redis; an in-process fallback keeps the
// service usable (single instance, best-effort) when Redis cannot be reached,
// matching the teacher's graceful-degradation posture for optional
// subsystems.
package queue

import (
	"context"
	"time"
)

// Job is one unit of work delivered to a Handler.
type Job struct {
	ID      string
	Name    string
	Payload []byte
	Attempt int
}

// Handler processes one Job. Returning an error causes the queue to retry
// the job per its EnqueueOptions, up to MaxAttempts, after which the job is
// moved to the dead-letter list.
type Handler func(ctx context.Context, job Job) error

// EnqueueOptions configures retry behavior for one job.
type EnqueueOptions struct {
	// MaxAttempts bounds retries; 0 means use the queue default (3).
	MaxAttempts int
	// InitialDelay defers the first delivery attempt (used by the payout
	// executor's checkPayoutStatus poll, which schedules 30s out).
	InitialDelay time.Duration
}

// Queue is the job-queue interface every producer (withdrawal approval,
// payout executor) and consumer (background workers) depends on.
type Queue interface {
	// Enqueue schedules name/payload for delivery, at-least-once, to a
	// Subscribe-r registered for name.
	Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) error

	// Subscribe registers handler for jobs named name with the given
	// worker concurrency (must support 1, for payout-per-chain
	// serialization). Subscribe does not block; it runs workers in
	// background goroutines until ctx is cancelled.
	Subscribe(ctx context.Context, name string, concurrency int, handler Handler) error
}

// DeadLetterSink receives jobs that exhausted their retry budget, so an
// operator-facing endpoint or log can surface them.
type DeadLetterSink interface {
	Save(ctx context.Context, queueName string, payload []byte, lastError string, attempts int) error
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	if d < time.Second {
		return time.Second
	}
	return d
}

const defaultMaxAttempts = 3
