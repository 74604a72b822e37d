package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on top of a single Redis instance: a list per
// queue name holds ready jobs (LPUSH/BRPOP), and a sorted set per queue
// holds delayed retries, scored by their due Unix timestamp. A background
// mover promotes due jobs from the delayed set to the ready list.
type RedisQueue struct {
	rdb        *redis.Client
	deadLetter DeadLetterSink
	logger     *log.Logger
}

// envelope is the wire format stored in Redis for one job attempt.
type envelope struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
}

// NewRedisQueue constructs a RedisQueue. deadLetter may be nil, in which
// case exhausted jobs are only logged.
func NewRedisQueue(rdb *redis.Client, deadLetter DeadLetterSink, logger *log.Logger) *RedisQueue {
	if logger == nil {
		logger = log.New(log.Writer(), "[Queue] ", log.LstdFlags)
	}
	return &RedisQueue{rdb: rdb, deadLetter: deadLetter, logger: logger}
}

func readyKey(name string) string   { return "queue:" + name + ":ready" }
func delayedKey(name string) string { return "queue:" + name + ":delayed" }

// Enqueue pushes a job onto the ready list, or schedules it onto the
// delayed sorted set when opts.InitialDelay is set.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload []byte, opts EnqueueOptions) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	env := envelope{ID: newJobID(), Name: name, Payload: payload, Attempt: 0, MaxAttempts: maxAttempts}
	return q.push(ctx, name, env, opts.InitialDelay)
}

func (q *RedisQueue) push(ctx context.Context, name string, env envelope, delay time.Duration) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal envelope: %w", err)
	}
	if delay <= 0 {
		return q.rdb.LPush(ctx, readyKey(name), b).Err()
	}
	dueAt := float64(time.Now().Add(delay).Unix())
	return q.rdb.ZAdd(ctx, delayedKey(name), redis.Z{Score: dueAt, Member: b}).Err()
}

// Subscribe starts concurrency worker goroutines pulling from name's ready
// list, plus one mover goroutine promoting due delayed jobs, all stopped
// when ctx is cancelled.
func (q *RedisQueue) Subscribe(ctx context.Context, name string, concurrency int, handler Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	go q.moveDelayed(ctx, name)
	for i := 0; i < concurrency; i++ {
		go q.worker(ctx, name, handler)
	}
	return nil
}

func (q *RedisQueue) moveDelayed(ctx context.Context, name string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().Unix())
			due, err := q.rdb.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
			if err != nil {
				continue
			}
			for _, member := range due {
				removed, err := q.rdb.ZRem(ctx, delayedKey(name), member).Result()
				if err != nil || removed == 0 {
					continue // another mover instance already claimed it
				}
				q.rdb.LPush(ctx, readyKey(name), member)
			}
		}
	}
}

func (q *RedisQueue) worker(ctx context.Context, name string, handler Handler) {
	key := readyKey(name)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		result, err := q.rdb.BRPop(ctx, 5*time.Second, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
			q.logger.Printf("❌ queue %s: malformed envelope dropped: %v", name, err)
			continue
		}
		q.deliver(ctx, name, env, handler)
	}
}

func (q *RedisQueue) deliver(ctx context.Context, name string, env envelope, handler Handler) {
	job := Job{ID: env.ID, Name: env.Name, Payload: env.Payload, Attempt: env.Attempt + 1}
	err := handler(ctx, job)
	if err == nil {
		return
	}
	env.Attempt++
	if env.Attempt >= env.MaxAttempts {
		q.logger.Printf("⚠️  queue %s: job %s exhausted %d attempts: %v", name, env.ID, env.Attempt, err)
		if q.deadLetter != nil {
			if dlErr := q.deadLetter.Save(ctx, name, env.Payload, err.Error(), env.Attempt); dlErr != nil {
				q.logger.Printf("❌ queue %s: failed to record dead letter: %v", name, dlErr)
			}
		}
		return
	}
	delay := backoff(env.Attempt)
	q.logger.Printf("🔄 queue %s: job %s failed (attempt %d/%d), retrying in %s: %v", name, env.ID, env.Attempt, env.MaxAttempts, delay, err)
	if pushErr := q.push(ctx, name, env, delay); pushErr != nil {
		q.logger.Printf("❌ queue %s: failed to reschedule job %s: %v", name, env.ID, pushErr)
	}
}

func newJobID() string {
	return uuid.New().String()
}
