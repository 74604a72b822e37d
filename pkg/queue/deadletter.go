package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// DeadLetterStore persists exhausted jobs to the dead_letter_jobs table and
// answers the admin-facing listing, implementing DeadLetterSink.
type DeadLetterStore struct {
	store *store.Client
}

// NewDeadLetterStore constructs a DeadLetterStore backed by the given store
// client.
func NewDeadLetterStore(s *store.Client) *DeadLetterStore {
	return &DeadLetterStore{store: s}
}

// Save records one exhausted job.
func (d *DeadLetterStore) Save(ctx context.Context, queueName string, payload []byte, lastError string, attempts int) error {
	_, err := d.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO dead_letter_jobs (id, queue_name, payload, last_error, attempts)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), queueName, payload, lastError, attempts)
	if err != nil {
		return fmt.Errorf("queue: save dead letter: %w", err)
	}
	return nil
}

// List returns every dead-lettered job, most recently failed first, for the
// admin dead-letter surface.
func (d *DeadLetterStore) List(ctx context.Context) ([]domain.DeadLetterJob, error) {
	rows, err := d.store.Queryer(ctx).QueryContext(ctx, `
		SELECT id, queue_name, payload, last_error, attempts, failed_at
		FROM dead_letter_jobs ORDER BY failed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("queue: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetterJob
	for rows.Next() {
		var j domain.DeadLetterJob
		if err := rows.Scan(&j.ID, &j.QueueName, &j.Payload, &j.LastError, &j.Attempts, &j.FailedAt); err != nil {
			return nil, fmt.Errorf("queue: scan dead letter: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Count reports how many jobs are currently dead-lettered, for the
// dead_letter_jobs_total gauge.
func (d *DeadLetterStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.store.Queryer(ctx).QueryRowContext(ctx, `SELECT count(*) FROM dead_letter_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: count dead letters: %w", err)
	}
	return n, nil
}
