// Package notify persists in-app notifications. Writes here are
// best-effort: callers log and continue rather than fail a committed
// financial transition when a notification insert errors, per the error
// handling design's treatment of notifications as non-transactional
// side effects.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/store"
)

// Repository inserts Notification rows.
type Repository struct {
	store  *store.Client
	logger *log.Logger
}

// NewRepository constructs a Repository backed by the given store client.
func NewRepository(s *store.Client, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.New(log.Writer(), "[Notify] ", log.LstdFlags)
	}
	return &Repository{store: s, logger: logger}
}

// Emit inserts a notification for userID. Errors are logged, not returned,
// so a notification failure never unwinds the caller's ledger transaction;
// re-dispatch on failure is an operator-visible gap tracked via logs, per
// the spec's "notifications are best-effort" policy.
func (r *Repository) Emit(ctx context.Context, userID uuid.UUID, typ, title, message string, data map[string]interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte("{}")
	}
	_, err = r.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), userID, typ, title, message, b)
	if err != nil {
		r.logger.Printf("⚠️  failed to emit notification type=%s user=%s: %v", typ, userID, fmt.Errorf("%w", err))
	}
}
