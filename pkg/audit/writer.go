// Package audit records an immutable before/after trail of every
// admin-mutating action, with sensitive fields redacted before the
// snapshot ever reaches storage.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/store"
)

// redactedFields names the snapshot keys replaced with "[REDACTED]"
// regardless of depth or casing, so a secret never leaks through an audit
// trail meant for operational review.
var redactedFields = map[string]bool{
	"passwordhash":        true,
	"password":            true,
	"encryptedsecret":     true,
	"encryptedprivatekey": true,
	"refreshtoken":        true,
	"accesstoken":         true,
}

const redactedValue = "[REDACTED]"

// Writer persists AuditLog rows.
type Writer struct {
	store *store.Client
}

// NewWriter constructs a Writer backed by the given store client.
func NewWriter(s *store.Client) *Writer {
	return &Writer{store: s}
}

// Entry describes one audited action.
type Entry struct {
	ActorID    *uuid.UUID
	ActorEmail *string
	Action     string
	Entity     string
	EntityID   uuid.UUID
	Before     map[string]interface{}
	After      map[string]interface{}
	IPAddress  string
	UserAgent  string
}

// Record writes an AuditLog row inside the caller's transaction, so an
// admin mutation and its audit trail commit or roll back together.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return err
	}
	_, err = w.store.Queryer(ctx).ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_email, action, entity, entity_id, before, after, ip_address, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		uuid.New(), e.ActorID, e.ActorEmail, e.Action, e.Entity, e.EntityID, before, after, e.IPAddress, e.UserAgent)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

func marshalSnapshot(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(redact(m))
	if err != nil {
		return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	return b, nil
}

// redact walks a snapshot map, replacing any recognized sensitive field
// (case-insensitive) with redactedValue and stringifying decimal.Decimal
// values so they serialize exactly rather than as floating-point JSON
// numbers.
func redact(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if redactedFields[lower(k)] {
			out[k] = redactedValue
			continue
		}
		switch val := v.(type) {
		case decimal.Decimal:
			out[k] = val.String()
		case map[string]interface{}:
			out[k] = redact(val)
		default:
			out[k] = v
		}
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
