package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/cryptostake/platform/pkg/audit"
	"github.com/cryptostake/platform/pkg/auth"
)

// recordAudit snapshots before/after as generic maps (round-tripped through
// JSON) and records the entry tied to the acting admin and request
// metadata. A nil writer (audit disabled in a test harness) is a no-op.
func (s *Server) recordAudit(r *http.Request, actor auth.Principal, action, entity string, entityID uuid.UUID, before, after interface{}) error {
	if s.audit == nil {
		return nil
	}
	actorID := actor.UserID
	return s.audit.Record(r.Context(), audit.Entry{
		ActorID:   &actorID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Before:    toMap(before),
		After:     toMap(after),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
}

func toMap(v interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
