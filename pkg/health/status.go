// Package health tracks the platform's long-lived process health as a
// single mutex-guarded aggregate, separate from the teacher's per-request
// store.HealthStatus pool snapshot: this one is updated by the bootstrap
// sequence and background workers as components come up or degrade, so
// /healthz can report state without re-probing every dependency on every
// request.
package health

import (
	"encoding/json"
	"sync"
	"time"
)

// Status holds the platform's overall health, the sum of its
// component states. Construct it with New, which starts it as "starting"
// with every component unknown, matching a freshly booted process.
type Status struct {
	mu        sync.RWMutex
	startTime time.Time

	overall  string
	database string
	queue    string
	chains   map[string]string
}

// New returns a Status with every component marked "unknown" and the
// overall state "starting".
func New() *Status {
	return &Status{
		startTime: time.Now(),
		overall:   "starting",
		database:  "unknown",
		queue:     "unknown",
		chains:    make(map[string]string),
	}
}

// SetDatabaseHealthy records the outcome of the most recent database
// connectivity check.
func (s *Status) SetDatabaseHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = stateOf(healthy)
	s.updateOverallStatus()
}

// SetChainHealthy records the outcome of the most recent RPC health check
// for a configured chain, keyed by its slug (e.g. "ETHEREUM").
func (s *Status) SetChainHealthy(slug string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[slug] = stateOf(healthy)
	s.updateOverallStatus()
}

// SetQueueHealthy records whether the job queue is backed by Redis
// ("connected") or has degraded to the in-process fallback ("degraded").
// It is never "disconnected": the in-process queue always keeps serving.
func (s *Status) SetQueueHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if healthy {
		s.queue = "connected"
	} else {
		s.queue = "degraded"
	}
	s.updateOverallStatus()
}

// updateOverallStatus recomputes the aggregate status. Must be called with
// s.mu held for writing. Database and queue are optional subsystems (a
// deployment can run degraded without them); any chain being down is
// treated as critical since deposit scanning and payouts cannot proceed.
func (s *Status) updateOverallStatus() {
	for _, state := range s.chains {
		if state == "disconnected" {
			s.overall = "error"
			return
		}
	}
	if s.database == "disconnected" || s.queue == "degraded" {
		s.overall = "degraded"
		return
	}
	if s.database == "connected" && len(s.chains) > 0 {
		s.overall = "ok"
	}
}

func stateOf(healthy bool) string {
	if healthy {
		return "connected"
	}
	return "disconnected"
}

// Snapshot is the JSON-serializable view of a Status at a point in time.
type Snapshot struct {
	Status        string            `json:"status"`
	Database      string            `json:"database"`
	Queue         string            `json:"queue"`
	Chains        map[string]string `json:"chains"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// Snapshot returns a copy of the current state safe to marshal or hand to
// a caller outside the lock.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chains := make(map[string]string, len(s.chains))
	for k, v := range s.chains {
		chains[k] = v
	}
	return Snapshot{
		Status:        s.overall,
		Database:      s.database,
		Queue:         s.queue,
		Chains:        chains,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
}

// MarshalJSON lets a *Status be passed directly to writeJSON/json.Marshal.
func (s *Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
