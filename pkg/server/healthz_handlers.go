package server

import (
	"net/http"
)

type componentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type healthzResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
	Process    interface{}                `json:"process"`
}

// handleHealthz live-probes the database and configured chain RPCs, folding
// each result back into the process-wide health.Status aggregator so its
// Database/Chains view stays current between requests, then reports
// both the live per-request components and the aggregator's snapshot.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	components := map[string]componentHealth{}
	overall := true

	dbStatus, err := s.store.Health(r.Context())
	dbHealthy := err == nil && dbStatus != nil && dbStatus.Healthy
	if !dbHealthy {
		overall = false
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		} else if dbStatus != nil {
			errMsg = dbStatus.Error
		}
		components["database"] = componentHealth{Healthy: false, Error: errMsg}
	} else {
		components["database"] = componentHealth{Healthy: true}
	}
	if s.health != nil {
		s.health.SetDatabaseHealthy(dbHealthy)
	}

	if s.registry != nil {
		for _, c := range s.registry.All() {
			ch := componentHealth{Healthy: true}
			chainHealthy := true
			if err := c.Health(r.Context()); err != nil {
				overall = false
				chainHealthy = false
				ch = componentHealth{Healthy: false, Error: err.Error()}
			}
			components["chain:"+c.Slug] = ch
			if s.health != nil {
				s.health.SetChainHealthy(c.Slug, chainHealthy)
			}
		}
	}

	status := "ok"
	code := http.StatusOK
	if !overall {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthzResponse{Status: status, Components: components, Process: s.health})
}
