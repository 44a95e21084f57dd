package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports whether every database answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	databases := make(map[string]string, len(s.databases))
	for _, db := range s.databases {
		if err := db.HealthCheck(ctx); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			databases[db.Name()] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		databases[db.Name()] = "ok"
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "layerwise",
		"databases": databases,
	}
	if status != http.StatusOK {
		response["status"] = "degraded"
	}

	s.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
