package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/JonMunkholm/routemigrate/internal/logging"
)

type healthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	ActiveFiles int    `json:"activeFiles"`
}

// handleHealth pings the store. It answers 503 when the store is down so
// load balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Store:       s.cfg.Store.Driver,
		ActiveFiles: s.service.Limiter().ActiveCount(),
	}
	status := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
