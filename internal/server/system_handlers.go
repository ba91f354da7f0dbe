package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		dbStatus = err.Error()
	}

	payload := map[string]any{
		"status":   "ok",
		"database": dbStatus,
	}
	if dbStatus != "ok" {
		payload["status"] = "degraded"
	}

	if s.health != nil {
		snapshot, err := s.health.Status(r.Context())
		if err != nil {
			payload["agents"] = map[string]string{"error": err.Error()}
		} else {
			payload["agents"] = snapshot
			if !snapshot.Healthy {
				payload["status"] = "degraded"
			}
		}
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAgentsStatus(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		respondError(w, http.StatusServiceUnavailable, "no responder backends configured")
		return
	}
	snapshot, err := s.health.Status(r.Context())
	if err != nil {
		zap.L().Error("agent status check failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to check agents")
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	filter := store.WorkflowFilter{
		Trigger: r.URL.Query().Get("trigger"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	records, err := s.workflows.History(r.Context(), filter)
	if err != nil {
		zap.L().Error("workflow history failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"workflows": records, "count": len(records)})
}

func (s *Server) handleWorkflowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.workflows.Stats(r.Context())
	if err != nil {
		zap.L().Error("workflow stats failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
