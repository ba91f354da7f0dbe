package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

func validateDecision(d *model.Decision, now time.Time) string {
	if strings.TrimSpace(d.DecisionID) == "" {
		return "decision_id is required"
	}
	if strings.TrimSpace(d.Algorithm) == "" {
		return "algorithm is required"
	}
	if len(d.Output) == 0 {
		return "output is required"
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = now
	}
	d.IngestedAt = now
	return ""
}

func (s *Server) handleIngestDecision(w http.ResponseWriter, r *http.Request) {
	var d model.Decision
	if err := decodeBody(r, &d); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateDecision(&d, time.Now().UTC()); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.store.InsertDecision(r.Context(), d); err != nil {
		zap.L().Error("decision insert failed", zap.String("decision_id", d.DecisionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store decision")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"decision_id": d.DecisionID, "status": "stored"})
}

func (s *Server) handleIngestDecisionsBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decisions []model.Decision `json:"decisions"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Decisions) == 0 {
		respondError(w, http.StatusBadRequest, "decisions is required")
		return
	}

	now := time.Now().UTC()
	for i := range req.Decisions {
		if msg := validateDecision(&req.Decisions[i], now); msg != "" {
			respondError(w, http.StatusBadRequest, msg)
			return
		}
	}

	inserted, err := s.store.BulkInsertDecisions(r.Context(), req.Decisions)
	if err != nil {
		zap.L().Error("bulk decision insert failed", zap.Int("count", len(req.Decisions)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store decisions")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"inserted": inserted})
}

func (s *Server) handleDriftCheck(w http.ResponseWriter, r *http.Request) {
	algorithm := chi.URLParam(r, "algorithm")
	if algorithm == "" {
		respondError(w, http.StatusBadRequest, "algorithm is required")
		return
	}

	check, err := s.drift.CheckAlgorithm(r.Context(), algorithm)
	if err != nil {
		zap.L().Error("drift check failed", zap.String("algorithm", algorithm), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "drift check failed")
		return
	}
	respondJSON(w, http.StatusOK, check)
}

func (s *Server) handleRecomputeBaseline(w http.ResponseWriter, r *http.Request) {
	algorithm := chi.URLParam(r, "algorithm")
	if algorithm == "" {
		respondError(w, http.StatusBadRequest, "algorithm is required")
		return
	}

	baseline, err := s.baselines.Recompute(r.Context(), algorithm)
	if err != nil {
		zap.L().Error("baseline recompute failed", zap.String("algorithm", algorithm), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "baseline recompute failed")
		return
	}
	respondJSON(w, http.StatusOK, baseline)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := store.IncidentFilter{
		Status:    model.IncidentStatus(r.URL.Query().Get("status")),
		Algorithm: r.URL.Query().Get("algorithm"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}

	incidents, err := s.store.ListIncidents(r.Context(), filter)
	if err != nil {
		zap.L().Error("incident list failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"incidents": incidents, "count": len(incidents)})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inc, err := s.store.GetIncident(r.Context(), id)
	if err != nil {
		zap.L().Error("incident lookup failed", zap.String("incident_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	if inc == nil {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Details    string  `json:"details"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Action {
	case "rollback", "override", "pause", "restart":
	default:
		respondError(w, http.StatusBadRequest, "action must be one of rollback, override, pause, restart")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		respondError(w, http.StatusBadRequest, "confidence must be in [0,1]")
		return
	}

	res, err := s.drift.Resolve(r.Context(), id, req.Action, req.Confidence, req.Details)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, "incident not found")
			return
		}
		zap.L().Error("incident resolve failed", zap.String("incident_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to resolve incident")
		return
	}

	if s.workflows != nil {
		s.workflows.RecordResolution(r.Context(), id, *res)
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDriftMetrics(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	metrics, err := s.drift.Metrics(r.Context(), hours)
	if err != nil {
		zap.L().Error("drift metrics failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}
