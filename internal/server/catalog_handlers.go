package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
	"github.com/sentinel-group/catalog-sentinel/internal/store"
)

func validateEntry(e *model.CatalogEntry) string {
	if strings.TrimSpace(e.ProductID) == "" {
		return "product_id is required"
	}
	if e.Price < 0 {
		return "price must not be negative"
	}
	return ""
}

// handleProcessProduct runs the catalog pipeline for one entry. With
// ?async=true the call returns a job ID immediately and the pipeline runs in
// the background.
func (s *Server) handleProcessProduct(w http.ResponseWriter, r *http.Request) {
	var entry model.CatalogEntry
	if err := decodeBody(r, &entry); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateEntry(&entry); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		jobID := s.jobs.Start("catalog_process")
		bg := context.WithoutCancel(r.Context())
		go func() {
			result, err := s.catalog.Process(bg, entry)
			if err != nil {
				zap.L().Error("async catalog process failed",
					zap.String("product_id", entry.ProductID),
					zap.Error(err),
				)
				if failErr := s.jobs.Fail(jobID, err); failErr != nil {
					zap.L().Warn("job state update failed", zap.String("job_id", jobID), zap.Error(failErr))
				}
				return
			}
			if err := s.jobs.Complete(jobID, result); err != nil {
				zap.L().Warn("job state update failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}()
		respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "accepted"})
		return
	}

	result, err := s.catalog.Process(r.Context(), entry)
	if err != nil {
		zap.L().Error("catalog process failed", zap.String("product_id", entry.ProductID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to process product")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleProcessProductsBulk processes entries sequentially; a failing entry
// is reported but does not abort the rest.
func (s *Server) handleProcessProductsBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Products []model.CatalogEntry `json:"products"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Products) == 0 {
		respondError(w, http.StatusBadRequest, "products is required")
		return
	}
	for i := range req.Products {
		if msg := validateEntry(&req.Products[i]); msg != "" {
			respondError(w, http.StatusBadRequest, msg)
			return
		}
	}

	results := make([]*model.ProcessResult, 0, len(req.Products))
	var failed []string
	for _, entry := range req.Products {
		result, err := s.catalog.Process(r.Context(), entry)
		if err != nil {
			zap.L().Error("bulk catalog process: entry failed",
				zap.String("product_id", entry.ProductID),
				zap.Error(err),
			)
			failed = append(failed, entry.ProductID)
			continue
		}
		results = append(results, result)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"processed": results,
		"failed":    failed,
	})
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	filter := store.EntryFilter{
		Query:    r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("max_score"); raw != "" {
		maxScore, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "max_score must be a number")
			return
		}
		filter.MaxScore = maxScore
	}

	entries, err := s.store.SearchEntries(r.Context(), filter)
	if err != nil {
		zap.L().Error("product search failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to search products")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": entries, "count": len(entries)})
}

func (s *Server) handleFindabilityReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.catalog.Report(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		zap.L().Error("findability report failed", zap.String("product_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to compute report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleRebuildRegistry(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	rows, err := s.catalog.RebuildRegistry(r.Context(), category)
	if err != nil {
		zap.L().Error("registry rebuild failed", zap.String("category", category), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to rebuild registry")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": category, "attributes": rows})
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	rows, err := s.catalog.Registry(r.Context(), category)
	if err != nil {
		zap.L().Error("registry lookup failed", zap.String("category", category), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load registry")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": category, "attributes": rows})
}

func (s *Server) handleCatalogMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.catalog.Metrics(r.Context())
	if err != nil {
		zap.L().Error("catalog metrics failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}
