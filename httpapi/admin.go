package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medlingua/pipeline/cache"
	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
)

// handleListSteps implements GET /api/admin/steps.
func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.Config.AllSteps(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

// handleUpsertStep implements PUT /api/admin/steps: create (id omitted or
// zero) or update a DynamicStep, rejecting a second enabled branching
// step, then invalidates the pipeline_steps cache namespace.
func (s *Server) handleUpsertStep(w http.ResponseWriter, r *http.Request) {
	var step domain.DynamicStep
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		writeError(w, core.NewDomainError(core.KindValidation, "malformed request body", nil))
		return
	}
	if err := s.Config.UpsertStep(r.Context(), &step); err != nil {
		writeError(w, err)
		return
	}
	if s.Cache != nil {
		s.Cache.InvalidateNamespace(cache.NamespacePipelineSteps)
	}
	writeJSON(w, http.StatusOK, step)
}

// handleListClasses implements GET /api/admin/document-classes.
func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.Config.DocumentClasses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

// handleDeleteClass implements DELETE /api/admin/document-classes/{id}.
func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, core.NewDomainError(core.KindValidation, "invalid document class id", nil))
		return
	}
	if err := s.Config.DeleteDocumentClass(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if s.Cache != nil {
		s.Cache.InvalidateNamespace(cache.NamespaceDocumentClasses)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// handleListModels implements GET /api/admin/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.Config.AvailableModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// handleOCRConfig implements GET /api/admin/ocr-configuration.
func (s *Server) handleOCRConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Config.ActiveOCRConfiguration(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleGetSetting implements GET /api/admin/settings/{key}.
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	value, err := s.Config.Setting(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": chi.URLParam(r, "key"), "value": value})
}

type putSettingRequest struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// handlePutSetting implements PUT /api/admin/settings/{key}.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var req putSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewDomainError(core.KindValidation, "malformed request body", nil))
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.Config.PutSetting(r.Context(), key, req.Value, req.Encrypted); err != nil {
		writeError(w, err)
		return
	}
	if s.Cache != nil {
		s.Cache.InvalidateNamespace(cache.NamespaceSystemSettings)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "updated": true})
}

// handleCostAnalytics implements GET /api/admin/analytics/costs: a
// per-provider/model cost rollup over the AI cost log, an analytics
// surface reserved for admin callers.
func (s *Server) handleCostAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Jobs.CostSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"by_provider_model": summary})
}
