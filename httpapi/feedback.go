package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
	"github.com/medlingua/pipeline/queue"
)

type feedbackRequest struct {
	ProcessingID     string          `json:"processing_id"`
	OverallRating    int             `json:"overall_rating"`
	DetailedRatings  domain.JSONMap  `json:"detailed_ratings,omitempty"`
	Comment          string          `json:"comment,omitempty"`
	DataConsentGiven bool            `json:"data_consent_given"`
}

// handleSubmitFeedback implements POST /api/feedback: rate-limited
// 10/min/IP, persists the rating, and either enqueues the out-of-band
// quality analysis (consent given) or clears the job's content
// immediately (consent withheld).
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if !s.feedbackLimit.allow(clientIP(r)) {
		writeError(w, core.NewDomainError(core.KindRateLimit, "too many feedback submissions", map[string]interface{}{
			"retry_after_seconds": 60,
		}))
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewDomainError(core.KindValidation, "malformed request body", nil))
		return
	}
	if req.ProcessingID == "" || req.OverallRating < 1 || req.OverallRating > 5 {
		writeError(w, core.NewDomainError(core.KindValidation, "processing_id and overall_rating (1..5) are required", nil))
		return
	}

	ctx := r.Context()
	fb := &domain.Feedback{
		ProcessingID:     req.ProcessingID,
		OverallRating:    req.OverallRating,
		DetailedRatings:  req.DetailedRatings,
		Comment:          req.Comment,
		DataConsentGiven: req.DataConsentGiven,
	}
	if err := s.Feedback.Create(ctx, fb); err != nil {
		writeError(w, err)
		return
	}

	if !req.DataConsentGiven {
		if err := s.Manager.ClearContent(ctx, req.ProcessingID); err != nil {
			s.Logger.WarnWithContext(ctx, "clearing content after consent-withheld feedback failed", map[string]interface{}{
				"processing_id": req.ProcessingID, "error": err.Error(),
			})
		}
	} else if err := s.Broker.Enqueue(ctx, queue.Task{
		ID:         feedbackTaskID(fb.ID),
		Name:       queue.TaskAnalyzeFeedback,
		FeedbackID: fb.ID,
		Options:    map[string]string{"processing_id": req.ProcessingID},
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		s.Logger.WarnWithContext(ctx, "enqueuing feedback analysis failed", map[string]interface{}{
			"feedback_id": fb.ID, "error": err.Error(),
		})
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": fb.ID, "created_at": fb.CreatedAt})
}

func feedbackTaskID(feedbackID int64) string {
	return "feedback-" + strconv.FormatInt(feedbackID, 10)
}

// handleGetFeedback implements GET /api/feedback/{processing_id}:
// existence only, no content.
func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	fb, err := s.Feedback.ByProcessingID(r.Context(), chi.URLParam(r, "processingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exists":          true,
		"overall_rating":  fb.OverallRating,
		"analysis_status": fb.AnalysisStatus,
		"created_at":      fb.CreatedAt,
	})
}

// handleFeedbackCleanup implements POST /api/feedback/cleanup/{processing_id}:
// a best-effort content-erasure endpoint invoked when a user leaves
// without submitting feedback.
func (s *Server) handleFeedbackCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.ClearContent(r.Context(), chi.URLParam(r, "processingID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}
