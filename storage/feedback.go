package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medlingua/pipeline/core"
	"github.com/medlingua/pipeline/domain"
)

// FeedbackRepository persists user feedback and the out-of-band quality
// analysis report attached to it.
type FeedbackRepository struct {
	*Store
}

func NewFeedbackRepository(s *Store) *FeedbackRepository { return &FeedbackRepository{Store: s} }

// Create inserts a feedback row.
func (r *FeedbackRepository) Create(ctx context.Context, f *domain.Feedback) error {
	const q = `INSERT INTO feedback (processing_id, overall_rating, detailed_ratings, comment, data_consent_given)
		VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`
	row := r.DB.QueryRowContext(ctx, q, f.ProcessingID, f.OverallRating, f.DetailedRatings, f.Comment, f.DataConsentGiven)
	return row.Scan(&f.ID, &f.CreatedAt)
}

// ByProcessingID fetches feedback for a job, if any was submitted.
func (r *FeedbackRepository) ByProcessingID(ctx context.Context, processingID string) (*domain.Feedback, error) {
	var f domain.Feedback
	const q = `SELECT * FROM feedback WHERE processing_id = $1 ORDER BY id DESC LIMIT 1`
	if err := r.DB.GetContext(ctx, &f, q, processingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewDomainError(core.KindNotFound, "no feedback for this job", nil)
		}
		return nil, fmt.Errorf("storage: fetching feedback: %w", err)
	}
	return &f, nil
}

// RecordAnalysis stores the feedback analyzer's outcome.
func (r *FeedbackRepository) RecordAnalysis(ctx context.Context, feedbackID int64, status domain.AnalysisStatus, report domain.JSONMap) error {
	const q = `UPDATE feedback SET analysis_status = $1, analysis_report = $2 WHERE id = $3`
	_, err := r.DB.ExecContext(ctx, q, status, report, feedbackID)
	return err
}
