package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tresgarza/log-u/internal/model"
)

const applicationCols = `a.id, a.campaign_id, a.influencer_id, a.status, a.message, a.compensation,
	a.brand_feedback, a.influencer_rating, a.brand_rating, a.created_at, a.updated_at`

// ApplicationRepository handles campaign application rows.
type ApplicationRepository struct{}

func NewApplicationRepository() *ApplicationRepository {
	return &ApplicationRepository{}
}

// CreateApplication inserts app and sets its ID. A duplicate
// (campaign, influencer) pair surfaces as a unique violation.
func (r *ApplicationRepository) CreateApplication(ctx context.Context, db DBExecutor, app *model.Application) error {
	query := `
		INSERT INTO campaign_applications
			(campaign_id, influencer_id, status, message, compensation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := db.GetContext(ctx, &app.ID, db.Rebind(query),
		app.CampaignID, app.InfluencerID, app.Status, app.Message, app.Compensation,
		app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (r *ApplicationRepository) GetApplication(ctx context.Context, db DBExecutor, id int64) (*model.Application, error) {
	var app model.Application
	err := get(ctx, db, &app, `SELECT `+applicationCols+` FROM campaign_applications a WHERE a.id = ?`, id)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("application %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return &app, nil
}

// FindByPair returns the application for (campaignID, influencerID).
func (r *ApplicationRepository) FindByPair(ctx context.Context, db DBExecutor, campaignID, influencerID int64) (*model.Application, error) {
	var app model.Application
	err := get(ctx, db, &app, `
		SELECT `+applicationCols+`
		FROM campaign_applications a
		WHERE a.campaign_id = ? AND a.influencer_id = ?
	`, campaignID, influencerID)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find application: %w", err)
	}
	return &app, nil
}

// UpdateStatus writes status and, when feedback is non-nil, brand_feedback.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, db DBExecutor, id int64, status model.ApplicationStatus, feedback *string, now time.Time) error {
	ok, err := execOne(ctx, db, `
		UPDATE campaign_applications
		SET status = ?, brand_feedback = COALESCE(?, brand_feedback), updated_at = ?
		WHERE id = ?
	`, status, feedback, now, id)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	if !ok {
		return fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetInfluencerRating records the brand's rating of the influencer. The
// status guard keeps ratings confined to completed applications even if the
// status changed since it was read.
func (r *ApplicationRepository) SetInfluencerRating(ctx context.Context, db DBExecutor, id int64, rating int, now time.Time) (bool, error) {
	return r.setRating(ctx, db, "influencer_rating", id, rating, now)
}

// SetBrandRating records the influencer's rating of the brand.
func (r *ApplicationRepository) SetBrandRating(ctx context.Context, db DBExecutor, id int64, rating int, now time.Time) (bool, error) {
	return r.setRating(ctx, db, "brand_rating", id, rating, now)
}

func (r *ApplicationRepository) setRating(ctx context.Context, db DBExecutor, column string, id int64, rating int, now time.Time) (bool, error) {
	ok, err := execOne(ctx, db, `
		UPDATE campaign_applications
		SET `+column+` = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, rating, now, id, model.ApplicationCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to set %s: %w", column, err)
	}
	return ok, nil
}

// ListApplications returns applications matching filter, newest first.
func (r *ApplicationRepository) ListApplications(ctx context.Context, db DBExecutor, filter model.ApplicationFilter) ([]model.Application, error) {
	var (
		where []string
		args  []any
	)
	if filter.CampaignID != 0 {
		where = append(where, "a.campaign_id = ?")
		args = append(args, filter.CampaignID)
	}
	if filter.InfluencerID != 0 {
		where = append(where, "a.influencer_id = ?")
		args = append(args, filter.InfluencerID)
	}
	if filter.BrandID != 0 {
		where = append(where, "c.brand_id = ?")
		args = append(args, filter.BrandID)
	}
	if filter.Status != "" {
		where = append(where, "a.status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + applicationCols + `
		FROM campaign_applications a
		JOIN campaigns c ON c.id = a.campaign_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.created_at DESC, a.id DESC"

	apps := []model.Application{}
	if err := db.SelectContext(ctx, &apps, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}
