package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tresgarza/log-u/internal/model"
)

const campaignCols = `id, brand_id, name, status, start_date, end_date, created_at, updated_at`

// CampaignRepository reads campaign records. Campaign management belongs to
// another service; CreateCampaign and SetStatus exist for seeding and tests.
type CampaignRepository struct{}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{}
}

// CreateCampaign creates a new campaign
func (r *CampaignRepository) CreateCampaign(ctx context.Context, db DBExecutor, campaign *model.Campaign) error {
	query := `
		INSERT INTO campaigns (brand_id, name, status, start_date, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	now := time.Now().UTC()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	err := db.GetContext(ctx, &campaign.ID, db.Rebind(query),
		campaign.BrandID, campaign.Name, campaign.Status,
		campaign.StartDate, campaign.EndDate, campaign.CreatedAt, campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetCampaign retrieves a campaign by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, db DBExecutor, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignCols + ` FROM campaigns WHERE id = ?`

	var campaign model.Campaign
	if err := get(ctx, db, &campaign, query, id); err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// SetStatus changes a campaign's status.
func (r *CampaignRepository) SetStatus(ctx context.Context, db DBExecutor, id int64, status model.CampaignStatus) error {
	ok, err := execOne(ctx, db,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	if !ok {
		return fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	return nil
}
