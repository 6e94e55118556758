package model

import (
	"time"
)

// CampaignStatus is the lifecycle state of a campaign. Campaign CRUD lives
// outside this service; the engine only reads it.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign represents a brand's marketing campaign in the database
type Campaign struct {
	ID        int64          `db:"id" json:"id"`
	BrandID   int64          `db:"brand_id" json:"brand_id"`
	Name      string         `db:"name" json:"name"`
	Status    CampaignStatus `db:"status" json:"status"`
	StartDate time.Time      `db:"start_date" json:"start_date"`
	EndDate   time.Time      `db:"end_date" json:"end_date"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the campaign accepts applications and redemptions.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignActive
}
