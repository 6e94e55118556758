package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus is the state of an influencer's campaign application.
type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationApproved  ApplicationStatus = "approved"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationCompleted ApplicationStatus = "completed"
	ApplicationCancelled ApplicationStatus = "cancelled"
)

// Valid reports whether s is a recognized status value.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationPending, ApplicationApproved, ApplicationRejected,
		ApplicationCompleted, ApplicationCancelled:
		return true
	}
	return false
}

// PermitsQRCodes reports whether codes may be issued to the applicant.
func (s ApplicationStatus) PermitsQRCodes() bool {
	return s == ApplicationApproved || s == ApplicationCompleted
}

// Application is one influencer's request to take part in one campaign.
// There is at most one per (campaign, influencer) pair.
type Application struct {
	ID               int64             `db:"id" json:"id"`
	CampaignID       int64             `db:"campaign_id" json:"campaign_id"`
	InfluencerID     int64             `db:"influencer_id" json:"influencer_id"`
	Status           ApplicationStatus `db:"status" json:"status"`
	Message          string            `db:"message" json:"message"`
	Compensation     *decimal.Decimal  `db:"compensation" json:"compensation,omitempty"`
	BrandFeedback    *string           `db:"brand_feedback" json:"brand_feedback,omitempty"`
	InfluencerRating *int              `db:"influencer_rating" json:"influencer_rating,omitempty"`
	BrandRating      *int              `db:"brand_rating" json:"brand_rating,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// ApplicationFilter narrows ListApplications. Zero values mean "any".
type ApplicationFilter struct {
	CampaignID   int64
	InfluencerID int64
	BrandID      int64
	Status       ApplicationStatus
}
