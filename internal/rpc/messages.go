package rpc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/model"
)

// Application is the wire form of model.Application.
type Application struct {
	ID               int64     `json:"id"`
	CampaignID       int64     `json:"campaign_id"`
	InfluencerID     int64     `json:"influencer_id"`
	Status           string    `json:"status"`
	Message          string    `json:"message,omitempty"`
	Compensation     *string   `json:"compensation,omitempty"`
	BrandFeedback    *string   `json:"brand_feedback,omitempty"`
	InfluencerRating *int      `json:"influencer_rating,omitempty"`
	BrandRating      *int      `json:"brand_rating,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// QRCode is the wire form of model.QRCode. Money is a fixed two-decimal
// string.
type QRCode struct {
	ID              string         `json:"id"`
	Code            string         `json:"code"`
	CampaignID      int64          `json:"campaign_id"`
	InfluencerID    int64          `json:"influencer_id"`
	Status          string         `json:"status"`
	UsedAt          *time.Time     `json:"used_at,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
	RedemptionValue string         `json:"redemption_value"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Influencer is the part of the code holder a terminal shows.
type Influencer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type SubmitApplicationRequest struct {
	CampaignID   int64  `json:"campaign_id"`
	Message      string `json:"message,omitempty"`
	Compensation string `json:"compensation,omitempty"`
}

type SetApplicationStatusRequest struct {
	ApplicationID int64  `json:"application_id"`
	Status        string `json:"status"`
	Feedback      string `json:"feedback,omitempty"`
}

type RateRequest struct {
	ApplicationID int64 `json:"application_id"`
	Rating        int   `json:"rating"`
}

type GetApplicationRequest struct {
	ApplicationID int64 `json:"application_id"`
}

type ListApplicationsRequest struct {
	CampaignID int64  `json:"campaign_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

type ApplicationResponse struct {
	Application *Application `json:"application"`
}

type ListApplicationsResponse struct {
	Applications []*Application `json:"applications"`
}

type IssueQRCodeRequest struct {
	CampaignID      int64          `json:"campaign_id"`
	InfluencerID    int64          `json:"influencer_id"`
	RedemptionValue string         `json:"redemption_value"`
	ExpiresAt       time.Time      `json:"expires_at"`
	Code            string         `json:"code,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type VerifyAndRedeemRequest struct {
	Code string `json:"code"`
}

type VerifyAndRedeemResponse struct {
	QRCode          *QRCode     `json:"qr_code"`
	Influencer      *Influencer `json:"influencer"`
	RedemptionValue string      `json:"redemption_value"`
}

// QRCodeRequest addresses one code by id.
type QRCodeRequest struct {
	QRCodeID string `json:"qr_code_id"`
}

type ListCampaignQRCodesRequest struct {
	CampaignID int64 `json:"campaign_id"`
}

type ListMyQRCodesRequest struct{}

type QRCodeResponse struct {
	QRCode *QRCode `json:"qr_code"`
}

type ListQRCodesResponse struct {
	QRCodes []*QRCode `json:"qr_codes"`
}

func toApplication(a *model.Application) *Application {
	out := &Application{
		ID:               a.ID,
		CampaignID:       a.CampaignID,
		InfluencerID:     a.InfluencerID,
		Status:           string(a.Status),
		Message:          a.Message,
		BrandFeedback:    a.BrandFeedback,
		InfluencerRating: a.InfluencerRating,
		BrandRating:      a.BrandRating,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	if a.Compensation != nil {
		s := a.Compensation.StringFixed(2)
		out.Compensation = &s
	}
	return out
}

func toApplications(apps []model.Application) []*Application {
	out := make([]*Application, 0, len(apps))
	for i := range apps {
		out = append(out, toApplication(&apps[i]))
	}
	return out
}

func toQRCode(q *model.QRCode) *QRCode {
	md := map[string]any(q.Metadata)
	if md == nil {
		md = map[string]any{}
	}
	return &QRCode{
		ID:              q.ID,
		Code:            q.Code,
		CampaignID:      q.CampaignID,
		InfluencerID:    q.InfluencerID,
		Status:          string(q.Status),
		UsedAt:          q.UsedAt,
		ExpiresAt:       q.ExpiresAt,
		RedemptionValue: q.RedemptionValue.StringFixed(2),
		Metadata:        md,
		CreatedAt:       q.CreatedAt,
		UpdatedAt:       q.UpdatedAt,
	}
}

func toQRCodes(codes []model.QRCode) []*QRCode {
	out := make([]*QRCode, 0, len(codes))
	for i := range codes {
		out = append(out, toQRCode(&codes[i]))
	}
	return out
}

// parseAmount reads a decimal money field.
func parseAmount(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, apperr.E(apperr.InvalidArgument, field+" is required")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.InvalidArgument, field+" must be a decimal number", err)
	}
	return d, nil
}
