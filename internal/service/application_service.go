package service

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/authz"
	"github.com/tresgarza/log-u/internal/database"
	"github.com/tresgarza/log-u/internal/metrics"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/repository"
)

// SubmitApplicationRequest is an influencer's request to join a campaign.
type SubmitApplicationRequest struct {
	CampaignID   int64
	Message      string
	Compensation *decimal.Decimal
}

// SubmitApplication creates a pending application for the calling influencer.
func (s *Service) SubmitApplication(ctx context.Context, p model.Principal, req SubmitApplicationRequest) (*model.Application, error) {
	if err := authz.RequireRole(p, model.RoleInfluencer); err != nil {
		return nil, apperr.E(apperr.Forbidden, "only influencers can apply to campaigns")
	}
	if req.Compensation != nil && req.Compensation.IsNegative() {
		return nil, apperr.E(apperr.InvalidArgument, "compensation must not be negative")
	}

	var app *model.Application
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		campaign, err := s.campaignRepo.GetCampaign(ctx, tx, req.CampaignID)
		if err != nil {
			return notFound(err, "campaign not found")
		}
		if !campaign.IsActive() {
			return apperr.E(apperr.InvalidState, "you can only apply to active campaigns")
		}

		_, err = s.appRepo.FindByPair(ctx, tx, req.CampaignID, p.ID)
		switch {
		case err == nil:
			return apperr.E(apperr.Conflict, "you have already applied to this campaign")
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		now := s.clock()
		app = &model.Application{
			CampaignID:   req.CampaignID,
			InfluencerID: p.ID,
			Status:       model.ApplicationPending,
			Message:      req.Message,
			Compensation: roundCents(req.Compensation),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.appRepo.CreateApplication(ctx, tx, app); err != nil {
			// lost a race with a concurrent submit for the same pair
			if database.IsUniqueViolation(err) {
				return apperr.Wrap(apperr.Conflict, "you have already applied to this campaign", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "application submitted",
		"application_id", app.ID, "campaign_id", app.CampaignID, "influencer_id", app.InfluencerID)
	return app, nil
}

// SetApplicationStatus writes a new status on behalf of the campaign's brand.
// Any recognized status may be written; only ownership is enforced. A
// non-empty feedback replaces the stored brand feedback.
func (s *Service) SetApplicationStatus(ctx context.Context, p model.Principal, applicationID int64, status model.ApplicationStatus, feedback string) (*model.Application, error) {
	if !status.Valid() {
		return nil, apperr.E(apperr.InvalidArgument, "valid status is required")
	}
	if err := authz.RequireRole(p, model.RoleBrand, model.RoleAdmin); err != nil {
		return nil, apperr.E(apperr.Forbidden, "only brands can update application status")
	}

	var (
		app  *model.Application
		from model.ApplicationStatus
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.loadForSide(ctx, tx, p, applicationID, authz.BrandSide)
		if err != nil {
			return err
		}
		from = current.Status

		var fb *string
		if feedback != "" {
			fb = &feedback
		}
		if err := s.appRepo.UpdateStatus(ctx, tx, applicationID, status, fb, s.clock()); err != nil {
			return notFound(err, "application not found")
		}
		app, err = s.appRepo.GetApplication(ctx, tx, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ApplicationTransitions.WithLabelValues(string(from), string(status)).Inc()
	s.logger.InfoContext(ctx, "application status changed",
		"application_id", applicationID, "from", from, "to", status, "by", p.ID)
	return app, nil
}

// RateInfluencer records the brand's 1-5 rating of the influencer on a
// completed application.
func (s *Service) RateInfluencer(ctx context.Context, p model.Principal, applicationID int64, rating int) (*model.Application, error) {
	if err := validateRating(rating); err != nil {
		return nil, err
	}
	if err := authz.RequireRole(p, model.RoleBrand, model.RoleAdmin); err != nil {
		return nil, apperr.E(apperr.Forbidden, "only brands can rate influencers")
	}
	return s.rate(ctx, p, applicationID, authz.BrandSide, func(tx *sqlx.Tx) (bool, error) {
		return s.appRepo.SetInfluencerRating(ctx, tx, applicationID, rating, s.clock())
	})
}

// RateBrand records the influencer's 1-5 rating of the brand on a completed
// application.
func (s *Service) RateBrand(ctx context.Context, p model.Principal, applicationID int64, rating int) (*model.Application, error) {
	if err := validateRating(rating); err != nil {
		return nil, err
	}
	if err := authz.RequireRole(p, model.RoleInfluencer); err != nil {
		return nil, apperr.E(apperr.Forbidden, "only influencers can rate brands")
	}
	return s.rate(ctx, p, applicationID, authz.InfluencerSide, func(tx *sqlx.Tx) (bool, error) {
		return s.appRepo.SetBrandRating(ctx, tx, applicationID, rating, s.clock())
	})
}

func (s *Service) rate(ctx context.Context, p model.Principal, applicationID int64, side authz.Side, write func(tx *sqlx.Tx) (bool, error)) (*model.Application, error) {
	var app *model.Application
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.loadForSide(ctx, tx, p, applicationID, side)
		if err != nil {
			return err
		}
		if current.Status != model.ApplicationCompleted {
			return apperr.E(apperr.InvalidState, "you can only rate completed applications")
		}
		ok, err := write(tx)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.E(apperr.InvalidState, "you can only rate completed applications")
		}
		app, err = s.appRepo.GetApplication(ctx, tx, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// GetApplication returns an application to either of its parties.
func (s *Service) GetApplication(ctx context.Context, p model.Principal, applicationID int64) (*model.Application, error) {
	app, err := s.appRepo.GetApplication(ctx, s.db, applicationID)
	if err != nil {
		return nil, notFound(err, "application not found")
	}
	campaign, err := s.campaignRepo.GetCampaign(ctx, s.db, app.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanViewApplication(p, app, campaign); err != nil {
		return nil, apperr.E(apperr.Forbidden, "you do not have permission to view this application")
	}
	return app, nil
}

// ListApplications returns the applications visible to p: a brand's
// campaigns, an influencer's own, or everything for admins.
func (s *Service) ListApplications(ctx context.Context, p model.Principal, filter model.ApplicationFilter) ([]model.Application, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.E(apperr.InvalidArgument, "unknown application status")
	}
	switch p.Role {
	case model.RoleBrand:
		filter.BrandID = p.ID
	case model.RoleInfluencer:
		filter.InfluencerID = p.ID
	case model.RoleAdmin:
	default:
		return nil, apperr.ErrForbidden
	}
	return s.appRepo.ListApplications(ctx, s.db, filter)
}

// loadForSide loads an application and its campaign and checks that p may
// act on the given side.
func (s *Service) loadForSide(ctx context.Context, db repository.DBExecutor, p model.Principal, applicationID int64, side authz.Side) (*model.Application, error) {
	app, err := s.appRepo.GetApplication(ctx, db, applicationID)
	if err != nil {
		return nil, notFound(err, "application not found")
	}
	campaign, err := s.campaignRepo.GetCampaign(ctx, db, app.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanActOnApplication(p, app, campaign, side); err != nil {
		return nil, apperr.E(apperr.Forbidden, "you do not have permission to modify this application")
	}
	return app, nil
}

func validateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return apperr.E(apperr.InvalidArgument, "valid rating between 1 and 5 is required")
	}
	return nil
}

func roundCents(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(2)
	return &r
}
