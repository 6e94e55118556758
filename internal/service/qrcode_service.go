package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/authz"
	"github.com/tresgarza/log-u/internal/metrics"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/qrtoken"
	"github.com/tresgarza/log-u/internal/repository"
)

const (
	maxGenerateAttempts = 5
	maxRevokeAttempts   = 2
)

// NUMERIC(10,2) upper bound
var maxRedemptionValue = decimal.New(1, 8)

// IssueQRCodeRequest describes a code a brand wants to hand an influencer.
// An empty Code asks the service to generate one.
type IssueQRCodeRequest struct {
	CampaignID      int64
	InfluencerID    int64
	RedemptionValue decimal.Decimal
	ExpiresAt       time.Time
	Code            string
	Metadata        map[string]any
}

// ValidateCode reports whether code is an acceptable QR token.
func (s *Service) ValidateCode(code string) bool {
	return qrtoken.Valid(code)
}

// IssueQRCode creates an active code for an influencer whose application to
// one of the brand's active campaigns has been approved.
func (s *Service) IssueQRCode(ctx context.Context, p model.Principal, req IssueQRCodeRequest) (*model.QRCode, error) {
	if err := authz.RequireRole(p, model.RoleBrand, model.RoleAdmin); err != nil {
		return nil, apperr.E(apperr.Forbidden, "only brands can issue QR codes")
	}

	now := s.clock()
	value := req.RedemptionValue.Round(2)
	if req.RedemptionValue.IsNegative() {
		return nil, apperr.E(apperr.InvalidArgument, "redemption value must not be negative")
	}
	if value.GreaterThanOrEqual(maxRedemptionValue) {
		return nil, apperr.E(apperr.InvalidArgument, "redemption value is too large")
	}
	if !req.ExpiresAt.After(now) {
		return nil, apperr.E(apperr.InvalidArgument, "expiration must be in the future")
	}
	if req.Code != "" && !qrtoken.Valid(req.Code) {
		return nil, apperr.E(apperr.InvalidArgument,
			"invalid QR code format: use 4-32 letters, numbers, hyphens or underscores")
	}
	metadata, err := normalizeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	qr := &model.QRCode{
		ID:              uuid.NewString(),
		Code:            req.Code,
		CampaignID:      req.CampaignID,
		InfluencerID:    req.InfluencerID,
		Status:          model.QRCodeActive,
		ExpiresAt:       req.ExpiresAt.UTC().Truncate(time.Microsecond),
		RedemptionValue: value,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var issued *model.QRCode
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.checkIssuable(ctx, tx, p, req); err != nil {
			return err
		}
		if err := s.insertQRCode(ctx, tx, qr); err != nil {
			return err
		}
		var err error
		issued, err = s.qrRepo.GetByID(ctx, tx, qr.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	source := "generated"
	if req.Code != "" {
		source = "supplied"
	}
	metrics.QRCodesIssued.WithLabelValues(source).Inc()
	s.logger.InfoContext(ctx, "QR code issued",
		"qr_code_id", issued.ID, "campaign_id", issued.CampaignID,
		"influencer_id", issued.InfluencerID, "expires_at", issued.ExpiresAt)
	return issued, nil
}

// checkIssuable resolves the campaign and influencer and enforces ownership
// and application gating. Another brand's campaign is reported as missing.
func (s *Service) checkIssuable(ctx context.Context, tx repository.DBExecutor, p model.Principal, req IssueQRCodeRequest) error {
	campaign, err := s.campaignRepo.GetCampaign(ctx, tx, req.CampaignID)
	if err != nil {
		return notFound(err, "campaign not found")
	}
	if authz.CanManageCampaign(p, campaign) != nil {
		return apperr.E(apperr.NotFound, "campaign not found")
	}

	influencer, err := s.userRepo.GetUser(ctx, tx, req.InfluencerID)
	if err != nil {
		return notFound(err, "influencer not found")
	}
	if influencer.Role != model.RoleInfluencer {
		return apperr.E(apperr.NotFound, "influencer not found")
	}

	if !campaign.IsActive() {
		return apperr.E(apperr.InvalidState, "QR codes can only be issued for active campaigns")
	}
	app, err := s.appRepo.FindByPair(ctx, tx, req.CampaignID, req.InfluencerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if app == nil || !app.Status.PermitsQRCodes() {
		return apperr.E(apperr.InvalidState, "influencer has no approved application for this campaign")
	}
	return nil
}

// insertQRCode stores qr. A supplied code that is taken is a conflict; a
// generated one is replaced and retried.
func (s *Service) insertQRCode(ctx context.Context, tx repository.DBExecutor, qr *model.QRCode) error {
	if qr.Code != "" {
		ok, err := s.qrRepo.CreateQRCode(ctx, tx, qr)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.E(apperr.Conflict, "QR code already exists")
		}
		return nil
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		code, err := s.tokens.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate QR code: %w", err)
		}
		qr.Code = code
		ok, err := s.qrRepo.CreateQRCode(ctx, tx, qr)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		metrics.CodeCollisions.Inc()
		s.logger.WarnContext(ctx, "generated QR code collided", "attempt", attempt)
	}
	qr.Code = ""
	return apperr.E(apperr.Conflict, "could not generate a unique QR code")
}

// VerifyAndRedeem is called by retail terminals without authentication. It
// redeems code at most once: of any number of concurrent callers exactly one
// succeeds and the rest see the outcome that won.
func (s *Service) VerifyAndRedeem(ctx context.Context, code string) (result *model.Redemption, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = apperr.KindOf(err).String()
		}
		metrics.RecordRedeemDuration(outcome, time.Since(start).Seconds())
	}()

	if code == "" {
		return nil, apperr.E(apperr.NotFound, "QR code not found")
	}

	// outcome carries a terminal failure whose side effects (lazy expiry)
	// must still be committed.
	var outcome error
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		qr, err := s.qrRepo.GetByCode(ctx, tx, code)
		if err != nil {
			return notFound(err, "QR code not found")
		}

		now := s.clock()
		if refusal, err := s.terminalOutcome(ctx, tx, qr, now, "redeem"); err != nil || refusal != nil {
			outcome = refusal
			return err
		}

		campaign, err := s.campaignRepo.GetCampaign(ctx, tx, qr.CampaignID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if campaign == nil || !campaign.IsActive() {
			outcome = apperr.ErrCampaignInactive
			return nil
		}

		ok, err := s.qrRepo.MarkUsed(ctx, tx, qr.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another terminal changed the code between our read and write.
			latest, err := s.qrRepo.GetByID(ctx, tx, qr.ID)
			if err != nil {
				return err
			}
			outcome = lostRace(latest.Status)
			return nil
		}

		redeemed, err := s.qrRepo.GetByID(ctx, tx, qr.ID)
		if err != nil {
			return err
		}
		influencer, err := s.userRepo.GetUser(ctx, tx, qr.InfluencerID)
		if err != nil {
			return err
		}
		result = &model.Redemption{
			QRCode:          redeemed,
			Influencer:      influencer,
			RedemptionValue: redeemed.RedemptionValue,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		s.logger.InfoContext(ctx, "QR code redemption refused", "code", code, "reason", apperr.KindOf(outcome))
		return nil, outcome
	}

	metrics.RecordQRCodeTransition(string(model.QRCodeUsed), "redeem", 1)
	s.logger.InfoContext(ctx, "QR code redeemed",
		"qr_code_id", result.QRCode.ID, "influencer_id", result.Influencer.ID,
		"redemption_value", result.RedemptionValue.StringFixed(2))
	return result, nil
}

// terminalOutcome returns the refusal for a code that is not redeemable, or
// nil when it is. An active code past its deadline is persisted as expired
// first. err reports storage failures only.
func (s *Service) terminalOutcome(ctx context.Context, tx repository.DBExecutor, qr *model.QRCode, now time.Time, trigger string) (refusal, err error) {
	switch qr.Status {
	case model.QRCodeUsed:
		return apperr.ErrAlreadyRedeemed, nil
	case model.QRCodeRevoked:
		return apperr.ErrRevoked, nil
	case model.QRCodeExpired:
		return apperr.ErrExpired, nil
	}
	if !qr.IsOverdue(now) {
		return nil, nil
	}
	ok, err := s.qrRepo.MarkExpired(ctx, tx, qr.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		latest, err := s.qrRepo.GetByID(ctx, tx, qr.ID)
		if err != nil {
			return nil, err
		}
		return lostRace(latest.Status), nil
	}
	metrics.RecordQRCodeTransition(string(model.QRCodeExpired), trigger, 1)
	return apperr.ErrExpired, nil
}

func lostRace(status model.QRCodeStatus) error {
	switch status {
	case model.QRCodeUsed:
		return apperr.ErrAlreadyRedeemed
	case model.QRCodeRevoked:
		return apperr.ErrRevoked
	case model.QRCodeExpired:
		return apperr.ErrExpired
	}
	return fmt.Errorf("QR code in unexpected status %q after lost update", status)
}

// RevokeQRCode withdraws an active or expired code. Used codes can never be
// revoked. A code that expires while being revoked is revoked from expired.
func (s *Service) RevokeQRCode(ctx context.Context, p model.Principal, qrCodeID string) (*model.QRCode, error) {
	var revoked *model.QRCode
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		qr, err := s.loadQRCode(ctx, tx, p, qrCodeID)
		if err != nil {
			return err
		}

		status := qr.Status
		for attempt := 1; ; attempt++ {
			if err := revocable(status); err != nil {
				return err
			}
			ok, err := s.qrRepo.Revoke(ctx, tx, qr.ID, status, s.clock())
			if err != nil {
				return err
			}
			if ok {
				break
			}
			if attempt == maxRevokeAttempts {
				return apperr.E(apperr.InvalidState, "QR code changed while revoking; retry")
			}
			latest, err := s.qrRepo.GetByID(ctx, tx, qr.ID)
			if err != nil {
				return err
			}
			status = latest.Status
		}
		revoked, err = s.qrRepo.GetByID(ctx, tx, qr.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordQRCodeTransition(string(model.QRCodeRevoked), "revoke", 1)
	s.logger.InfoContext(ctx, "QR code revoked", "qr_code_id", revoked.ID, "by", p.ID, "role", p.Role)
	return revoked, nil
}

func revocable(status model.QRCodeStatus) error {
	switch status {
	case model.QRCodeUsed:
		return apperr.E(apperr.InvalidState, "cannot revoke a QR code that has already been used")
	case model.QRCodeRevoked:
		return apperr.E(apperr.InvalidState, "QR code has already been revoked")
	}
	return nil
}

// GetQRCode returns a code to its brand or holder. An active code past its
// deadline is persisted as expired before it is returned.
func (s *Service) GetQRCode(ctx context.Context, p model.Principal, qrCodeID string) (*model.QRCode, error) {
	var qr *model.QRCode
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		loaded, err := s.loadQRCode(ctx, tx, p, qrCodeID)
		if err != nil {
			return err
		}
		codes, err := s.expireOnRead(ctx, tx, []model.QRCode{*loaded})
		if err != nil {
			return err
		}
		qr = &codes[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return qr, nil
}

// ListCampaignQRCodes lists a campaign's codes. The managing brand sees all
// of them; an influencer sees only its own. Other brands get NotFound.
func (s *Service) ListCampaignQRCodes(ctx context.Context, p model.Principal, campaignID int64) ([]model.QRCode, error) {
	var codes []model.QRCode
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		campaign, err := s.campaignRepo.GetCampaign(ctx, tx, campaignID)
		if err != nil {
			return notFound(err, "campaign not found")
		}

		var influencerID int64
		if authz.CanManageCampaign(p, campaign) != nil {
			if p.Role != model.RoleInfluencer {
				return apperr.E(apperr.NotFound, "campaign not found")
			}
			influencerID = p.ID
		}

		listed, err := s.qrRepo.ListByCampaign(ctx, tx, campaignID, influencerID)
		if err != nil {
			return err
		}
		codes, err = s.expireOnRead(ctx, tx, listed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// ListMyQRCodes lists the calling influencer's codes across campaigns.
func (s *Service) ListMyQRCodes(ctx context.Context, p model.Principal) ([]model.QRCode, error) {
	if err := authz.RequireRole(p, model.RoleInfluencer); err != nil {
		return nil, apperr.E(apperr.Forbidden, "only influencers have QR codes")
	}
	var codes []model.QRCode
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		listed, err := s.qrRepo.ListByInfluencer(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		codes, err = s.expireOnRead(ctx, tx, listed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// ExpireOverdue moves every overdue active code to expired. Lazy expiry
// keeps reads correct without it; the sweep keeps stored state tidy.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.qrRepo.ExpireOverdue(ctx, s.db, s.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordQRCodeTransition(string(model.QRCodeExpired), "sweep", int(n))
	}
	s.logger.InfoContext(ctx, "expired overdue QR codes", "count", n)
	return n, nil
}

// loadQRCode fetches a code and its campaign and checks p may act on it. A
// code p may not act on is indistinguishable from a missing one.
func (s *Service) loadQRCode(ctx context.Context, tx repository.DBExecutor, p model.Principal, qrCodeID string) (*model.QRCode, error) {
	if _, err := uuid.Parse(qrCodeID); err != nil {
		return nil, apperr.E(apperr.NotFound, "QR code not found")
	}
	qr, err := s.qrRepo.GetByID(ctx, tx, qrCodeID)
	if err != nil {
		return nil, notFound(err, "QR code not found")
	}
	campaign, err := s.campaignRepo.GetCampaign(ctx, tx, qr.CampaignID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if authz.CanActOnQRCode(p, qr, campaign) != nil {
		return nil, apperr.E(apperr.NotFound, "QR code not found")
	}
	return qr, nil
}

// expireOnRead persists the expiry of any overdue active code in codes and
// returns the list with refreshed statuses.
func (s *Service) expireOnRead(ctx context.Context, tx repository.DBExecutor, codes []model.QRCode) ([]model.QRCode, error) {
	now := s.clock()
	for i := range codes {
		if !codes[i].IsOverdue(now) {
			continue
		}
		if _, err := s.terminalOutcome(ctx, tx, &codes[i], now, "read"); err != nil {
			return nil, err
		}
		latest, err := s.qrRepo.GetByID(ctx, tx, codes[i].ID)
		if err != nil {
			return nil, err
		}
		codes[i] = *latest
	}
	return codes, nil
}

// normalizeMetadata checks metadata is a JSON document and returns it in the
// form it will have when read back.
func normalizeMetadata(md map[string]any) (model.Metadata, error) {
	if len(md) == 0 {
		return model.Metadata{}, nil
	}
	st, err := structpb.NewStruct(md)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "metadata must be a JSON object", err)
	}
	return model.Metadata(st.AsMap()), nil
}
