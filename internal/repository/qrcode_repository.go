package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tresgarza/log-u/internal/model"
)

const qrCodeCols = `id, code, campaign_id, influencer_id, status, used_at, expires_at,
	redemption_value, metadata, created_at, updated_at`

// QRCodeRepository handles QR code rows. Every status change is a
// conditional update guarded by the status the caller observed, so two
// concurrent writers can never both win.
type QRCodeRepository struct{}

// NewQRCodeRepository creates a new QR code repository
func NewQRCodeRepository() *QRCodeRepository {
	return &QRCodeRepository{}
}

// CreateQRCode inserts qr. It returns false when the code is already taken;
// the conflict is absorbed by the statement so an enclosing transaction
// stays usable for a retry.
func (r *QRCodeRepository) CreateQRCode(ctx context.Context, db DBExecutor, qr *model.QRCode) (bool, error) {
	ok, err := execOne(ctx, db, `
		INSERT INTO qr_codes
			(id, code, campaign_id, influencer_id, status, used_at, expires_at,
			 redemption_value, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING
	`, qr.ID, qr.Code, qr.CampaignID, qr.InfluencerID, qr.Status, qr.UsedAt, qr.ExpiresAt,
		qr.RedemptionValue, qr.Metadata, qr.CreatedAt, qr.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create QR code: %w", err)
	}
	return ok, nil
}

func (r *QRCodeRepository) GetByID(ctx context.Context, db DBExecutor, id string) (*model.QRCode, error) {
	return r.getOne(ctx, db, "id", id)
}

func (r *QRCodeRepository) GetByCode(ctx context.Context, db DBExecutor, code string) (*model.QRCode, error) {
	return r.getOne(ctx, db, "code", code)
}

func (r *QRCodeRepository) getOne(ctx context.Context, db DBExecutor, column, value string) (*model.QRCode, error) {
	var qr model.QRCode
	err := get(ctx, db, &qr, `SELECT `+qrCodeCols+` FROM qr_codes WHERE `+column+` = ?`, value)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("QR code: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get QR code: %w", err)
	}
	return &qr, nil
}

// MarkUsed updates a code from 'active' to 'used'. It returns false when
// another caller changed the status first.
func (r *QRCodeRepository) MarkUsed(ctx context.Context, db DBExecutor, id string, usedAt time.Time) (bool, error) {
	ok, err := execOne(ctx, db, `
		UPDATE qr_codes
		SET status = 'used', used_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'
	`, usedAt, usedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark QR code as used: %w", err)
	}
	return ok, nil
}

// MarkExpired updates a code from 'active' to 'expired'.
func (r *QRCodeRepository) MarkExpired(ctx context.Context, db DBExecutor, id string, now time.Time) (bool, error) {
	ok, err := execOne(ctx, db, `
		UPDATE qr_codes
		SET status = 'expired', updated_at = ?
		WHERE id = ? AND status = 'active'
	`, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark QR code as expired: %w", err)
	}
	return ok, nil
}

// Revoke updates a code from the observed status to 'revoked'.
func (r *QRCodeRepository) Revoke(ctx context.Context, db DBExecutor, id string, from model.QRCodeStatus, now time.Time) (bool, error) {
	ok, err := execOne(ctx, db, `
		UPDATE qr_codes
		SET status = 'revoked', updated_at = ?
		WHERE id = ? AND status = ?
	`, now, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to revoke QR code: %w", err)
	}
	return ok, nil
}

// ExpireOverdue moves every active code whose deadline is before now to
// 'expired' and returns how many changed.
func (r *QRCodeRepository) ExpireOverdue(ctx context.Context, db DBExecutor, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, db.Rebind(`
		UPDATE qr_codes
		SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND expires_at < ?
	`), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue QR codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListByCampaign returns a campaign's codes, newest first. A non-zero
// influencerID restricts the list to that influencer.
func (r *QRCodeRepository) ListByCampaign(ctx context.Context, db DBExecutor, campaignID, influencerID int64) ([]model.QRCode, error) {
	query := `SELECT ` + qrCodeCols + ` FROM qr_codes WHERE campaign_id = ?`
	args := []any{campaignID}
	if influencerID != 0 {
		query += ` AND influencer_id = ?`
		args = append(args, influencerID)
	}
	query += ` ORDER BY created_at DESC, code ASC`

	codes := []model.QRCode{}
	if err := db.SelectContext(ctx, &codes, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list campaign QR codes: %w", err)
	}
	return codes, nil
}

// ListByInfluencer returns an influencer's codes across campaigns, newest first.
func (r *QRCodeRepository) ListByInfluencer(ctx context.Context, db DBExecutor, influencerID int64) ([]model.QRCode, error) {
	codes := []model.QRCode{}
	err := db.SelectContext(ctx, &codes, db.Rebind(`
		SELECT `+qrCodeCols+`
		FROM qr_codes
		WHERE influencer_id = ?
		ORDER BY created_at DESC, code ASC
	`), influencerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list influencer QR codes: %w", err)
	}
	return codes, nil
}
