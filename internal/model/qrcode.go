package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// QRCodeStatus is the state of a redemption token. Every state other than
// active is terminal, except that an expired code may still be revoked.
type QRCodeStatus string

const (
	QRCodeActive  QRCodeStatus = "active"
	QRCodeUsed    QRCodeStatus = "used"
	QRCodeExpired QRCodeStatus = "expired"
	QRCodeRevoked QRCodeStatus = "revoked"
)

// QRCode is a single-use redemption token bound to one campaign and one
// influencer. UsedAt is set if and only if Status is used.
type QRCode struct {
	ID              string          `db:"id" json:"id"`
	Code            string          `db:"code" json:"code"`
	CampaignID      int64           `db:"campaign_id" json:"campaign_id"`
	InfluencerID    int64           `db:"influencer_id" json:"influencer_id"`
	Status          QRCodeStatus    `db:"status" json:"status"`
	UsedAt          *time.Time      `db:"used_at" json:"used_at,omitempty"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	RedemptionValue decimal.Decimal `db:"redemption_value" json:"redemption_value"`
	Metadata        Metadata        `db:"metadata" json:"metadata"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsOverdue reports whether an active code has passed its deadline at now.
func (q *QRCode) IsOverdue(now time.Time) bool {
	return q.Status == QRCodeActive && now.After(q.ExpiresAt)
}

// Redemption is the result of a successful scan.
type Redemption struct {
	QRCode          *QRCode         `json:"qr_code"`
	Influencer      *User           `json:"influencer"`
	RedemptionValue decimal.Decimal `json:"redemption_value"`
}

// Metadata is an opaque document stored alongside a QR code. The engine
// persists and returns it unmodified.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	*m = out
	return nil
}
