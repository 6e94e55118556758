// Package authz holds the role and ownership predicates consulted before
// every mutating engine operation. The predicates are pure: they never touch
// storage and have no side effects. A nil error means allow.
package authz

import (
	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/model"
)

// Side selects which party of an application is acting.
type Side int

const (
	BrandSide Side = iota
	InfluencerSide
)

// RequireRole denies unless p holds one of roles.
func RequireRole(p model.Principal, roles ...model.Role) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return apperr.ErrForbidden
}

// CanManageCampaign allows the owning brand and admins.
func CanManageCampaign(p model.Principal, c *model.Campaign) error {
	if p.Role == model.RoleAdmin {
		return nil
	}
	if c != nil && p.Role == model.RoleBrand && p.ID == c.BrandID {
		return nil
	}
	return apperr.ErrForbidden
}

// CanActOnApplication checks one side of an application. The brand side
// needs campaign management rights; the influencer side must be the
// applicant.
func CanActOnApplication(p model.Principal, a *model.Application, c *model.Campaign, side Side) error {
	switch side {
	case BrandSide:
		return CanManageCampaign(p, c)
	case InfluencerSide:
		if a != nil && p.ID == a.InfluencerID {
			return nil
		}
	}
	return apperr.ErrForbidden
}

// CanViewApplication allows either side of the application.
func CanViewApplication(p model.Principal, a *model.Application, c *model.Campaign) error {
	if CanActOnApplication(p, a, c, BrandSide) == nil {
		return nil
	}
	return CanActOnApplication(p, a, c, InfluencerSide)
}

// CanActOnQRCode allows whoever manages the code's campaign and the
// influencer holding it.
func CanActOnQRCode(p model.Principal, q *model.QRCode, c *model.Campaign) error {
	if CanManageCampaign(p, c) == nil {
		return nil
	}
	if q != nil && p.ID == q.InfluencerID {
		return nil
	}
	return apperr.ErrForbidden
}
