package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/database"
	"github.com/tresgarza/log-u/internal/logging"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/repository"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc        *Service
	db         *database.DB
	now        time.Time
	brand      model.Principal
	influencer model.Principal
	campaign   *model.Campaign
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{db: db, now: baseTime}
	users := repository.NewUserRepository()
	brand := &model.User{Name: "Acme", Email: "brand@acme.test", Role: model.RoleBrand}
	if err := users.CreateUser(ctx, db.Conn, brand); err != nil {
		t.Fatalf("create brand: %v", err)
	}
	influencer := &model.User{Name: "Ivy", Email: "ivy@example.test", Role: model.RoleInfluencer}
	if err := users.CreateUser(ctx, db.Conn, influencer); err != nil {
		t.Fatalf("create influencer: %v", err)
	}
	env.brand = model.Principal{ID: brand.ID, Role: model.RoleBrand}
	env.influencer = model.Principal{ID: influencer.ID, Role: model.RoleInfluencer}
	env.campaign = env.addCampaign(t, brand.ID, model.CampaignActive)

	opts = append([]Option{
		WithClock(func() time.Time { return env.now }),
		WithLogger(logging.Discard()),
	}, opts...)
	env.svc = New(db.Conn, opts...)
	return env
}

func (e *testEnv) addCampaign(t *testing.T, brandID int64, status model.CampaignStatus) *model.Campaign {
	t.Helper()
	c := &model.Campaign{
		BrandID:   brandID,
		Name:      "Summer drop",
		Status:    status,
		StartDate: baseTime.Add(-24 * time.Hour),
		EndDate:   baseTime.Add(30 * 24 * time.Hour),
	}
	if err := repository.NewCampaignRepository().CreateCampaign(context.Background(), e.db.Conn, c); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func (e *testEnv) addUser(t *testing.T, name string, role model.Role) model.Principal {
	t.Helper()
	u := &model.User{Name: name, Email: name + "@example.test", Role: role}
	if err := repository.NewUserRepository().CreateUser(context.Background(), e.db.Conn, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return model.Principal{ID: u.ID, Role: role}
}

func (e *testEnv) setCampaignStatus(t *testing.T, status model.CampaignStatus) {
	t.Helper()
	if err := repository.NewCampaignRepository().SetStatus(context.Background(), e.db.Conn, e.campaign.ID, status); err != nil {
		t.Fatalf("set campaign status: %v", err)
	}
}

// approve walks the influencer's application to approved.
func (e *testEnv) approve(t *testing.T) *model.Application {
	t.Helper()
	ctx := context.Background()
	app, err := e.svc.SubmitApplication(ctx, e.influencer, SubmitApplicationRequest{CampaignID: e.campaign.ID})
	if err != nil {
		t.Fatalf("submit application: %v", err)
	}
	app, err = e.svc.SetApplicationStatus(ctx, e.brand, app.ID, model.ApplicationApproved, "")
	if err != nil {
		t.Fatalf("approve application: %v", err)
	}
	return app
}

func (e *testEnv) issue(t *testing.T, code string, ttl time.Duration) *model.QRCode {
	t.Helper()
	qr, err := e.svc.IssueQRCode(context.Background(), e.brand, IssueQRCodeRequest{
		CampaignID:      e.campaign.ID,
		InfluencerID:    e.influencer.ID,
		RedemptionValue: decimal.RequireFromString("25.00"),
		ExpiresAt:       e.now.Add(ttl),
		Code:            code,
	})
	if err != nil {
		t.Fatalf("issue QR code %q: %v", code, err)
	}
	return qr
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("err kind = %s (%v), want %s", got, err, kind)
	}
}

func TestEndToEndRedemption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	app, err := env.svc.SubmitApplication(ctx, env.influencer, SubmitApplicationRequest{
		CampaignID: env.campaign.ID,
		Message:    "Big fan",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if app.Status != model.ApplicationPending {
		t.Fatalf("status = %q, want pending", app.Status)
	}

	app, err = env.svc.SetApplicationStatus(ctx, env.brand, app.ID, model.ApplicationApproved, "welcome aboard")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if app.Status != model.ApplicationApproved {
		t.Fatalf("status = %q, want approved", app.Status)
	}

	qr := env.issue(t, "PROMO1", time.Hour)
	if qr.Status != model.QRCodeActive || qr.UsedAt != nil {
		t.Fatalf("issued code = %+v, want active and unused", qr)
	}

	env.now = env.now.Add(5 * time.Minute)
	res, err := env.svc.VerifyAndRedeem(ctx, "PROMO1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !res.RedemptionValue.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("redemption value = %s, want 25.00", res.RedemptionValue)
	}
	if res.QRCode.UsedAt == nil || !res.QRCode.UsedAt.Equal(env.now) {
		t.Errorf("used_at = %v, want %v", res.QRCode.UsedAt, env.now)
	}
	if res.Influencer.ID != env.influencer.ID {
		t.Errorf("influencer = %d, want %d", res.Influencer.ID, env.influencer.ID)
	}

	_, err = env.svc.VerifyAndRedeem(ctx, "PROMO1")
	wantKind(t, err, apperr.AlreadyRedeemed)
}

func TestVerifyAndRedeemUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	for _, code := range []string{"NOPE99", ""} {
		_, err := env.svc.VerifyAndRedeem(context.Background(), code)
		wantKind(t, err, apperr.NotFound)
	}
}
