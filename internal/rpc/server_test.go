package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/auth"
	"github.com/tresgarza/log-u/internal/database"
	"github.com/tresgarza/log-u/internal/logging"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/repository"
	"github.com/tresgarza/log-u/internal/service"
)

const (
	testSecret = "rpc-test-secret"
	testIssuer = "logu"
)

type testServer struct {
	url        string
	client     *http.Client
	brand      model.Principal
	influencer model.Principal
	campaignID int64
}

func newTestServer(t *testing.T, limiter *PeerLimiter) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "rpc.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := repository.NewUserRepository()
	brand := &model.User{Name: "Acme", Email: "brand@acme.test", Role: model.RoleBrand}
	influencer := &model.User{Name: "Ivy", Email: "ivy@example.test", Role: model.RoleInfluencer}
	for _, u := range []*model.User{brand, influencer} {
		if err := users.CreateUser(ctx, db.Conn, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	campaign := &model.Campaign{
		BrandID:   brand.ID,
		Name:      "Launch",
		Status:    model.CampaignActive,
		StartDate: time.Now().UTC().Add(-time.Hour),
		EndDate:   time.Now().UTC().Add(24 * time.Hour),
	}
	if err := repository.NewCampaignRepository().CreateCampaign(ctx, db.Conn, campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	svc := service.New(db.Conn, service.WithLogger(logging.Discard()))
	srv := NewServer(svc, auth.NewJWTResolver(testSecret, testIssuer), limiter, logging.Discard())
	mux := http.NewServeMux()
	path, handler := srv.Handler()
	mux.Handle(path, handler)

	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)

	return &testServer{
		url:        hs.URL,
		client:     hs.Client(),
		brand:      model.Principal{ID: brand.ID, Role: model.RoleBrand},
		influencer: model.Principal{ID: influencer.ID, Role: model.RoleInfluencer},
		campaignID: campaign.ID,
	}
}

func call[Req, Res any](t *testing.T, ts *testServer, procedure string, as *model.Principal, msg *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](ts.client, ts.url+procedure, connect.WithCodec(JSONCodec{}))
	req := connect.NewRequest(msg)
	if as != nil {
		token, err := auth.Sign(testSecret, testIssuer, *as, time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header().Set("Authorization", "Bearer "+token)
	}
	res, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func wantCode(t *testing.T, err error, code connect.Code, kind apperr.Kind) {
	t.Helper()
	if connect.CodeOf(err) != code {
		t.Fatalf("code = %v (%v), want %v", connect.CodeOf(err), err, code)
	}
	if got, ok := KindOf(err); !ok || got != kind {
		t.Errorf("error kind = %v (ok=%v), want %v", got, ok, kind)
	}
}

// approvedCode drives the flow up to an issued code and returns it.
func approvedCode(t *testing.T, ts *testServer, code string) *QRCode {
	t.Helper()
	app, err := call[SubmitApplicationRequest, ApplicationResponse](t, ts, SubmitApplicationProcedure, &ts.influencer,
		&SubmitApplicationRequest{CampaignID: ts.campaignID, Message: "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := call[SetApplicationStatusRequest, ApplicationResponse](t, ts, SetApplicationStatusProcedure, &ts.brand,
		&SetApplicationStatusRequest{ApplicationID: app.Application.ID, Status: "approved"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	issued, err := call[IssueQRCodeRequest, QRCodeResponse](t, ts, IssueQRCodeProcedure, &ts.brand, &IssueQRCodeRequest{
		CampaignID:      ts.campaignID,
		InfluencerID:    ts.influencer.ID,
		RedemptionValue: "25.00",
		ExpiresAt:       time.Now().Add(time.Hour),
		Code:            code,
		Metadata:        map[string]any{"channel": "instagram"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return issued.QRCode
}

func TestRedeemOverRPC(t *testing.T) {
	ts := newTestServer(t, nil)
	qr := approvedCode(t, ts, "PROMO1")
	if qr.RedemptionValue != "25.00" || qr.Status != "active" {
		t.Fatalf("issued = %+v", qr)
	}

	// terminals call without credentials
	res, err := call[VerifyAndRedeemRequest, VerifyAndRedeemResponse](t, ts, VerifyAndRedeemProcedure, nil,
		&VerifyAndRedeemRequest{Code: "PROMO1"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.RedemptionValue != "25.00" {
		t.Errorf("redemption_value = %q, want 25.00", res.RedemptionValue)
	}
	if res.Influencer.ID != ts.influencer.ID || res.QRCode.UsedAt == nil {
		t.Errorf("response = %+v", res)
	}
	if res.QRCode.Metadata["channel"] != "instagram" {
		t.Errorf("metadata = %v", res.QRCode.Metadata)
	}

	_, err = call[VerifyAndRedeemRequest, VerifyAndRedeemResponse](t, ts, VerifyAndRedeemProcedure, nil,
		&VerifyAndRedeemRequest{Code: "PROMO1"})
	wantCode(t, err, connect.CodeAlreadyExists, apperr.AlreadyRedeemed)

	_, err = call[VerifyAndRedeemRequest, VerifyAndRedeemResponse](t, ts, VerifyAndRedeemProcedure, nil,
		&VerifyAndRedeemRequest{Code: "MISSING"})
	wantCode(t, err, connect.CodeNotFound, apperr.NotFound)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	qr := approvedCode(t, ts, "PROMO2")

	_, err := call[QRCodeRequest, QRCodeResponse](t, ts, RevokeQRCodeProcedure, &ts.influencer,
		&QRCodeRequest{QRCodeID: qr.ID})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err = call[VerifyAndRedeemRequest, VerifyAndRedeemResponse](t, ts, VerifyAndRedeemProcedure, nil,
		&VerifyAndRedeemRequest{Code: "PROMO2"})
	wantCode(t, err, connect.CodeFailedPrecondition, apperr.Revoked)

	_, err = call[SubmitApplicationRequest, ApplicationResponse](t, ts, SubmitApplicationProcedure, &ts.brand,
		&SubmitApplicationRequest{CampaignID: ts.campaignID})
	wantCode(t, err, connect.CodePermissionDenied, apperr.Forbidden)

	_, err = call[SubmitApplicationRequest, ApplicationResponse](t, ts, SubmitApplicationProcedure, &ts.influencer,
		&SubmitApplicationRequest{CampaignID: ts.campaignID})
	wantCode(t, err, connect.CodeAlreadyExists, apperr.Conflict)

	_, err = call[IssueQRCodeRequest, QRCodeResponse](t, ts, IssueQRCodeProcedure, &ts.brand, &IssueQRCodeRequest{
		CampaignID:      ts.campaignID,
		InfluencerID:    ts.influencer.ID,
		RedemptionValue: "twelve",
		ExpiresAt:       time.Now().Add(time.Hour),
	})
	wantCode(t, err, connect.CodeInvalidArgument, apperr.InvalidArgument)

	_, err = call[RateRequest, ApplicationResponse](t, ts, RateBrandProcedure, &ts.influencer,
		&RateRequest{ApplicationID: 1, Rating: 5})
	wantCode(t, err, connect.CodeFailedPrecondition, apperr.InvalidState)
}

func TestAuthenticationRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := call[ListMyQRCodesRequest, ListQRCodesResponse](t, ts, ListMyQRCodesProcedure, nil, &ListMyQRCodesRequest{})
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Fatalf("code = %v, want unauthenticated", connect.CodeOf(err))
	}

	mine, err := call[ListMyQRCodesRequest, ListQRCodesResponse](t, ts, ListMyQRCodesProcedure, &ts.influencer, &ListMyQRCodesRequest{})
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine.QRCodes) != 0 {
		t.Errorf("got %d codes, want 0", len(mine.QRCodes))
	}
}

func TestListsOverRPC(t *testing.T) {
	ts := newTestServer(t, nil)
	qr := approvedCode(t, ts, "LIST01")

	apps, err := call[ListApplicationsRequest, ListApplicationsResponse](t, ts, ListApplicationsProcedure, &ts.brand,
		&ListApplicationsRequest{Status: "approved"})
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps.Applications) != 1 {
		t.Errorf("got %d applications, want 1", len(apps.Applications))
	}

	codes, err := call[ListCampaignQRCodesRequest, ListQRCodesResponse](t, ts, ListCampaignQRCodesProcedure, &ts.brand,
		&ListCampaignQRCodesRequest{CampaignID: ts.campaignID})
	if err != nil {
		t.Fatalf("list campaign codes: %v", err)
	}
	if len(codes.QRCodes) != 1 || codes.QRCodes[0].ID != qr.ID {
		t.Errorf("codes = %+v, want [%s]", codes.QRCodes, qr.ID)
	}

	got, err := call[QRCodeRequest, QRCodeResponse](t, ts, GetQRCodeProcedure, &ts.influencer, &QRCodeRequest{QRCodeID: qr.ID})
	if err != nil {
		t.Fatalf("get code: %v", err)
	}
	if got.QRCode.Code != "LIST01" {
		t.Errorf("code = %q, want LIST01", got.QRCode.Code)
	}
}

func TestRedeemRateLimited(t *testing.T) {
	ts := newTestServer(t, NewPeerLimiter(0.001, 1, time.Minute))

	_, err := call[VerifyAndRedeemRequest, VerifyAndRedeemResponse](t, ts, VerifyAndRedeemProcedure, nil,
		&VerifyAndRedeemRequest{Code: "NOPE01"})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("first scan code = %v, want not found", connect.CodeOf(err))
	}
	_, err = call[VerifyAndRedeemRequest, VerifyAndRedeemResponse](t, ts, VerifyAndRedeemProcedure, nil,
		&VerifyAndRedeemRequest{Code: "NOPE01"})
	if connect.CodeOf(err) != connect.CodeResourceExhausted {
		t.Fatalf("second scan code = %v, want resource exhausted", connect.CodeOf(err))
	}
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	err := toConnectError(context.Background(), logging.Discard(), "/x", errors.New("pq: connection refused"))
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %T, want *connect.Error", err)
	}
	if cerr.Code() != connect.CodeInternal || cerr.Message() != "internal error" {
		t.Errorf("got %v %q, want internal \"internal error\"", cerr.Code(), cerr.Message())
	}
	if cerr.Meta().Get(ErrorKindHeader) != "internal" {
		t.Errorf("kind header = %q", cerr.Meta().Get(ErrorKindHeader))
	}
}

func TestCodeOf(t *testing.T) {
	tests := map[apperr.Kind]connect.Code{
		apperr.Forbidden:        connect.CodePermissionDenied,
		apperr.NotFound:         connect.CodeNotFound,
		apperr.InvalidArgument:  connect.CodeInvalidArgument,
		apperr.Conflict:         connect.CodeAlreadyExists,
		apperr.AlreadyRedeemed:  connect.CodeAlreadyExists,
		apperr.InvalidState:     connect.CodeFailedPrecondition,
		apperr.Revoked:          connect.CodeFailedPrecondition,
		apperr.Expired:          connect.CodeFailedPrecondition,
		apperr.CampaignInactive: connect.CodeFailedPrecondition,
		apperr.Internal:         connect.CodeInternal,
	}
	for kind, want := range tests {
		if got := CodeOf(kind); got != want {
			t.Errorf("CodeOf(%s) = %v, want %v", kind, got, want)
		}
	}
}
