// Package rpc exposes the engine as a connect service speaking JSON.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"connectrpc.com/connect"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/auth"
	"github.com/tresgarza/log-u/internal/metrics"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/service"
)

// ServiceName is the fully-qualified name of the engagement service.
const ServiceName = "logu.v1.EngagementService"

const (
	SubmitApplicationProcedure    = "/" + ServiceName + "/SubmitApplication"
	SetApplicationStatusProcedure = "/" + ServiceName + "/SetApplicationStatus"
	RateInfluencerProcedure       = "/" + ServiceName + "/RateInfluencer"
	RateBrandProcedure            = "/" + ServiceName + "/RateBrand"
	GetApplicationProcedure       = "/" + ServiceName + "/GetApplication"
	ListApplicationsProcedure     = "/" + ServiceName + "/ListApplications"
	IssueQRCodeProcedure          = "/" + ServiceName + "/IssueQRCode"
	VerifyAndRedeemProcedure      = "/" + ServiceName + "/VerifyAndRedeem"
	RevokeQRCodeProcedure         = "/" + ServiceName + "/RevokeQRCode"
	GetQRCodeProcedure            = "/" + ServiceName + "/GetQRCode"
	ListCampaignQRCodesProcedure  = "/" + ServiceName + "/ListCampaignQRCodes"
	ListMyQRCodesProcedure        = "/" + ServiceName + "/ListMyQRCodes"
)

// Engine is the set of operations served. *service.Service implements it.
type Engine interface {
	SubmitApplication(ctx context.Context, p model.Principal, req service.SubmitApplicationRequest) (*model.Application, error)
	SetApplicationStatus(ctx context.Context, p model.Principal, applicationID int64, status model.ApplicationStatus, feedback string) (*model.Application, error)
	RateInfluencer(ctx context.Context, p model.Principal, applicationID int64, rating int) (*model.Application, error)
	RateBrand(ctx context.Context, p model.Principal, applicationID int64, rating int) (*model.Application, error)
	GetApplication(ctx context.Context, p model.Principal, applicationID int64) (*model.Application, error)
	ListApplications(ctx context.Context, p model.Principal, filter model.ApplicationFilter) ([]model.Application, error)
	IssueQRCode(ctx context.Context, p model.Principal, req service.IssueQRCodeRequest) (*model.QRCode, error)
	VerifyAndRedeem(ctx context.Context, code string) (*model.Redemption, error)
	RevokeQRCode(ctx context.Context, p model.Principal, qrCodeID string) (*model.QRCode, error)
	GetQRCode(ctx context.Context, p model.Principal, qrCodeID string) (*model.QRCode, error)
	ListCampaignQRCodes(ctx context.Context, p model.Principal, campaignID int64) ([]model.QRCode, error)
	ListMyQRCodes(ctx context.Context, p model.Principal) ([]model.QRCode, error)
}

// Server adapts an Engine to connect handlers.
type Server struct {
	engine   Engine
	resolver auth.PrincipalResolver
	limiter  *PeerLimiter
	logger   *slog.Logger
}

// NewServer creates a Server. A nil limiter disables redeem rate limiting.
func NewServer(engine Engine, resolver auth.PrincipalResolver, limiter *PeerLimiter, logger *slog.Logger) *Server {
	return &Server{engine: engine, resolver: resolver, limiter: limiter, logger: logger}
}

// Handler returns the path prefix and handler to mount on a mux.
func (s *Server) Handler() (string, http.Handler) {
	opts := []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(s.gate()),
	}

	mux := http.NewServeMux()
	mux.Handle(SubmitApplicationProcedure, unary(s, SubmitApplicationProcedure, s.submitApplication, opts))
	mux.Handle(SetApplicationStatusProcedure, unary(s, SetApplicationStatusProcedure, s.setApplicationStatus, opts))
	mux.Handle(RateInfluencerProcedure, unary(s, RateInfluencerProcedure, s.rateInfluencer, opts))
	mux.Handle(RateBrandProcedure, unary(s, RateBrandProcedure, s.rateBrand, opts))
	mux.Handle(GetApplicationProcedure, unary(s, GetApplicationProcedure, s.getApplication, opts))
	mux.Handle(ListApplicationsProcedure, unary(s, ListApplicationsProcedure, s.listApplications, opts))
	mux.Handle(IssueQRCodeProcedure, unary(s, IssueQRCodeProcedure, s.issueQRCode, opts))
	mux.Handle(VerifyAndRedeemProcedure, unary(s, VerifyAndRedeemProcedure, s.verifyAndRedeem, opts))
	mux.Handle(RevokeQRCodeProcedure, unary(s, RevokeQRCodeProcedure, s.revokeQRCode, opts))
	mux.Handle(GetQRCodeProcedure, unary(s, GetQRCodeProcedure, s.getQRCode, opts))
	mux.Handle(ListCampaignQRCodesProcedure, unary(s, ListCampaignQRCodesProcedure, s.listCampaignQRCodes, opts))
	mux.Handle(ListMyQRCodesProcedure, unary(s, ListMyQRCodesProcedure, s.listMyQRCodes, opts))
	return "/" + ServiceName + "/", mux
}

func unary[Req, Res any](s *Server, procedure string, fn func(context.Context, *Req) (*Res, error), opts []connect.HandlerOption) http.Handler {
	return connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, toConnectError(ctx, s.logger, procedure, err)
			}
			return connect.NewResponse(res), nil
		}, opts...)
}

// gate authenticates every call except VerifyAndRedeem, which terminals make
// anonymously and which is rate limited per peer instead.
func (s *Server) gate() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().Procedure == VerifyAndRedeemProcedure {
				if s.limiter != nil && !s.limiter.Allow(peerHost(req.Peer().Addr)) {
					metrics.RedeemRateLimited.Inc()
					return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("too many scans from this terminal"))
				}
				return next(ctx, req)
			}

			p, err := s.resolver.Resolve(ctx, req.Header())
			if err != nil {
				s.logger.DebugContext(ctx, "rejected credentials", "procedure", req.Spec().Procedure, "error", err)
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrUnauthenticated)
			}
			return next(auth.WithPrincipal(ctx, p), req)
		}
	}
}

func peerHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func principal(ctx context.Context) model.Principal {
	p, _ := auth.FromContext(ctx)
	return p
}

func (s *Server) submitApplication(ctx context.Context, req *SubmitApplicationRequest) (*ApplicationResponse, error) {
	in := service.SubmitApplicationRequest{CampaignID: req.CampaignID, Message: req.Message}
	if req.Compensation != "" {
		c, err := parseAmount("compensation", req.Compensation)
		if err != nil {
			return nil, err
		}
		in.Compensation = &c
	}
	app, err := s.engine.SubmitApplication(ctx, principal(ctx), in)
	if err != nil {
		return nil, err
	}
	return &ApplicationResponse{Application: toApplication(app)}, nil
}

func (s *Server) setApplicationStatus(ctx context.Context, req *SetApplicationStatusRequest) (*ApplicationResponse, error) {
	app, err := s.engine.SetApplicationStatus(ctx, principal(ctx), req.ApplicationID,
		model.ApplicationStatus(req.Status), req.Feedback)
	if err != nil {
		return nil, err
	}
	return &ApplicationResponse{Application: toApplication(app)}, nil
}

func (s *Server) rateInfluencer(ctx context.Context, req *RateRequest) (*ApplicationResponse, error) {
	app, err := s.engine.RateInfluencer(ctx, principal(ctx), req.ApplicationID, req.Rating)
	if err != nil {
		return nil, err
	}
	return &ApplicationResponse{Application: toApplication(app)}, nil
}

func (s *Server) rateBrand(ctx context.Context, req *RateRequest) (*ApplicationResponse, error) {
	app, err := s.engine.RateBrand(ctx, principal(ctx), req.ApplicationID, req.Rating)
	if err != nil {
		return nil, err
	}
	return &ApplicationResponse{Application: toApplication(app)}, nil
}

func (s *Server) getApplication(ctx context.Context, req *GetApplicationRequest) (*ApplicationResponse, error) {
	app, err := s.engine.GetApplication(ctx, principal(ctx), req.ApplicationID)
	if err != nil {
		return nil, err
	}
	return &ApplicationResponse{Application: toApplication(app)}, nil
}

func (s *Server) listApplications(ctx context.Context, req *ListApplicationsRequest) (*ListApplicationsResponse, error) {
	apps, err := s.engine.ListApplications(ctx, principal(ctx), model.ApplicationFilter{
		CampaignID: req.CampaignID,
		Status:     model.ApplicationStatus(req.Status),
	})
	if err != nil {
		return nil, err
	}
	return &ListApplicationsResponse{Applications: toApplications(apps)}, nil
}

func (s *Server) issueQRCode(ctx context.Context, req *IssueQRCodeRequest) (*QRCodeResponse, error) {
	value, err := parseAmount("redemption_value", req.RedemptionValue)
	if err != nil {
		return nil, err
	}
	if req.ExpiresAt.IsZero() {
		return nil, apperr.E(apperr.InvalidArgument, "expires_at is required")
	}
	qr, err := s.engine.IssueQRCode(ctx, principal(ctx), service.IssueQRCodeRequest{
		CampaignID:      req.CampaignID,
		InfluencerID:    req.InfluencerID,
		RedemptionValue: value,
		ExpiresAt:       req.ExpiresAt,
		Code:            req.Code,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return &QRCodeResponse{QRCode: toQRCode(qr)}, nil
}

func (s *Server) verifyAndRedeem(ctx context.Context, req *VerifyAndRedeemRequest) (*VerifyAndRedeemResponse, error) {
	res, err := s.engine.VerifyAndRedeem(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	return &VerifyAndRedeemResponse{
		QRCode:          toQRCode(res.QRCode),
		Influencer:      &Influencer{ID: res.Influencer.ID, Name: res.Influencer.Name},
		RedemptionValue: res.RedemptionValue.StringFixed(2),
	}, nil
}

func (s *Server) revokeQRCode(ctx context.Context, req *QRCodeRequest) (*QRCodeResponse, error) {
	qr, err := s.engine.RevokeQRCode(ctx, principal(ctx), req.QRCodeID)
	if err != nil {
		return nil, err
	}
	return &QRCodeResponse{QRCode: toQRCode(qr)}, nil
}

func (s *Server) getQRCode(ctx context.Context, req *QRCodeRequest) (*QRCodeResponse, error) {
	qr, err := s.engine.GetQRCode(ctx, principal(ctx), req.QRCodeID)
	if err != nil {
		return nil, err
	}
	return &QRCodeResponse{QRCode: toQRCode(qr)}, nil
}

func (s *Server) listCampaignQRCodes(ctx context.Context, req *ListCampaignQRCodesRequest) (*ListQRCodesResponse, error) {
	codes, err := s.engine.ListCampaignQRCodes(ctx, principal(ctx), req.CampaignID)
	if err != nil {
		return nil, err
	}
	return &ListQRCodesResponse{QRCodes: toQRCodes(codes)}, nil
}

func (s *Server) listMyQRCodes(ctx context.Context, _ *ListMyQRCodesRequest) (*ListQRCodesResponse, error) {
	codes, err := s.engine.ListMyQRCodes(ctx, principal(ctx))
	if err != nil {
		return nil, err
	}
	return &ListQRCodesResponse{QRCodes: toQRCodes(codes)}, nil
}
