package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/qrtoken"
	"github.com/tresgarza/log-u/internal/repository"
)

// Service runs the application and QR code lifecycles. Every operation is
// request scoped and completes inside one database transaction.
type Service struct {
	db           *sqlx.DB
	userRepo     *repository.UserRepository
	campaignRepo *repository.CampaignRepository
	appRepo      *repository.ApplicationRepository
	qrRepo       qrCodeStore
	tokens       *qrtoken.Generator
	now          func() time.Time
	logger       *slog.Logger
}

// qrCodeStore is the QR code storage the lifecycle runs on. Status changes
// are guarded updates that report whether they won.
type qrCodeStore interface {
	CreateQRCode(ctx context.Context, db repository.DBExecutor, qr *model.QRCode) (bool, error)
	GetByID(ctx context.Context, db repository.DBExecutor, id string) (*model.QRCode, error)
	GetByCode(ctx context.Context, db repository.DBExecutor, code string) (*model.QRCode, error)
	MarkUsed(ctx context.Context, db repository.DBExecutor, id string, usedAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, db repository.DBExecutor, id string, now time.Time) (bool, error)
	Revoke(ctx context.Context, db repository.DBExecutor, id string, from model.QRCodeStatus, now time.Time) (bool, error)
	ExpireOverdue(ctx context.Context, db repository.DBExecutor, now time.Time) (int64, error)
	ListByCampaign(ctx context.Context, db repository.DBExecutor, campaignID, influencerID int64) ([]model.QRCode, error)
	ListByInfluencer(ctx context.Context, db repository.DBExecutor, influencerID int64) ([]model.QRCode, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenGenerator overrides the QR token generator.
func WithTokenGenerator(g *qrtoken.Generator) Option {
	return func(s *Service) { s.tokens = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service backed by db.
func New(db *sqlx.DB, opts ...Option) *Service {
	s := &Service{
		db:           db,
		userRepo:     repository.NewUserRepository(),
		campaignRepo: repository.NewCampaignRepository(),
		appRepo:      repository.NewApplicationRepository(),
		qrRepo:       repository.NewQRCodeRepository(),
		tokens:       qrtoken.NewGenerator(),
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current time at the precision the database keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// notFound converts a repository miss into a NotFound error with msg and
// passes any other error through.
func notFound(err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, msg, err)
	}
	return err
}
