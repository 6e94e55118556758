// Package auth resolves the calling principal from request credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tresgarza/log-u/internal/model"
)

// ErrUnauthenticated is returned when a request carries no usable credentials.
var ErrUnauthenticated = errors.New("missing or invalid credentials")

// Claims is the bearer token payload.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// PrincipalResolver yields the principal a request acts as.
type PrincipalResolver interface {
	Resolve(ctx context.Context, header http.Header) (model.Principal, error)
}

// JWTResolver verifies HS256 bearer tokens.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTResolver returns a resolver accepting tokens signed with secret and
// issued by issuer.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Resolve reads the Authorization header. Any failure wraps
// ErrUnauthenticated.
func (r *JWTResolver) Resolve(_ context.Context, header http.Header) (model.Principal, error) {
	// an empty HMAC key verifies tokens anyone can sign
	if len(r.secret) == 0 {
		return model.Principal{}, fmt.Errorf("%w: no signing secret configured", ErrUnauthenticated)
	}
	raw, ok := bearerToken(header)
	if !ok {
		return model.Principal{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := r.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	})
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	p := model.Principal{ID: claims.UserID, Role: model.Role(claims.Role)}
	if p.ID <= 0 || !p.Role.Valid() {
		return model.Principal{}, fmt.Errorf("%w: bad subject", ErrUnauthenticated)
	}
	return p, nil
}

func bearerToken(header http.Header) (string, bool) {
	v := header.Get("Authorization")
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Sign mints a token for p. The server never issues tokens; this exists for
// tooling and tests.
func Sign(secret, issuer string, p model.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: p.ID,
		Role:   string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(model.Principal)
	return p, ok
}
