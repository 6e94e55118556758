// Package apperr defines the error kinds the engine reports to its callers.
//
// Every expected outcome (a denied principal, a missing entity, a code that
// was already scanned) is an *Error with a Kind. Anything else is an
// infrastructure failure and is treated as Internal.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an expected failure.
type Kind int

const (
	Internal Kind = iota
	Forbidden
	NotFound
	InvalidArgument
	Conflict
	InvalidState
	AlreadyRedeemed
	Revoked
	Expired
	CampaignInactive
)

var kindNames = map[Kind]string{
	Internal:         "internal",
	Forbidden:        "forbidden",
	NotFound:         "not_found",
	InvalidArgument:  "invalid_argument",
	Conflict:         "conflict",
	InvalidState:     "invalid_state",
	AlreadyRedeemed:  "already_redeemed",
	Revoked:          "revoked",
	Expired:          "expired",
	CampaignInactive: "campaign_inactive",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is an expected, recoverable failure. Message is safe to show to the
// caller; Err, when set, is the underlying cause and is never shown.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, apperr.E(apperr.Expired, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E returns a new *Error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns a new *Error of the given kind carrying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the Kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-safe message for err. Infrastructure errors
// collapse to a fixed string.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal error"
}

// Stable messages for outcomes whose wording operators rely on.
var (
	ErrForbidden        = E(Forbidden, "you do not have permission to perform this action")
	ErrAlreadyRedeemed  = E(AlreadyRedeemed, "QR code has already been used")
	ErrRevoked          = E(Revoked, "QR code has been revoked")
	ErrExpired          = E(Expired, "QR code has expired")
	ErrCampaignInactive = E(CampaignInactive, "campaign is no longer active")
)
