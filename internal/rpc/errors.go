package rpc

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/tresgarza/log-u/internal/apperr"
)

// ErrorKindHeader carries the apperr kind on every error response so a
// terminal can tell a used code from a revoked or expired one.
const ErrorKindHeader = "Error-Kind"

var kindCodes = map[apperr.Kind]connect.Code{
	apperr.Forbidden:        connect.CodePermissionDenied,
	apperr.NotFound:         connect.CodeNotFound,
	apperr.InvalidArgument:  connect.CodeInvalidArgument,
	apperr.Conflict:         connect.CodeAlreadyExists,
	apperr.AlreadyRedeemed:  connect.CodeAlreadyExists,
	apperr.InvalidState:     connect.CodeFailedPrecondition,
	apperr.Revoked:          connect.CodeFailedPrecondition,
	apperr.Expired:          connect.CodeFailedPrecondition,
	apperr.CampaignInactive: connect.CodeFailedPrecondition,
}

// CodeOf returns the connect code for an apperr kind.
func CodeOf(kind apperr.Kind) connect.Code {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return connect.CodeInternal
}

// KindOf recovers the apperr kind from an error returned by a client.
func KindOf(err error) (apperr.Kind, bool) {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return apperr.Internal, false
	}
	name := cerr.Meta().Get(ErrorKindHeader)
	for kind := apperr.Internal; kind <= apperr.CampaignInactive; kind++ {
		if kind.String() == name {
			return kind, true
		}
	}
	return apperr.Internal, false
}

func toConnectError(ctx context.Context, logger *slog.Logger, procedure string, err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		logger.ErrorContext(ctx, "request failed", "procedure", procedure, "error", err)
	}
	cerr = connect.NewError(CodeOf(kind), errors.New(apperr.Message(err)))
	cerr.Meta().Set(ErrorKindHeader, kind.String())
	return cerr
}
