package telegram

import (
	"errors"
	"fmt"
	"strings"

	"ex-warden/pkg/warden"

	"github.com/gotd/td/tgerr"
)

// rpcErrorKind is the coarse class of one failed Telegram RPC.
type rpcErrorKind int

const (
	rpcErrorUnknown rpcErrorKind = iota
	rpcErrorPermission
	rpcErrorNotFound
	rpcErrorUnavailable
)

var permissionErrorTypes = []string{
	"CHAT_ADMIN_REQUIRED",
	"CHAT_WRITE_FORBIDDEN",
	"RIGHT_FORBIDDEN",
	"USER_ADMIN_INVALID",
	"CHAT_FORBIDDEN",
}

var notFoundErrorTypes = []string{
	"USER_NOT_PARTICIPANT",
	"PARTICIPANT_ID_INVALID",
	"USER_ID_INVALID",
	"PEER_ID_INVALID",
	"CHANNEL_INVALID",
	"CHANNEL_PRIVATE",
}

// mapRPCError wraps one gotd error with the warden sentinel matching its class.
func mapRPCError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch classifyRPCError(err) {
	case rpcErrorPermission:
		return fmt.Errorf("%w: %s: %w", warden.ErrPermissionDenied, operation, err)
	case rpcErrorUnavailable:
		return fmt.Errorf("%w: %s: %w", warden.ErrLiveSystemUnreachable, operation, err)
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}

// isNotFound reports whether err means the addressed peer is gone.
func isNotFound(err error) bool {
	return classifyRPCError(err) == rpcErrorNotFound
}

func classifyRPCError(err error) rpcErrorKind {
	if err == nil {
		return rpcErrorUnknown
	}
	if _, ok := tgerr.AsFloodWait(err); ok {
		return rpcErrorUnavailable
	}
	if errors.Is(err, warden.ErrPermissionDenied) {
		return rpcErrorPermission
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return rpcErrorUnknown
	}
	if tgerr.Is(err, permissionErrorTypes...) {
		return rpcErrorPermission
	}
	if tgerr.Is(err, notFoundErrorTypes...) {
		return rpcErrorNotFound
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return rpcErrorUnavailable
	}

	switch {
	case rpcErr.Code == 403:
		return rpcErrorPermission
	case rpcErr.Code == 303, rpcErr.Code >= 500:
		return rpcErrorUnavailable
	}

	return rpcErrorUnknown
}
