package telegram

import (
	"errors"
	"testing"

	"ex-warden/pkg/warden"

	"github.com/gotd/td/tgerr"
)

func TestClassifyRPCError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want rpcErrorKind
	}{
		{name: "nil", err: nil, want: rpcErrorUnknown},
		{name: "plain", err: errors.New("boom"), want: rpcErrorUnknown},
		{name: "admin required", err: tgerr.New(400, "CHAT_ADMIN_REQUIRED"), want: rpcErrorPermission},
		{name: "forbidden code", err: tgerr.New(403, "SOMETHING_ELSE"), want: rpcErrorPermission},
		{name: "not participant", err: tgerr.New(400, "USER_NOT_PARTICIPANT"), want: rpcErrorNotFound},
		{name: "channel private", err: tgerr.New(400, "CHANNEL_PRIVATE"), want: rpcErrorNotFound},
		{name: "flood wait", err: tgerr.New(420, "FLOOD_WAIT_30"), want: rpcErrorUnavailable},
		{name: "internal", err: tgerr.New(500, "INTERNAL"), want: rpcErrorUnavailable},
		{name: "bad request", err: tgerr.New(400, "MESSAGE_EMPTY"), want: rpcErrorUnknown},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := classifyRPCError(testCase.err); got != testCase.want {
				t.Fatalf("classify = %d, want %d", got, testCase.want)
			}
		})
	}
}

func TestMapRPCError(t *testing.T) {
	t.Parallel()

	if mapRPCError("noop", nil) != nil {
		t.Fatal("nil error mapped to non-nil")
	}

	denied := mapRPCError("edit banned", tgerr.New(400, "RIGHT_FORBIDDEN"))
	if !errors.Is(denied, warden.ErrPermissionDenied) {
		t.Fatalf("mapped = %v, want permission denied", denied)
	}

	unreachable := mapRPCError("edit banned", tgerr.New(503, "TIMEOUT"))
	if !errors.Is(unreachable, warden.ErrLiveSystemUnreachable) {
		t.Fatalf("mapped = %v, want unreachable", unreachable)
	}

	plain := mapRPCError("edit banned", errors.New("socket closed"))
	if errors.Is(plain, warden.ErrPermissionDenied) || errors.Is(plain, warden.ErrLiveSystemUnreachable) {
		t.Fatalf("mapped = %v, want unclassified", plain)
	}
}
