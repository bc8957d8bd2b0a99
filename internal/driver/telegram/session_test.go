package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ex-warden/pkg/warden"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

type stubSessionClient struct {
	runErr error
}

func (c stubSessionClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.runErr != nil {
		return c.runErr
	}

	return fn(ctx)
}

func TestParseSessionConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "missing", raw: ``, wantErr: true},
		{name: "bad timeout", raw: `{"app_id":1,"app_hash":"hash","rpc_timeout":"bad"}`, wantErr: true},
		{name: "negative sync", raw: `{"app_id":1,"app_hash":"hash","sync_interval":"-1s"}`, wantErr: true},
		{name: "missing app id", raw: `{"app_hash":"hash"}`, wantErr: true},
		{name: "missing app hash", raw: `{"app_id":1}`, wantErr: true},
		{name: "defaults", raw: `{"app_id":1,"app_hash":"hash"}`},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseSessionConfig([]byte(testCase.raw))
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse session config failed: %v", err)
			}
			if cfg.appID != 1 || cfg.appHash != "hash" {
				t.Fatalf("app = %d/%q, want 1/hash", cfg.appID, cfg.appHash)
			}
			if cfg.syncInterval != defaultSyncInterval || cfg.rpcTimeout != defaultRPCTimeout {
				t.Fatalf("durations = %s/%s, want defaults", cfg.syncInterval, cfg.rpcTimeout)
			}
			if cfg.sessionFile != defaultSessionFile {
				t.Fatalf("session file = %q, want %q", cfg.sessionFile, defaultSessionFile)
			}
		})
	}
}

func TestNewSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("new session storage failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if _, err := newSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestSessionConnectsAfterInitialSync(t *testing.T) {
	t.Parallel()

	live, err := newLiveSystem(&stubLiveRPC{chats: []tg.ChatClass{newSupergroup(100, 1)}}, NewPeerCache())
	if err != nil {
		t.Fatalf("new live system failed: %v", err)
	}
	session, err := newSession("", nil, stubSessionClient{}, live, time.Hour)
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	if session.Name() != DriverType {
		t.Fatalf("name = %q, want %q", session.Name(), DriverType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- session.Start(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !session.Live().Connected() {
		if time.Now().After(deadline) {
			t.Fatal("session never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ok, err := session.Live().HasGuild(ctx, "100"); err != nil || !ok {
		t.Fatalf("has guild = %v, %v; want true", ok, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned error: %v", err)
	}
	if session.Live().Connected() {
		t.Fatal("still connected after stop")
	}
}

func TestSessionInitialSyncFailure(t *testing.T) {
	t.Parallel()

	live, err := newLiveSystem(&stubLiveRPC{chatsErr: tgerr.New(500, "INTERNAL")}, NewPeerCache())
	if err != nil {
		t.Fatalf("new live system failed: %v", err)
	}
	session, err := newSession("tg-main", nil, stubSessionClient{}, live, time.Hour)
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}

	err = session.Start(context.Background())
	if !errors.Is(err, warden.ErrLiveSystemUnreachable) {
		t.Fatalf("start error = %v, want unreachable", err)
	}
	if live.Connected() {
		t.Fatal("connected after failed sync")
	}
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	if _, err := newSession("x", nil, nil, &LiveSystem{}, time.Second); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := newSession("x", nil, stubSessionClient{}, nil, time.Second); err == nil {
		t.Fatal("expected nil live error")
	}
}
