package telegram

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"ex-warden/pkg/warden"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// sessionClient abstracts one gotd connection lifecycle.
type sessionClient interface {
	// Run connects, authenticates and executes fn while the connection is up.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// Session is the kernel driver owning the Telegram connection.
//
// The live system it exposes reports connected only between a successful
// initial chat sync and the end of the gotd run callback.
type Session struct {
	name         string
	logger       *slog.Logger
	client       sessionClient
	live         *LiveSystem
	syncInterval time.Duration
}

var _ warden.Driver = (*Session)(nil)

// BuildSessionFromConfig builds one Telegram session driver from config payload.
func BuildSessionFromConfig(name string, logger *slog.Logger, rawConfig []byte) (*Session, error) {
	cfg, err := parseSessionConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("parse telegram session config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	storage, err := newSessionStorage(cfg.sessionFile)
	if err != nil {
		return nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		SessionStorage: storage,
	})

	live, err := newLiveSystem(
		newGotdLiveRPC(client),
		NewPeerCache(),
		WithLiveLogger(logger),
		WithRPCTimeout(cfg.rpcTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram live system: %w", err)
	}

	return newSession(
		name,
		logger,
		authenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateClient(ctx, logger, client, cfg)
			},
		},
		live,
		cfg.syncInterval,
	)
}

func newSession(
	name string,
	logger *slog.Logger,
	client sessionClient,
	live *LiveSystem,
	syncInterval time.Duration,
) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram session: nil client")
	}
	if live == nil {
		return nil, fmt.Errorf("new telegram session: nil live system")
	}
	if name == "" {
		name = DriverType
	}
	if logger == nil {
		logger = slog.Default()
	}
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}

	return &Session{
		name:         name,
		logger:       logger,
		client:       client,
		live:         live,
		syncInterval: syncInterval,
	}, nil
}

// Name returns the driver identity exposed to the kernel.
func (s *Session) Name() string {
	return s.name
}

// Live returns the live system backed by this session.
func (s *Session) Live() *LiveSystem {
	return s.live
}

// Start runs the session until ctx is canceled or the connection fails.
func (s *Session) Start(ctx context.Context) error {
	defer s.live.setConnected(false)

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		if err := s.live.Sync(runCtx); err != nil {
			return fmt.Errorf("initial chat sync: %w", err)
		}
		s.live.setConnected(true)
		defer s.live.setConnected(false)
		s.logger.InfoContext(runCtx, "telegram session connected", "driver", s.name, "guilds", s.live.peers.Len())

		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-ticker.C:
				if err := s.live.Sync(runCtx); err != nil {
					s.logger.WarnContext(runCtx, "telegram chat sync failed", "driver", s.name, "error", err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("run telegram session %s: %w", s.name, err)
	}

	return nil
}

// Shutdown is a no-op because the connection is bound to the Start context.
func (s *Session) Shutdown(context.Context) error {
	return nil
}

type authenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes the client runtime and authenticates before invoking fn.
func (c authenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return fmt.Errorf("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		return fn(runCtx)
	}); err != nil {
		return fmt.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

func authenticateClient(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedSessionConfig,
) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", cfg.sessionFile)
		return nil
	}

	if cfg.phone == "" {
		return fmt.Errorf("telegram phone number is required for login; configure telegram.phone")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		code, err := loginCode(cfg.code)
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.phone, codeAuthenticator)
	if cfg.password != "" {
		authenticator = auth.Constant(cfg.phone, cfg.password, codeAuthenticator)
	}

	if err := client.Auth().IfNecessary(authCtx, auth.NewFlow(authenticator, auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	logger.InfoContext(ctx, "telegram authorized with user flow", "session_file", cfg.sessionFile)

	return nil
}

func loginCode(configuredCode string) (string, error) {
	if configuredCode != "" {
		return configuredCode, nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("telegram.code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
