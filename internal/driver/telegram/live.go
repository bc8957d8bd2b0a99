package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ex-warden/pkg/warden"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const defaultRPCTimeout = 10 * time.Second

// liveConfig contains runtime controls for live-system RPCs.
type liveConfig struct {
	logger     *slog.Logger
	rpcTimeout time.Duration
}

// LiveOption mutates live-system configuration.
type LiveOption func(*liveConfig)

// WithLiveLogger configures structured logging for side effects.
func WithLiveLogger(logger *slog.Logger) LiveOption {
	return func(cfg *liveConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRPCTimeout configures the timeout applied to each RPC call.
func WithRPCTimeout(timeout time.Duration) LiveOption {
	return func(cfg *liveConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// LiveSystem maps warden live-system operations onto Telegram supergroups.
//
// A guild is a supergroup and its only channel is the supergroup itself.
// The muted role is a send-messages restriction, and channel overwrites edit
// either the default banned rights (guild target) or one member's rights.
type LiveSystem struct {
	cfg       liveConfig
	rpc       liveRPC
	peers     *PeerCache
	connected atomic.Bool
}

var _ warden.LiveSystem = (*LiveSystem)(nil)

func newLiveSystem(rpc liveRPC, peers *PeerCache, options ...LiveOption) (*LiveSystem, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram live system: nil rpc")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram live system: nil peer cache")
	}

	cfg := liveConfig{
		logger:     slog.Default(),
		rpcTimeout: defaultRPCTimeout,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &LiveSystem{
		cfg:   cfg,
		rpc:   rpc,
		peers: peers,
	}, nil
}

// Connected reports whether the session is authorized and synced.
func (l *LiveSystem) Connected() bool {
	return l.connected.Load()
}

func (l *LiveSystem) setConnected(connected bool) {
	l.connected.Store(connected)
}

// Sync refreshes the tracked supergroups from the session dialog list.
func (l *LiveSystem) Sync(ctx context.Context) error {
	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	chats, err := l.rpc.AllChats(callCtx)
	if err != nil {
		return mapRPCError("sync chats", err)
	}
	tracked := l.peers.ReplaceChats(chats)
	l.cfg.logger.DebugContext(ctx, "telegram chats synced", "guilds", tracked)

	return nil
}

// HasGuild reports whether the session belongs to the supergroup.
func (l *LiveSystem) HasGuild(_ context.Context, guildID string) (bool, error) {
	if !l.Connected() {
		return false, warden.ErrLiveSystemUnreachable
	}
	_, ok := l.peers.Channel(guildID)

	return ok, nil
}

// IsMember reports whether user currently participates in the supergroup.
func (l *LiveSystem) IsMember(ctx context.Context, guildID string, userID string) (bool, error) {
	participant, found, err := l.participant(ctx, guildID, userID)
	if err != nil || !found {
		return false, err
	}

	switch typed := participant.(type) {
	case *tg.ChannelParticipantLeft:
		return false, nil
	case *tg.ChannelParticipantBanned:
		return !typed.Left, nil
	default:
		return true, nil
	}
}

// HasChannel reports whether channel is the supergroup itself.
func (l *LiveSystem) HasChannel(ctx context.Context, guildID string, channelID string) (bool, error) {
	if channelID != guildID {
		return false, nil
	}

	return l.HasGuild(ctx, guildID)
}

// HasPermission reports whether the session holds permission in the supergroup.
func (l *LiveSystem) HasPermission(ctx context.Context, guildID string, permission warden.Permission) (bool, error) {
	channel, err := l.channel(guildID)
	if err != nil || channel == nil {
		return false, err
	}

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	participant, _, err := l.rpc.Participant(callCtx, channel, &tg.InputPeerSelf{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapRPCError("get self participant", err)
	}

	switch typed := participant.(type) {
	case *tg.ChannelParticipantCreator:
		return true, nil
	case *tg.ChannelParticipantAdmin:
		return adminAllows(typed.AdminRights, permission), nil
	default:
		return false, nil
	}
}

// RemoveRole lifts a send-messages restriction when role is the muted role.
//
// Other roles have no Telegram counterpart and are treated as already absent.
// Banned members are left untouched so a pending ban expiry still applies.
func (l *LiveSystem) RemoveRole(ctx context.Context, guildID string, userID string, role string, reason string) error {
	if role != warden.MutedRole {
		l.cfg.logger.DebugContext(ctx, "telegram remove role ignored", "guild_id", guildID, "role", role)
		return nil
	}

	participant, found, err := l.participant(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	banned, ok := participant.(*tg.ChannelParticipantBanned)
	if !ok || banned.Left || banned.BannedRights.ViewMessages {
		return nil
	}

	if err := l.editBanned(ctx, guildID, userID, tg.ChatBannedRights{}); err != nil {
		return fmt.Errorf("remove role %s: %w", role, err)
	}
	l.logSideEffect(ctx, "remove_role", guildID, userID, reason)

	return nil
}

// Unban clears every restriction of user in the supergroup.
func (l *LiveSystem) Unban(ctx context.Context, guildID string, userID string, reason string) error {
	if err := l.editBanned(ctx, guildID, userID, tg.ChatBannedRights{}); err != nil {
		return fmt.Errorf("unban: %w", err)
	}
	l.logSideEffect(ctx, "unban", guildID, userID, reason)

	return nil
}

// SetChannelOverwrite applies one send-messages overwrite.
func (l *LiveSystem) SetChannelOverwrite(ctx context.Context, overwrite warden.ChannelOverwrite) error {
	if overwrite.ChannelID != overwrite.GuildID {
		return fmt.Errorf("set channel overwrite: unknown channel %s in guild %s", overwrite.ChannelID, overwrite.GuildID)
	}
	deny := overwrite.SendMessages == warden.OverwriteDeny

	if overwrite.TargetID != overwrite.GuildID {
		if err := l.editBanned(ctx, overwrite.GuildID, overwrite.TargetID, tg.ChatBannedRights{SendMessages: deny}); err != nil {
			return fmt.Errorf("set channel overwrite: %w", err)
		}
		l.logSideEffect(ctx, "set_overwrite", overwrite.GuildID, overwrite.TargetID, overwrite.Reason)
		return nil
	}

	if !l.Connected() {
		return warden.ErrLiveSystemUnreachable
	}
	peer, ok := l.peers.ChannelPeer(overwrite.GuildID)
	if !ok {
		return fmt.Errorf("set channel overwrite: unknown guild %s", overwrite.GuildID)
	}
	rights, _ := l.peers.DefaultRights(overwrite.GuildID)
	rights.SendMessages = deny

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()
	if err := l.rpc.EditDefaultBannedRights(callCtx, peer, rights); err != nil && !tgerr.Is(err, "CHAT_NOT_MODIFIED") {
		return fmt.Errorf("set channel overwrite: %w", mapRPCError("edit default banned rights", err))
	}
	l.peers.RememberDefaultRights(overwrite.GuildID, rights)
	l.logSideEffect(ctx, "set_overwrite", overwrite.GuildID, overwrite.TargetID, overwrite.Reason)

	return nil
}

func (l *LiveSystem) participant(
	ctx context.Context,
	guildID string,
	userID string,
) (tg.ChannelParticipantClass, bool, error) {
	channel, err := l.channel(guildID)
	if err != nil {
		return nil, false, err
	}
	if channel == nil {
		return nil, false, nil
	}
	user, err := l.peers.User(userID)
	if err != nil {
		return nil, false, err
	}

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	participant, users, err := l.rpc.Participant(callCtx, channel, user)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, mapRPCError("get participant", err)
	}
	l.peers.RememberUsers(users)

	return participant, true, nil
}

func (l *LiveSystem) editBanned(ctx context.Context, guildID string, userID string, rights tg.ChatBannedRights) error {
	channel, err := l.channel(guildID)
	if err != nil {
		return err
	}
	if channel == nil {
		return fmt.Errorf("edit banned: unknown guild %s", guildID)
	}
	user, err := l.peers.User(userID)
	if err != nil {
		return err
	}

	callCtx, cancel := l.withTimeout(ctx)
	defer cancel()

	return mapRPCError("edit banned", l.rpc.EditBanned(callCtx, channel, user, rights))
}

// channel returns nil without error when the guild is not tracked.
func (l *LiveSystem) channel(guildID string) (*tg.InputChannel, error) {
	if !l.Connected() {
		return nil, warden.ErrLiveSystemUnreachable
	}
	channel, ok := l.peers.Channel(guildID)
	if !ok {
		return nil, nil
	}

	return channel, nil
}

func (l *LiveSystem) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, l.cfg.rpcTimeout)
}

func (l *LiveSystem) logSideEffect(ctx context.Context, operation string, guildID string, targetID string, reason string) {
	l.cfg.logger.InfoContext(ctx, "telegram side effect applied",
		"operation", operation,
		"guild_id", guildID,
		"target_id", targetID,
		"reason", reason,
	)
}

func adminAllows(rights tg.ChatAdminRights, permission warden.Permission) bool {
	switch permission {
	case warden.PermissionManageRoles, warden.PermissionBanMembers:
		return rights.BanUsers
	case warden.PermissionManageChannels:
		return rights.BanUsers && rights.ChangeInfo
	default:
		return false
	}
}
