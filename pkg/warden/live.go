package warden

import (
	"context"
	"time"
)

// ServiceLiveSystem is the canonical service registry key for the live system adapter.
const ServiceLiveSystem = "warden.live_system"

// ServiceFeedResubscriber is the canonical service registry key for feed resubscription.
const ServiceFeedResubscriber = "warden.feed_resubscriber"

// Permission names one live-system permission held by the acting principal.
type Permission string

const (
	// PermissionManageRoles allows adding and removing member roles and restrictions.
	PermissionManageRoles Permission = "manage_roles"
	// PermissionBanMembers allows banning and unbanning members.
	PermissionBanMembers Permission = "ban_members"
	// PermissionManageChannels allows editing channel permission overwrites.
	PermissionManageChannels Permission = "manage_channels"
)

// MutedRole is the role removed when a temporary mute expires.
const MutedRole = "muted"

// OverwriteState is the value a channel overwrite assigns to one permission.
type OverwriteState int

const (
	// OverwriteInherit clears the overwrite so the default applies.
	OverwriteInherit OverwriteState = iota
	// OverwriteAllow grants the permission explicitly.
	OverwriteAllow
	// OverwriteDeny revokes the permission explicitly.
	OverwriteDeny
)

// ChannelOverwrite changes the send-messages permission of one target in one channel.
type ChannelOverwrite struct {
	GuildID   string
	ChannelID string
	// TargetID is a role or user id. The guild id targets everyone.
	TargetID string
	// SendMessages is the new state for the send-messages permission.
	SendMessages OverwriteState
	// Reason is recorded in the platform audit log when supported.
	Reason string
}

// LiveSystem is the real-time platform against which side effects are performed.
//
// Every call may fail independently. Implementations report a missing
// permission with ErrPermissionDenied and a dropped connection with
// ErrLiveSystemUnreachable.
type LiveSystem interface {
	// Connected reports whether the live connection is currently established.
	Connected() bool
	// HasGuild reports whether the acting principal is currently in guild.
	HasGuild(ctx context.Context, guildID string) (bool, error)
	// IsMember reports whether user currently belongs to guild.
	IsMember(ctx context.Context, guildID string, userID string) (bool, error)
	// HasChannel reports whether channel currently exists in guild.
	HasChannel(ctx context.Context, guildID string, channelID string) (bool, error)
	// HasPermission reports whether the acting principal holds permission in guild.
	HasPermission(ctx context.Context, guildID string, permission Permission) (bool, error)
	// RemoveRole removes role from member. Removing a role the member lacks is a no-op.
	RemoveRole(ctx context.Context, guildID string, userID string, role string, reason string) error
	// Unban lifts a ban of user in guild.
	Unban(ctx context.Context, guildID string, userID string, reason string) error
	// SetChannelOverwrite applies one channel permission overwrite.
	SetChannelOverwrite(ctx context.Context, overwrite ChannelOverwrite) error
}

// FeedResubscriber renews push subscriptions for external content feeds.
type FeedResubscriber interface {
	// Resubscribe renews every subscription held for service.
	Resubscribe(ctx context.Context, service string) error
	// Services returns the feed services that keep a resubscription chain.
	Services() []string
	// LeaseHint returns how long one renewal stays valid, zero when unknown.
	LeaseHint() time.Duration
}
