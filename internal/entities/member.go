package entities

import (
	"context"
	"fmt"
	"time"

	"ex-warden/internal/cache"
	"ex-warden/pkg/warden"
)

// MemberDoc is the stored guild-scoped member document.
type MemberDoc struct {
	User            string       `json:"user"`
	Guild           string       `json:"guild"`
	CommandLastUsed commandUsage `json:"commandLastUsed"`
}

// MemberStoreKey returns the document key of user within guild.
func MemberStoreKey(guildID string, userID string) string {
	return guildID + ":" + userID
}

// MemberWrapper is a loaded member document.
type MemberWrapper struct {
	*cache.Wrapper[MemberDoc]

	guild *GuildWrapper
}

// UserID returns the member's user id.
func (m *MemberWrapper) UserID() string {
	return m.Key()
}

// Guild returns the owning guild.
func (m *MemberWrapper) Guild() *GuildWrapper {
	return m.guild
}

// CommandLastUsed returns when the member last ran command in this guild.
func (m *MemberWrapper) CommandLastUsed(command string) (time.Time, bool) {
	var (
		at time.Time
		ok bool
	)
	m.View(func(doc MemberDoc) { at, ok = doc.CommandLastUsed.last(command) })

	return at, ok
}

// TouchCommand records a use of command in this guild.
func (m *MemberWrapper) TouchCommand(command string, at time.Time) {
	m.Mutate(func(doc *MemberDoc) { touchCommand(&doc.CommandLastUsed, command, at) })
}

// MemberManager caches the members of one guild, keyed by user id.
//
// Any store read is preceded by a live membership check so documents of
// departed members are never handed out.
type MemberManager struct {
	*cache.Manager[MemberDoc, *MemberWrapper]

	guild *GuildWrapper
}

func newMemberManager(guild *GuildWrapper, deps dependencies) (*MemberManager, error) {
	if guild == nil {
		return nil, fmt.Errorf("new member manager: nil guild")
	}

	guildID := guild.Key()
	cfg := cache.Config[MemberDoc, *MemberWrapper]{
		Kind:       warden.EntityKindMember,
		Collection: warden.CollectionGuildMembers,
		Store:      deps.store,
		Accept:     []warden.EntityKind{warden.EntityKindUser},
		StoreKey: func(userID string) string {
			return MemberStoreKey(guildID, userID)
		},
		Default: func(userID string) MemberDoc {
			return MemberDoc{
				User:            userID,
				Guild:           guildID,
				CommandLastUsed: make(commandUsage),
			}
		},
		Wrap: func(generic *cache.Wrapper[MemberDoc]) (*MemberWrapper, error) {
			return &MemberWrapper{Wrapper: generic, guild: guild}, nil
		},
		Logger:  deps.logger.With("guild", guildID),
		Metrics: deps.metrics,
		Clock:   deps.clock,
	}
	if deps.live != nil {
		live := deps.live
		cfg.Exists = func(ctx context.Context, userID string) (bool, error) {
			return live.IsMember(ctx, guildID, userID)
		}
	}

	manager, err := cache.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("new member manager for guild %s: %w", guildID, err)
	}

	return &MemberManager{Manager: manager, guild: guild}, nil
}

// Guild returns the guild whose members are managed.
func (m *MemberManager) Guild() *GuildWrapper {
	return m.guild
}
