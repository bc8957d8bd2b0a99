package entities

import (
	"context"
	"fmt"

	"ex-warden/internal/cache"
	"ex-warden/pkg/warden"
)

// DefaultPrefix is the command prefix of a guild that never configured one.
const DefaultPrefix = "!"

// GuildDoc is the stored guild settings document.
type GuildDoc struct {
	Guild      string `json:"guild"`
	Prefix     string `json:"prefix"`
	CaseCount  int    `json:"caseCount"`
	LogChannel string `json:"logChannel,omitempty"`
	// Megalog maps megalog function names to the channel receiving them.
	Megalog map[string]string `json:"megalog"`
}

func defaultGuildDoc(guildID string) GuildDoc {
	return GuildDoc{
		Guild:   guildID,
		Prefix:  DefaultPrefix,
		Megalog: make(map[string]string),
	}
}

// GuildWrapper is a loaded guild document plus its member cache.
type GuildWrapper struct {
	*cache.Wrapper[GuildDoc]

	members *MemberManager
}

// ID returns the guild id.
func (g *GuildWrapper) ID() string {
	return g.Key()
}

// Members returns the member manager scoped to this guild.
func (g *GuildWrapper) Members() *MemberManager {
	return g.members
}

// Prefix returns the command prefix.
func (g *GuildWrapper) Prefix() string {
	var prefix string
	g.View(func(doc GuildDoc) { prefix = doc.Prefix })
	if prefix == "" {
		return DefaultPrefix
	}

	return prefix
}

// SetPrefix changes the command prefix. Persist stores it.
func (g *GuildWrapper) SetPrefix(prefix string) {
	g.Mutate(func(doc *GuildDoc) { doc.Prefix = prefix })
}

// NextCase increments and returns the guild's moderation case counter.
func (g *GuildWrapper) NextCase() int {
	var next int
	g.Mutate(func(doc *GuildDoc) {
		doc.CaseCount++
		next = doc.CaseCount
	})

	return next
}

// LogChannel returns the moderation log channel, if configured.
func (g *GuildWrapper) LogChannel() (string, bool) {
	var channel string
	g.View(func(doc GuildDoc) { channel = doc.LogChannel })

	return channel, channel != ""
}

// SetLogChannel sets the moderation log channel. An empty id clears it.
func (g *GuildWrapper) SetLogChannel(channelID string) {
	g.Mutate(func(doc *GuildDoc) { doc.LogChannel = channelID })
}

// MegalogChannel returns the channel receiving one megalog function.
func (g *GuildWrapper) MegalogChannel(function string) (string, bool) {
	var (
		channel string
		ok      bool
	)
	g.View(func(doc GuildDoc) { channel, ok = doc.Megalog[function] })

	return channel, ok
}

// SetMegalogChannel routes function to channelID. An empty id disables it.
func (g *GuildWrapper) SetMegalogChannel(function string, channelID string) {
	g.Mutate(func(doc *GuildDoc) {
		if channelID == "" {
			delete(doc.Megalog, function)
			return
		}
		if doc.Megalog == nil {
			doc.Megalog = make(map[string]string)
		}
		doc.Megalog[function] = channelID
	})
}

// GuildManager caches guild documents. Guild existence is gated by the live system.
type GuildManager struct {
	*cache.Manager[GuildDoc, *GuildWrapper]
}

func newGuildManager(deps dependencies) (*GuildManager, error) {
	cfg := cache.Config[GuildDoc, *GuildWrapper]{
		Kind:       warden.EntityKindGuild,
		Collection: warden.CollectionGuilds,
		Store:      deps.store,
		Default:    defaultGuildDoc,
		Wrap: func(generic *cache.Wrapper[GuildDoc]) (*GuildWrapper, error) {
			guild := &GuildWrapper{Wrapper: generic}
			members, err := newMemberManager(guild, deps)
			if err != nil {
				return nil, err
			}
			guild.members = members
			return guild, nil
		},
		Evict: func(guild *GuildWrapper) {
			guild.members.Clear()
		},
		Logger:  deps.logger,
		Metrics: deps.metrics,
		Clock:   deps.clock,
	}
	if deps.live != nil {
		live := deps.live
		cfg.Exists = func(ctx context.Context, guildID string) (bool, error) {
			return live.HasGuild(ctx, guildID)
		}
	}

	manager, err := cache.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("new guild manager: %w", err)
	}

	return &GuildManager{Manager: manager}, nil
}
