package entities

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ex-warden/internal/cache"
	"ex-warden/internal/metrics"
	"ex-warden/pkg/warden"
)

// Option mutates registry configuration.
type Option func(*dependencies)

// WithLogger injects the logger used by every manager.
func WithLogger(logger *slog.Logger) Option {
	return func(deps *dependencies) {
		if logger != nil {
			deps.logger = logger
		}
	}
}

// WithMetrics injects the metric set used by every manager.
func WithMetrics(set *metrics.Set) Option {
	return func(deps *dependencies) {
		deps.metrics = set
	}
}

func withClock(clock func() time.Time) Option {
	return func(deps *dependencies) {
		if clock != nil {
			deps.clock = clock
		}
	}
}

type dependencies struct {
	store   warden.DocumentStore
	live    warden.LiveSystem
	logger  *slog.Logger
	metrics *metrics.Set
	clock   func() time.Time
}

// Registry is the top-level entity manager registry.
type Registry struct {
	Guilds *GuildManager
	Users  *UserManager
}

// NewRegistry builds the guild and user managers over store.
//
// live gates guild and member loads; a nil live system disables the checks.
func NewRegistry(store warden.DocumentStore, live warden.LiveSystem, options ...Option) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("new entity registry: nil store")
	}

	deps := dependencies{
		store:  store,
		live:   live,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, option := range options {
		option(&deps)
	}
	deps.logger = deps.logger.With("component", "entities")

	guilds, err := newGuildManager(deps)
	if err != nil {
		return nil, fmt.Errorf("new entity registry: %w", err)
	}
	users, err := newUserManager(deps)
	if err != nil {
		return nil, fmt.Errorf("new entity registry: %w", err)
	}

	return &Registry{Guilds: guilds, Users: users}, nil
}

// Member fetches the guild (creating its default document when needed) and
// then the member within it. Either being unknown to the live system yields absent.
func (r *Registry) Member(ctx context.Context, guild warden.Ref, user warden.Ref, create bool) (*MemberWrapper, bool, error) {
	guildWrapper, found, err := r.Guilds.Fetch(ctx, guild, cache.FetchOptions{Create: true})
	if err != nil {
		return nil, false, fmt.Errorf("fetch member guild: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	member, found, err := guildWrapper.Members().Fetch(ctx, user, cache.FetchOptions{Create: create})
	if err != nil {
		return nil, false, fmt.Errorf("fetch member: %w", err)
	}

	return member, found, nil
}

// Clear drops every cached guild (and with it every member cache) and user.
func (r *Registry) Clear() {
	r.Guilds.Clear()
	r.Users.Clear()
}
