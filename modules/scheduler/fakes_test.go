package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ex-warden/pkg/warden"
)

type liveCall struct {
	op     string
	guild  string
	target string
	reason string
}

type fakeLive struct {
	mu          sync.Mutex
	connected   bool
	guilds      map[string]bool
	members     map[string]bool
	channels    map[string]bool
	denied      map[warden.Permission]bool
	overwriteFn func(warden.ChannelOverwrite) error
	removeFn    func()
	unbanErr    error
	calls       []liveCall
}

func newFakeLive() *fakeLive {
	return &fakeLive{
		connected: true,
		guilds:    make(map[string]bool),
		members:   make(map[string]bool),
		channels:  make(map[string]bool),
		denied:    make(map[warden.Permission]bool),
	}
}

func (f *fakeLive) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *fakeLive) HasGuild(_ context.Context, guildID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.guilds[guildID], nil
}

func (f *fakeLive) IsMember(_ context.Context, guildID string, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.members[guildID+":"+userID], nil
}

func (f *fakeLive) HasChannel(_ context.Context, guildID string, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.channels[guildID+":"+channelID], nil
}

func (f *fakeLive) HasPermission(_ context.Context, _ string, permission warden.Permission) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.denied[permission], nil
}

func (f *fakeLive) RemoveRole(_ context.Context, guildID string, userID string, role string, reason string) error {
	f.record(liveCall{op: "remove_role:" + role, guild: guildID, target: userID, reason: reason})

	f.mu.Lock()
	fn := f.removeFn
	f.mu.Unlock()
	if fn != nil {
		fn()
	}

	return nil
}

func (f *fakeLive) Unban(_ context.Context, guildID string, userID string, reason string) error {
	f.record(liveCall{op: "unban", guild: guildID, target: userID, reason: reason})

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.unbanErr
}

func (f *fakeLive) SetChannelOverwrite(_ context.Context, overwrite warden.ChannelOverwrite) error {
	f.record(liveCall{
		op:     fmt.Sprintf("overwrite:%s:%d", overwrite.ChannelID, overwrite.SendMessages),
		guild:  overwrite.GuildID,
		target: overwrite.TargetID,
		reason: overwrite.Reason,
	})

	f.mu.Lock()
	fn := f.overwriteFn
	f.mu.Unlock()
	if fn != nil {
		return fn(overwrite)
	}

	return nil
}

func (f *fakeLive) record(call liveCall) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
}

func (f *fakeLive) recorded() []liveCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]liveCall(nil), f.calls...)
}

type fakeFeeds struct {
	mu       sync.Mutex
	services []string
	lease    time.Duration
	err      error
	calls    []string
}

func (f *fakeFeeds) Resubscribe(_ context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, service)
	return f.err
}

func (f *fakeFeeds) Services() []string { return f.services }

func (f *fakeFeeds) LeaseHint() time.Duration { return f.lease }

func (f *fakeFeeds) resubscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

type serviceMap map[string]any

func (s serviceMap) Register(name string, service any) error {
	if _, exists := s[name]; exists {
		return fmt.Errorf("register %s: %w", name, warden.ErrServiceAlreadyRegistered)
	}
	s[name] = service
	return nil
}

func (s serviceMap) Resolve(name string) (any, error) {
	service, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", name, warden.ErrServiceNotFound)
	}
	return service, nil
}

type runtimeStub struct {
	services serviceMap
}

func (r runtimeStub) Services() warden.ServiceRegistry { return r.services }
