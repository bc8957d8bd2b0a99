package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ex-warden/internal/actions"
	"ex-warden/internal/entities"
	"ex-warden/internal/store/memory"
	"ex-warden/pkg/warden"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	ctx      context.Context
	now      time.Time
	store    *memory.Store
	queue    *actions.Queue
	live     *fakeLive
	feeds    *fakeFeeds
	services serviceMap
	module   *Module
}

func newHarness(t *testing.T, feeds *fakeFeeds, options ...Option) *harness {
	t.Helper()

	h := &harness{
		ctx:   context.Background(),
		now:   base,
		store: memory.NewStore(),
		live:  newFakeLive(),
		feeds: feeds,
	}
	clock := func() time.Time { return h.now }

	queue, err := actions.NewQueue(h.store, actions.WithClock(clock))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	h.queue = queue

	registry, err := entities.NewRegistry(h.store, h.live)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	h.services = serviceMap{
		warden.ServiceLogger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		warden.ServiceActionQueue: queue,
		warden.ServiceLiveSystem:  h.live,
		warden.ServiceEntities:    registry,
	}
	if feeds != nil {
		h.services[warden.ServiceFeedResubscriber] = feeds
	}

	h.module = New(append([]Option{withClock(clock)}, options...)...)
	if err := h.module.OnRegister(h.ctx, runtimeStub{services: h.services}); err != nil {
		t.Fatalf("on register: %v", err)
	}

	return h
}

func (h *harness) pending(t *testing.T) []warden.PendingAction {
	t.Helper()

	pending, err := h.queue.Pending(h.ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}

	return pending
}

func TestTickExecutesDueMuteOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.live.guilds["111"] = true
	h.live.members["111:222"] = true

	if _, err := h.queue.AddMute(h.ctx, "111", "222", base.Add(10*time.Minute), 7); err != nil {
		t.Fatalf("add mute: %v", err)
	}

	h.now = base.Add(5 * time.Minute)
	if results := h.module.tick(h.ctx); len(results) != 0 {
		t.Fatalf("results before due = %d, want 0", len(results))
	}
	if len(h.pending(t)) != 1 {
		t.Fatal("action must stay stored until due")
	}

	h.now = base.Add(10 * time.Minute)
	results := h.module.tick(h.ctx)
	if len(results) != 1 || results[0].outcome != outcomeExecuted {
		t.Fatalf("results = %+v, want one executed", results)
	}
	calls := h.live.recorded()
	want := liveCall{
		op:     "remove_role:" + warden.MutedRole,
		guild:  "111",
		target: "222",
		reason: "Auto unmute for case 7 after 10m0s",
	}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("live calls = %+v, want %+v", calls, want)
	}
	if len(h.pending(t)) != 0 {
		t.Fatal("action must be removed after its tick")
	}

	h.now = base.Add(20 * time.Minute)
	if results := h.module.tick(h.ctx); len(results) != 0 {
		t.Fatalf("second tick results = %d, want 0", len(results))
	}
	if len(h.live.recorded()) != 1 {
		t.Fatal("action ran more than once")
	}
}

func TestTickStopFinishesStartedAction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.live.guilds["111"] = true
	h.live.members["111:222"] = true
	h.live.members["111:333"] = true

	first, err := h.queue.AddMute(h.ctx, "111", "222", base.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("add first mute: %v", err)
	}
	second, err := h.queue.AddMute(h.ctx, "111", "333", base.Add(2*time.Minute), 2)
	if err != nil {
		t.Fatalf("add second mute: %v", err)
	}

	tickCtx, stop := context.WithCancel(h.ctx)
	defer stop()
	h.live.removeFn = stop

	h.now = base.Add(5 * time.Minute)
	results := h.module.tick(tickCtx)
	if len(results) != 1 || results[0].action.ID != first.ID || results[0].outcome != outcomeExecuted {
		t.Fatalf("results = %+v, want only the first mute executed", results)
	}

	pending := h.pending(t)
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("pending = %+v, want the started mute removed and the second kept", pending)
	}
}

func TestTickSkipsWhileDisconnected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.live.connected = false
	h.live.guilds["1"] = true

	if _, err := h.queue.AddBan(h.ctx, "1", "2", base, 1); err != nil {
		t.Fatalf("add ban: %v", err)
	}
	h.now = base.Add(time.Minute)

	if results := h.module.tick(h.ctx); results != nil {
		t.Fatalf("results = %+v, want tick skipped", results)
	}
	if len(h.pending(t)) != 1 {
		t.Fatal("disconnected tick must not consume actions")
	}
}

func TestTickDropsActionsWithMissingEntities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schedule func(*harness) error
	}{
		{
			name: "guild no longer present",
			schedule: func(h *harness) error {
				_, err := h.queue.AddBan(h.ctx, "9", "2", base, 1)
				return err
			},
		},
		{
			name: "muted member left the guild",
			schedule: func(h *harness) error {
				_, err := h.queue.AddMute(h.ctx, "1", "404", base, 1)
				return err
			},
		},
		{
			name: "locked channel deleted",
			schedule: func(h *harness) error {
				_, err := h.queue.AddLockChannel(h.ctx, "1", "404", []string{"1"}, base)
				return err
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			h.live.guilds["1"] = true
			if err := testCase.schedule(h); err != nil {
				t.Fatalf("schedule: %v", err)
			}
			h.now = base.Add(time.Second)

			results := h.module.tick(h.ctx)
			if len(results) != 1 || results[0].outcome != outcomeSkipped {
				t.Fatalf("results = %+v, want one skipped", results)
			}
			if calls := h.live.recorded(); len(calls) != 0 {
				t.Fatalf("live calls = %+v, want none", calls)
			}
			if len(h.pending(t)) != 0 {
				t.Fatal("skipped action must still be removed")
			}
		})
	}
}

func TestTickPermissionDeniedDropsOnlyThatAction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.live.guilds["1"] = true
	h.live.members["1:3"] = true
	h.live.denied[warden.PermissionBanMembers] = true

	if _, err := h.queue.AddBan(h.ctx, "1", "2", base.Add(time.Minute), 4); err != nil {
		t.Fatalf("add ban: %v", err)
	}
	if _, err := h.queue.AddMute(h.ctx, "1", "3", base.Add(2*time.Minute), 5); err != nil {
		t.Fatalf("add mute: %v", err)
	}
	h.now = base.Add(time.Hour)

	results := h.module.tick(h.ctx)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].outcome != outcomeDenied || !errors.Is(results[0].err, warden.ErrPermissionDenied) {
		t.Fatalf("ban result = %+v, want denied", results[0])
	}
	if results[1].outcome != outcomeExecuted {
		t.Fatalf("mute result = %+v, want executed", results[1])
	}
	for _, call := range h.live.recorded() {
		if call.op == "unban" {
			t.Fatal("unban attempted without permission")
		}
	}
	if len(h.pending(t)) != 0 {
		t.Fatal("both actions must be removed")
	}
}

func TestTickUnlockContinuesAcrossOverwrites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.live.guilds["1"] = true
	h.live.channels["1:50"] = true
	h.live.overwriteFn = func(overwrite warden.ChannelOverwrite) error {
		if overwrite.TargetID == "300" {
			return warden.ErrLiveSystemUnreachable
		}
		return nil
	}

	if _, err := h.queue.AddLockChannel(h.ctx, "1", "50", []string{"300", "400"}, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("add lock: %v", err)
	}
	h.now = base.Add(3 * time.Minute)

	results := h.module.tick(h.ctx)
	if len(results) != 1 || results[0].outcome != outcomeFailed {
		t.Fatalf("results = %+v, want one failed", results)
	}
	if !errors.Is(results[0].err, warden.ErrLiveSystemUnreachable) {
		t.Fatalf("error = %v, want %v", results[0].err, warden.ErrLiveSystemUnreachable)
	}

	calls := h.live.recorded()
	if len(calls) != 2 || calls[0].target != "300" || calls[1].target != "400" {
		t.Fatalf("live calls = %+v, want both overwrites attempted", calls)
	}
	if calls[1].reason != "Auto unlock after 2m0s" || calls[1].op != "overwrite:50:0" {
		t.Fatalf("overwrite call = %+v", calls[1])
	}
	if len(h.pending(t)) != 0 {
		t.Fatal("failed action must still be removed")
	}
}

func TestTickWebhookResubSchedulesSuccessor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		resubErr    error
		wantOutcome outcome
	}{
		{name: "resubscription succeeds", wantOutcome: outcomeExecuted},
		{name: "resubscription fails", resubErr: warden.ErrLiveSystemUnreachable, wantOutcome: outcomeFailed},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			feeds := &fakeFeeds{services: []string{"youtube"}, err: testCase.resubErr}
			h := newHarness(t, feeds, WithResubInterval(96*time.Hour))

			if _, err := h.queue.AddWebhookResub(h.ctx, "youtube", base); err != nil {
				t.Fatalf("add resub: %v", err)
			}
			h.now = base.Add(time.Minute)

			results := h.module.tick(h.ctx)
			if len(results) != 1 || results[0].outcome != testCase.wantOutcome {
				t.Fatalf("results = %+v, want %s", results, testCase.wantOutcome)
			}
			if got := feeds.resubscribed(); len(got) != 1 || got[0] != "youtube" {
				t.Fatalf("resubscribed = %v, want [youtube]", got)
			}

			pending := h.pending(t)
			if len(pending) != 1 {
				t.Fatalf("pending = %d, want exactly one successor", len(pending))
			}
			successor := pending[0]
			if successor.Kind != warden.ActionKindWebhookResub || !successor.To.Equal(base.Add(96*time.Hour)) {
				t.Fatalf("successor = %+v, want resub due %v", successor, base.Add(96*time.Hour))
			}
		})
	}
}

func TestTickWebhookResubUnknownServiceEndsChain(t *testing.T) {
	t.Parallel()

	feeds := &fakeFeeds{services: []string{"youtube"}}
	h := newHarness(t, feeds)
	if _, err := h.queue.AddWebhookResub(h.ctx, "twitch", base); err != nil {
		t.Fatalf("add resub: %v", err)
	}
	h.now = base.Add(time.Minute)

	results := h.module.tick(h.ctx)
	if len(results) != 1 || results[0].outcome != outcomeSkipped {
		t.Fatalf("results = %+v, want skipped", results)
	}
	if len(h.pending(t)) != 0 {
		t.Fatal("unknown service must not reschedule")
	}
}

func TestBootstrapResubChains(t *testing.T) {
	t.Parallel()

	feeds := &fakeFeeds{services: []string{"youtube", "twitch"}, lease: 120 * time.Hour}
	h := newHarness(t, feeds)
	if _, err := h.queue.AddWebhookResub(h.ctx, "youtube", base.Add(48*time.Hour)); err != nil {
		t.Fatalf("add resub: %v", err)
	}

	if err := h.module.bootstrapResubChains(h.ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := h.module.bootstrapResubChains(h.ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	chains := make(map[string][]time.Time)
	for _, action := range h.pending(t) {
		var info warden.WebhookResubInfo
		if err := action.DecodeInfo(&info); err != nil {
			t.Fatalf("decode: %v", err)
		}
		chains[info.Service] = append(chains[info.Service], action.To)
	}
	if len(chains["youtube"]) != 1 || !chains["youtube"][0].Equal(base.Add(48*time.Hour)) {
		t.Fatalf("youtube chain = %v, want the existing action only", chains["youtube"])
	}
	if len(chains["twitch"]) != 1 || !chains["twitch"][0].Equal(base) {
		t.Fatalf("twitch chain = %v, want one action due now", chains["twitch"])
	}
}

func TestModuleOnRegisterRequiresServices(t *testing.T) {
	t.Parallel()

	for _, missing := range []string{
		warden.ServiceActionQueue,
		warden.ServiceLiveSystem,
		warden.ServiceEntities,
	} {
		missing := missing
		t.Run(missing, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			services := serviceMap{}
			for name, service := range h.services {
				if name != missing {
					services[name] = service
				}
			}

			err := New().OnRegister(context.Background(), runtimeStub{services: services})
			if !errors.Is(err, warden.ErrServiceNotFound) {
				t.Fatalf("error = %v, want %v", err, warden.ErrServiceNotFound)
			}
		})
	}
}

func TestModuleLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, WithPollInterval(5*time.Millisecond))
	h.live.guilds["1"] = true
	if _, err := h.queue.AddBan(h.ctx, "1", "2", base, 1); err != nil {
		t.Fatalf("add ban: %v", err)
	}
	h.now = base.Add(time.Second)

	if err := h.module.OnStart(h.ctx); err != nil {
		t.Fatalf("on start: %v", err)
	}
	if err := h.module.OnStart(h.ctx); err == nil {
		t.Fatal("second start must fail while running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.store.Len(warden.CollectionPendingActions) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.store.Len(warden.CollectionPendingActions) != 0 {
		t.Fatal("poll loop never processed the due action")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.module.OnShutdown(shutdownCtx); err != nil {
		t.Fatalf("on shutdown: %v", err)
	}
	if err := h.module.OnShutdown(shutdownCtx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	calls := h.live.recorded()
	if len(calls) != 1 || calls[0].op != "unban" || calls[0].reason != "Auto unban for case 1 after 0s" {
		t.Fatalf("live calls = %+v", calls)
	}
}
