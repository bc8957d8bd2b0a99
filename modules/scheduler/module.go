package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ex-warden/internal/entities"
	"ex-warden/internal/metrics"
	"ex-warden/pkg/warden"
)

const (
	defaultPollInterval  = 10 * time.Second
	defaultResubInterval = 96 * time.Hour
)

// ActionQueue is the subset of the pending action queue the scheduler consumes.
type ActionQueue interface {
	Due(ctx context.Context, now time.Time) ([]warden.PendingAction, error)
	Pending(ctx context.Context) ([]warden.PendingAction, error)
	Remove(ctx context.Context, id string) (bool, error)
	AddWebhookResub(ctx context.Context, service string, at time.Time) (warden.PendingAction, error)
}

// Option mutates scheduler configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithPollInterval sets the delay between ticks.
func WithPollInterval(interval time.Duration) Option {
	return func(module *Module) {
		if interval > 0 {
			module.pollInterval = interval
		}
	}
}

// WithResubInterval sets the distance between two webhook resubscriptions.
func WithResubInterval(interval time.Duration) Option {
	return func(module *Module) {
		if interval > 0 {
			module.resubInterval = interval
		}
	}
}

func withClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

// Module polls the pending action queue and runs due actions.
type Module struct {
	logger        *slog.Logger
	queue         ActionQueue
	live          warden.LiveSystem
	feeds         warden.FeedResubscriber
	entities      *entities.Registry
	metrics       *metrics.Set
	pollInterval  time.Duration
	resubInterval time.Duration
	clock         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler module.
func New(options ...Option) *Module {
	module := &Module{
		logger:        slog.Default(),
		pollInterval:  defaultPollInterval,
		resubInterval: defaultResubInterval,
		clock:         time.Now,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "scheduler"
}

// RequiredServices lists the services the scheduler cannot run without.
func (m *Module) RequiredServices() []string {
	return []string{
		warden.ServiceActionQueue,
		warden.ServiceLiveSystem,
		warden.ServiceEntities,
	}
}

// OnRegister resolves scheduler dependencies.
func (m *Module) OnRegister(_ context.Context, runtime warden.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := warden.ResolveAs[*slog.Logger](services, warden.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, warden.ErrServiceNotFound):
	default:
		return fmt.Errorf("scheduler resolve logger: %w", err)
	}

	queue, err := warden.ResolveAs[ActionQueue](services, warden.ServiceActionQueue)
	if err != nil {
		return fmt.Errorf("scheduler resolve action queue: %w", err)
	}
	m.queue = queue

	live, err := warden.ResolveAs[warden.LiveSystem](services, warden.ServiceLiveSystem)
	if err != nil {
		return fmt.Errorf("scheduler resolve live system: %w", err)
	}
	m.live = live

	registry, err := warden.ResolveAs[*entities.Registry](services, warden.ServiceEntities)
	if err != nil {
		return fmt.Errorf("scheduler resolve entities: %w", err)
	}
	m.entities = registry

	feeds, err := warden.ResolveAs[warden.FeedResubscriber](services, warden.ServiceFeedResubscriber)
	switch {
	case err == nil:
		m.feeds = feeds
	case errors.Is(err, warden.ErrServiceNotFound):
	default:
		return fmt.Errorf("scheduler resolve feed resubscriber: %w", err)
	}

	set, err := warden.ResolveAs[*metrics.Set](services, warden.ServiceMetrics)
	switch {
	case err == nil:
		m.metrics = set
	case errors.Is(err, warden.ErrServiceNotFound):
	default:
		return fmt.Errorf("scheduler resolve metrics: %w", err)
	}

	return nil
}

// OnStart seeds missing resubscription chains and launches the poll loop.
func (m *Module) OnStart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("scheduler start: already running")
	}
	if err := m.bootstrapResubChains(ctx); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(loopCtx, m.done)

	m.logger.InfoContext(ctx,
		"scheduler module started",
		"module", m.Name(),
		"poll_interval", m.pollInterval,
		"resub_interval", m.resubInterval,
	)

	return nil
}

// OnShutdown stops the poll loop and waits for an in-flight tick.
// An action already started still completes and is removed.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}

	m.logger.InfoContext(ctx, "scheduler module shutdown", "module", m.Name())

	return nil
}

func (m *Module) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// bootstrapResubChains schedules an immediate resubscription for every feed
// service that has no pending one, so each service carries exactly one chain.
func (m *Module) bootstrapResubChains(ctx context.Context) error {
	if m.feeds == nil {
		return nil
	}

	services := m.feeds.Services()
	if len(services) == 0 {
		return nil
	}
	if lease := m.feeds.LeaseHint(); lease > 0 && m.resubInterval >= lease {
		m.logger.WarnContext(ctx,
			"resubscription interval does not renew before the lease expires",
			"resub_interval", m.resubInterval,
			"lease", lease,
		)
	}

	pending, err := m.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap resub chains: %w", err)
	}
	chained := make(map[string]bool, len(pending))
	for _, action := range pending {
		if action.Kind != warden.ActionKindWebhookResub {
			continue
		}
		var info warden.WebhookResubInfo
		if err := action.DecodeInfo(&info); err != nil {
			continue
		}
		chained[info.Service] = true
	}

	now := m.clock()
	for _, service := range services {
		if chained[service] {
			continue
		}
		action, err := m.queue.AddWebhookResub(ctx, service, now)
		if err != nil {
			return fmt.Errorf("bootstrap resub chain %s: %w", service, err)
		}
		m.logger.InfoContext(ctx, "webhook resub chain started", "service", service, "action_id", action.ID)
	}

	return nil
}
