package sqldoc

import (
	"context"
	"log/slog"
	"time"

	"ex-warden/pkg/warden"
)

const defaultMonitorInterval = 30 * time.Second

// Monitor is a kernel driver that pings the store and logs connection errors.
//
// It never closes the store. The process owner closes it after the kernel stops.
type Monitor struct {
	store    *Store
	logger   *slog.Logger
	interval time.Duration
}

var _ warden.Driver = (*Monitor)(nil)

// NewMonitor creates a connection monitor for store.
func NewMonitor(store *Store, logger *slog.Logger, interval time.Duration) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}

	return &Monitor{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the driver identity exposed to the kernel.
func (m *Monitor) Name() string {
	return m.store.dialect.Name + "_store"
}

// Start pings the store every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			healthy = m.check(ctx, healthy)
		}
	}
}

// Shutdown is a no-op because Start stops with its context.
func (m *Monitor) Shutdown(context.Context) error {
	return nil
}

func (m *Monitor) check(ctx context.Context, wasHealthy bool) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.store.db.PingContext(pingCtx)
	switch {
	case err != nil && ctx.Err() != nil:
		return wasHealthy
	case err != nil:
		m.logger.ErrorContext(ctx, "document store connection error", "backend", m.store.dialect.Name, "error", err)
		return false
	case !wasHealthy:
		m.logger.InfoContext(ctx, "document store connection restored", "backend", m.store.dialect.Name)
	}

	return true
}
