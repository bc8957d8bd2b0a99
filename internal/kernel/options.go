package kernel

import (
	"log/slog"
	"time"
)

const (
	defaultModuleHookTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

type config struct {
	// moduleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
	moduleHookTimeout time.Duration
	// shutdownTimeout bounds waiting for drivers and the whole teardown.
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Kernel.
type Option func(*config)

func defaultConfig() config {
	return config{
		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		logger:            slog.Default(),
	}
}

// WithModuleHookTimeout bounds every module lifecycle hook. Non-positive values are ignored.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.moduleHookTimeout = timeout
		}
	}
}

// WithShutdownTimeout bounds teardown after the run ends. Non-positive values are ignored.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithLogger sets the lifecycle logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger.With("component", "kernel")
		}
	}
}
