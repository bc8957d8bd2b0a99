package driver

import (
	"context"
	"fmt"
	"log/slog"

	"ex-warden/internal/driver/telegram"
	"ex-warden/internal/driver/websub"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry(map[string]BuilderFunc{
		telegram.DriverType: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
			session, err := telegram.BuildSessionFromConfig(definition.Name, logger, definition.Config)
			if err != nil {
				return Runtime{}, fmt.Errorf("build telegram session from config: %w", err)
			}

			return Runtime{Driver: session, Live: session.Live()}, nil
		},
		websub.DriverType: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
			resubscriber, err := websub.BuildFromConfig(definition.Config, websub.WithLogger(logger))
			if err != nil {
				return Runtime{}, fmt.Errorf("build websub resubscriber from config: %w", err)
			}

			return Runtime{Feeds: resubscriber}, nil
		},
	})
}
