package driver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"ex-warden/pkg/warden"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime contains what one built driver contributes to the process.
//
// Every field is optional, but a runtime must contribute at least one.
type Runtime struct {
	// Name is the configured driver instance name.
	Name string
	// Driver is the long-lived connection registered with the kernel.
	Driver warden.Driver
	// Live is the live-system adapter backed by Driver.
	Live warden.LiveSystem
	// Feeds renews external feed subscriptions.
	Feeds warden.FeedResubscriber
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Registry maps driver types to runtime builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable driver registry from type-to-builder pairs.
func NewRegistry(builders map[string]BuilderFunc) (*Registry, error) {
	entries := make(map[string]BuilderFunc, len(builders))
	types := make([]string, 0, len(builders))
	for driverType, builder := range builders {
		if driverType == "" {
			return nil, fmt.Errorf("new registry: empty driver type")
		}
		if builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", driverType)
		}
		entries[driverType] = builder
		types = append(types, driverType)
	}
	sort.Strings(types)

	return &Registry{
		builders: entries,
		types:    types,
	}, nil
}

// Types returns all registered driver types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Clone(r.types)
}

// Supports reports whether driverType has a registered builder.
func (r *Registry) Supports(driverType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.builders[driverType]

	return ok
}

// BuildEnabled builds all enabled driver definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %s: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil && runtime.Live == nil && runtime.Feeds == nil {
			return nil, fmt.Errorf("build driver %s type %s: empty runtime", definition.Name, definition.Type)
		}
		runtime.Name = definition.Name

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

// Assembly is the process-wide view of all built runtimes.
type Assembly struct {
	// Drivers are the kernel drivers in configuration order.
	Drivers []warden.Driver
	// Live is the single live-system adapter.
	Live warden.LiveSystem
	// Feeds routes resubscriptions to the runtime owning each service, nil when none is configured.
	Feeds warden.FeedResubscriber
}

// Assemble validates runtimes and merges them into one Assembly.
//
// Exactly one runtime must provide a live system. Feed services must be
// unique across runtimes.
func Assemble(runtimes []Runtime) (Assembly, error) {
	var assembly Assembly
	feeds := make([]warden.FeedResubscriber, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.Driver != nil {
			assembly.Drivers = append(assembly.Drivers, runtime.Driver)
		}
		if runtime.Live != nil {
			if assembly.Live != nil {
				return Assembly{}, fmt.Errorf("assemble drivers: %s: second live system", runtime.Name)
			}
			assembly.Live = runtime.Live
		}
		if runtime.Feeds != nil {
			feeds = append(feeds, runtime.Feeds)
		}
	}
	if assembly.Live == nil {
		return Assembly{}, fmt.Errorf("assemble drivers: no live system configured")
	}

	switch len(feeds) {
	case 0:
	case 1:
		assembly.Feeds = feeds[0]
	default:
		composite, err := NewCompositeFeeds(feeds)
		if err != nil {
			return Assembly{}, fmt.Errorf("assemble drivers: %w", err)
		}
		assembly.Feeds = composite
	}

	return assembly, nil
}

// CompositeFeeds routes resubscriptions to the resubscriber owning each service.
type CompositeFeeds struct {
	byService map[string]warden.FeedResubscriber
	services  []string
	lease     time.Duration
}

var _ warden.FeedResubscriber = (*CompositeFeeds)(nil)

// NewCompositeFeeds creates a composite over resubscribers with disjoint services.
func NewCompositeFeeds(resubscribers []warden.FeedResubscriber) (*CompositeFeeds, error) {
	composite := &CompositeFeeds{byService: make(map[string]warden.FeedResubscriber)}
	for _, resubscriber := range resubscribers {
		if resubscriber == nil {
			continue
		}
		for _, service := range resubscriber.Services() {
			if _, exists := composite.byService[service]; exists {
				return nil, fmt.Errorf("new composite feeds: duplicate service %s", service)
			}
			composite.byService[service] = resubscriber
			composite.services = append(composite.services, service)
		}
		if hint := resubscriber.LeaseHint(); hint > 0 && (composite.lease == 0 || hint < composite.lease) {
			composite.lease = hint
		}
	}
	sort.Strings(composite.services)

	return composite, nil
}

// Resubscribe delegates to the resubscriber owning service.
func (c *CompositeFeeds) Resubscribe(ctx context.Context, service string) error {
	resubscriber, exists := c.byService[service]
	if !exists {
		return fmt.Errorf("resubscribe %s: unknown service", service)
	}

	if err := resubscriber.Resubscribe(ctx, service); err != nil {
		return fmt.Errorf("route resubscribe: %w", err)
	}

	return nil
}

// Services returns every routed service in sorted order.
func (c *CompositeFeeds) Services() []string {
	return slices.Clone(c.services)
}

// LeaseHint returns the shortest lease among the routed resubscribers.
func (c *CompositeFeeds) LeaseHint() time.Duration {
	return c.lease
}
