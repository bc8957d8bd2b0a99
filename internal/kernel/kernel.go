package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ex-warden/pkg/warden"
)

// Kernel owns the service registry and the lifecycle of modules and drivers.
//
// Modules start in registration order before any driver runs and stop in
// reverse order after every driver stopped. Drivers run concurrently; the
// first one failing ends the run.
type Kernel struct {
	cfg      config
	services *ServiceRegistry

	mu      sync.RWMutex
	modules []warden.Module
	drivers []warden.Driver

	running sync.Mutex
}

// New creates a kernel with an empty service registry.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:      cfg,
		services: NewServiceRegistry(),
	}
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() warden.ServiceRegistry {
	return k.services
}

// RegisterService binds one process-wide service.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule checks the module's required services and runs OnRegister.
// A failing OnRegister leaves the module unregistered.
func (k *Kernel) RegisterModule(ctx context.Context, module warden.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	var missing []error
	for _, required := range module.RequiredServices() {
		if _, err := k.services.Resolve(required); err != nil {
			missing = append(missing, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("register module %s: required service: %w", name, errors.Join(missing...))
	}

	if err := k.claimModule(module); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	err := runSafely("module "+name+" OnRegister", func() error {
		return module.OnRegister(hookCtx, moduleRuntime{services: k.services})
	})
	if err != nil {
		k.releaseModule(name)
		return fmt.Errorf("register module %s: %w", name, err)
	}
	k.cfg.logger.DebugContext(ctx, "module registered", "module", name)

	return nil
}

// RegisterDriver adds one long-lived connection to the run.
func (k *Kernel) RegisterDriver(driver warden.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.drivers {
		if existing.Name() == name {
			return fmt.Errorf("register driver %s: %w", name, warden.ErrDriverAlreadyRegistered)
		}
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules, runs drivers and blocks until ctx ends or a driver fails.
//
// Without drivers it blocks until ctx ends. Cancellation of ctx is a clean exit.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.TryLock() {
		return fmt.Errorf("kernel run: already running")
	}
	defer k.running.Unlock()

	modules, drivers := k.snapshot()

	if err := k.startModules(ctx, modules); err != nil {
		return errors.Join(err, k.shutdown(ctx, modules, nil))
	}
	k.cfg.logger.InfoContext(ctx, "kernel running", "modules", len(modules), "drivers", len(drivers))

	runErr := k.runDrivers(ctx, drivers)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdown(ctx, modules, drivers))
}

func (k *Kernel) snapshot() ([]warden.Module, []warden.Driver) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules), slices.Clone(k.drivers)
}

func (k *Kernel) claimModule(module warden.Module) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, existing := range k.modules {
		if existing.Name() == module.Name() {
			return fmt.Errorf("register module %s: %w", module.Name(), warden.ErrModuleAlreadyRegistered)
		}
	}
	k.modules = append(k.modules, module)

	return nil
}

func (k *Kernel) releaseModule(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.modules = slices.DeleteFunc(k.modules, func(module warden.Module) bool {
		return module.Name() == name
	})
}

func (k *Kernel) startModules(ctx context.Context, modules []warden.Module) error {
	for _, module := range modules {
		name := module.Name()
		if err := k.moduleHook(ctx, "module "+name+" OnStart", module.OnStart); err != nil {
			return fmt.Errorf("start module %s: %w", name, err)
		}
		k.cfg.logger.DebugContext(ctx, "module started", "module", name)
	}

	return nil
}

// runDrivers returns the first fatal driver error, or the cancellation cause of ctx.
// It waits up to the shutdown timeout for every driver to return.
func (k *Kernel) runDrivers(ctx context.Context, drivers []warden.Driver) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, driver := range drivers {
		group.Go(func() error {
			return k.runDriver(groupCtx, driver)
		})
	}

	<-groupCtx.Done()

	stopped := make(chan error, 1)
	go func() {
		stopped <- group.Wait()
	}()

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-stopped:
		if err != nil {
			return err
		}
	case <-timer.C:
		k.cfg.logger.Warn("drivers did not stop within shutdown timeout", "timeout", k.cfg.shutdownTimeout)
	}

	return context.Cause(groupCtx)
}

func (k *Kernel) runDriver(ctx context.Context, driver warden.Driver) error {
	name := driver.Name()
	err := runSafely("driver "+name+" Start", func() error {
		return driver.Start(ctx)
	})
	if err == nil || isContextCancellation(err) {
		return nil
	}

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		k.cfg.logger.ErrorContext(ctx, "driver panicked",
			"driver", name,
			"panic", panicErr.Value,
			"stack", string(panicErr.Stack),
		)
	}

	return fmt.Errorf("run driver %s: %w", name, err)
}

// shutdown stops drivers, then modules, both in reverse registration order.
// Cleanup runs on a fresh deadline even when ctx is already canceled.
func (k *Kernel) shutdown(ctx context.Context, modules []warden.Module, drivers []warden.Driver) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var errs []error
	for _, driver := range slices.Backward(drivers) {
		name := driver.Name()
		err := runSafely("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown driver %s: %w", name, err))
		}
	}
	for _, module := range slices.Backward(modules) {
		name := module.Name()
		if err := k.moduleHook(shutdownCtx, "module "+name+" OnShutdown", module.OnShutdown); err != nil {
			errs = append(errs, fmt.Errorf("shutdown module %s: %w", name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}

	return nil
}

func (k *Kernel) moduleHook(ctx context.Context, scope string, hook func(context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	return runSafely(scope, func() error {
		return hook(hookCtx)
	})
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
