package warden

import "context"

// ModuleRuntime is what the kernel hands a module during OnRegister.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
}

// Module is a unit of background work hosted by the kernel, such as the
// pending action scheduler.
type Module interface {
	// Name identifies the module in logs and registration errors.
	Name() string
	// RequiredServices lists service keys that must resolve before OnRegister runs.
	RequiredServices() []string
	// OnRegister resolves dependencies from the runtime's services.
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
	// OnStart launches the module's work. It must not block.
	OnStart(ctx context.Context) error
	// OnShutdown stops the work started by OnStart and waits for it.
	OnShutdown(ctx context.Context) error
}

// Driver owns one long-lived connection, such as the chat session or the
// document store monitor.
type Driver interface {
	// Name identifies the driver in logs and registration errors.
	Name() string
	// Start blocks while the connection runs. Returning an error other than
	// context cancellation stops the whole process.
	Start(ctx context.Context) error
	// Shutdown releases what the Start context does not cover.
	Shutdown(ctx context.Context) error
}
