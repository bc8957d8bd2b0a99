package kernel

import "ex-warden/pkg/warden"

// moduleRuntime is what a module sees of the kernel while registering.
type moduleRuntime struct {
	services *ServiceRegistry
}

var _ warden.ModuleRuntime = moduleRuntime{}

// Services returns the process service registry.
func (r moduleRuntime) Services() warden.ServiceRegistry {
	return r.services
}
