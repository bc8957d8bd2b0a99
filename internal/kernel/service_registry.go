package kernel

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"ex-warden/pkg/warden"
)

// ServiceRegistry is the process-wide context object: the store, the live
// system, the entity registry, the action queue and the logger are bound here
// once at startup and resolved by modules during registration.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

var _ warden.ServiceRegistry = (*ServiceRegistry)(nil)

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]any)}
}

// Register binds service to name. Nil values, including typed nil pointers, are rejected.
func (r *ServiceRegistry) Register(name string, service any) error {
	switch {
	case name == "":
		return fmt.Errorf("register service: empty name")
	case isNilService(service):
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.services[name]; taken {
		return fmt.Errorf("register service %s: %w", name, warden.ErrServiceAlreadyRegistered)
	}
	r.services[name] = service

	return nil
}

// Resolve returns the service bound to name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve service: empty name")
	}

	r.mu.RLock()
	service, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve service %s: %w", name, warden.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists bound service names, sorted.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.services))
}

func isNilService(service any) bool {
	if service == nil {
		return true
	}

	switch value := reflect.ValueOf(service); value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return value.IsNil()
	default:
		return false
	}
}
