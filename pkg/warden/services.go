package warden

import (
	"fmt"
	"reflect"
)

const (
	// ServiceLogger is the service registry key for the process *slog.Logger.
	ServiceLogger = "logger"
	// ServiceEntities is the service registry key for the top-level entity manager registry.
	ServiceEntities = "warden.entities"
	// ServiceMetrics is the service registry key for the process metrics set.
	ServiceMetrics = "warden.metrics"
)

// ServiceRegistry is the context object carrying process-wide services.
type ServiceRegistry interface {
	// Register binds service to name once.
	Register(name string, service any) error
	// Resolve returns the service bound to name, or ErrServiceNotFound.
	Resolve(name string) (any, error)
}

// ResolveAs resolves name and asserts the service to T.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: %T is not %s", name, service, reflect.TypeFor[T]())
	}

	return typed, nil
}
