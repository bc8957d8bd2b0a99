package kernel

import (
	"errors"
	"slices"
	"testing"

	"ex-warden/pkg/warden"
)

func TestServiceRegistryRegisterAndResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		registerName  string
		registerValue any
		wantErr       error
	}{
		{
			name:          "register and resolve success",
			registerName:  warden.ServiceDocumentStore,
			registerValue: "sqlite",
		},
		{
			name:          "duplicate registration fails",
			registerName:  warden.ServiceActionQueue,
			registerValue: "queue",
			wantErr:       warden.ErrServiceAlreadyRegistered,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			if err := registry.Register(testCase.registerName, testCase.registerValue); err != nil {
				t.Fatalf("first register failed: %v", err)
			}

			if testCase.wantErr != nil {
				err := registry.Register(testCase.registerName, "duplicate")
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("duplicate register error = %v, want %v", err, testCase.wantErr)
				}
			}

			resolved, err := registry.Resolve(testCase.registerName)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if resolved != testCase.registerValue {
				t.Fatalf("resolve value = %v, want %v", resolved, testCase.registerValue)
			}
		})
	}
}

func TestServiceRegistryErrors(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()

	if err := registry.Register("", "value"); err == nil {
		t.Fatal("expected empty name register error")
	}
	if err := registry.Register("svc", nil); err == nil {
		t.Fatal("expected nil service register error")
	}
	var nilPointerService *struct{}
	if err := registry.Register("svc-pointer", nilPointerService); err == nil {
		t.Fatal("expected nil pointer service register error")
	}
	if _, err := registry.Resolve("missing"); !errors.Is(err, warden.ErrServiceNotFound) {
		t.Fatalf("resolve missing error = %v, want %v", err, warden.ErrServiceNotFound)
	}
}

func TestServiceRegistryResolveAs(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if err := registry.Register(warden.ServiceEntities, 42); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register(warden.ServiceLogger, "logger"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	value, err := warden.ResolveAs[int](registry, warden.ServiceEntities)
	if err != nil || value != 42 {
		t.Fatalf("resolve as = (%d, %v), want 42", value, err)
	}
	if _, err := warden.ResolveAs[int](registry, warden.ServiceLogger); err == nil {
		t.Fatal("expected type assertion error")
	}

	names := registry.Names()
	if !slices.Equal(names, []string{warden.ServiceLogger, warden.ServiceEntities}) {
		t.Fatalf("names = %v", names)
	}
}
