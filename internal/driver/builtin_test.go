package driver

import (
	"slices"
	"testing"

	"ex-warden/internal/driver/telegram"
	"ex-warden/internal/driver/websub"
)

func TestNewBuiltinRegistryIncludesDrivers(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	for _, driverType := range []string{telegram.DriverType, websub.DriverType} {
		if !registry.Supports(driverType) {
			t.Fatalf("registry does not support %s", driverType)
		}
	}
	if got := registry.Types(); !slices.Equal(got, []string{"telegram", "websub"}) {
		t.Fatalf("types = %v, want [telegram websub]", got)
	}
}
