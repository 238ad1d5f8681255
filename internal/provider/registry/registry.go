// Package registry provides provider factory registration and lookup.
//
// Each adapter package exposes a RegisterFactory function; provider.
// RegisterBuiltins wires the built-in set explicitly from cmd/cascade so
// there are no init() side effects.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/modelcascade/cascade/internal/config"
	"github.com/modelcascade/cascade/internal/domain"
)

// Factory defines how to create an adapter of a specific type. Each provider
// type (openai, anthropic, gemini) registers a factory that knows how to
// create tier instances from configuration.
type Factory struct {
	// Type is the provider type identifier used in configuration.
	Type string

	// APIType is the canonical API type this provider implements.
	APIType domain.APIType

	// Description provides a human-readable description of the provider.
	Description string

	// Create instantiates a new adapter from configuration.
	Create func(cfg config.ProviderConfig) (domain.Provider, error)

	// ValidateConfig performs provider-specific configuration validation.
	// Optional: if nil, no additional validation is performed.
	ValidateConfig func(cfg config.ProviderConfig) error
}

var (
	factoryMu   sync.RWMutex
	factoryMap  = make(map[string]Factory)
	factoryList []Factory
)

// RegisterFactory registers a provider factory for a specific type.
// Panics if a factory with the same type is already registered.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("provider factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[f.Type]; exists {
		panic(fmt.Sprintf("provider factory %q already registered", f.Type))
	}

	factoryMap[f.Type] = f
	factoryList = append(factoryList, f)
}

// GetFactory returns the factory for a provider type, if registered.
func GetFactory(providerType string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[providerType]
	return f, ok
}

// ListFactories returns all registered provider factories sorted by type.
func ListFactories() []Factory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	result := make([]Factory, len(factoryList))
	copy(result, factoryList)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})
	return result
}

// ListProviderTypes returns all registered provider type names.
func ListProviderTypes() []string {
	factories := ListFactories()
	types := make([]string, len(factories))
	for i, f := range factories {
		types[i] = f.Type
	}
	return types
}

// IsRegistered returns true if a provider type is registered.
func IsRegistered(providerType string) bool {
	_, ok := GetFactory(providerType)
	return ok
}

// CreateFromFactory creates an adapter using the registered factory.
func CreateFromFactory(cfg config.ProviderConfig) (domain.Provider, error) {
	f, ok := GetFactory(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (registered types: %v)",
			cfg.Type, ListProviderTypes())
	}

	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for provider type %s: %w", cfg.Type, err)
		}
	}

	return f.Create(cfg)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]Factory)
	factoryList = nil
}
