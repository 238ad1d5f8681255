// Package provider creates escalation-tier adapters from configuration.
//
// # Adding a New Provider
//
// Implement domain.Provider in a subpackage, expose a RegisterProviderFactory
// function that calls registry.RegisterFactory, and wire it from
// RegisterBuiltins (or directly from cmd/cascade for out-of-tree adapters).
// Registration is explicit so there are no init() side effects.
package provider

import (
	"fmt"

	"github.com/modelcascade/cascade/internal/config"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/provider/anthropic"
	"github.com/modelcascade/cascade/internal/provider/gemini"
	"github.com/modelcascade/cascade/internal/provider/openai"
	"github.com/modelcascade/cascade/internal/provider/registry"
)

// Factory is re-exported from registry for convenience.
type Factory = registry.Factory

// RegisterFactory registers a provider factory (delegated to registry).
var RegisterFactory = registry.RegisterFactory

// IsRegistered returns true if a provider type is registered.
var IsRegistered = registry.IsRegistered

// ListProviderTypes returns all registered provider type names.
var ListProviderTypes = registry.ListProviderTypes

// ClearFactories removes all registered factories (for testing only).
var ClearFactories = registry.ClearFactories

// RegisterBuiltins registers the built-in adapter factories. Safe to call
// more than once.
func RegisterBuiltins() {
	openai.RegisterProviderFactory()
	anthropic.RegisterProviderFactory()
	gemini.RegisterProviderFactory()
}

// Create creates one adapter from a tier configuration using the registered
// factory for its type.
func Create(cfg config.ProviderConfig) (domain.Provider, error) {
	return registry.CreateFromFactory(cfg)
}

// CreateAll creates adapters for every configured tier, keyed by name. A
// missing credential or unknown type fails the whole set: tiers are never
// silently skipped.
func CreateAll(configs []config.ProviderConfig) (map[string]domain.Provider, error) {
	providers := make(map[string]domain.Provider, len(configs))
	for _, cfg := range configs {
		p, err := Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("create provider %s: %w", cfg.Name, err)
		}
		providers[cfg.Name] = p
	}
	return providers, nil
}
