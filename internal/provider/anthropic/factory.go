package anthropic

import (
	"fmt"

	"github.com/modelcascade/cascade/internal/config"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/provider/registry"
)

// ProviderType is the configuration type identifier for this adapter.
const ProviderType = "anthropic"

// RegisterProviderFactory registers the Anthropic factory. Called from
// provider.RegisterBuiltins; safe to call more than once.
func RegisterProviderFactory() {
	if registry.IsRegistered(ProviderType) {
		return
	}
	registry.RegisterFactory(registry.Factory{
		Type:           ProviderType,
		APIType:        domain.APITypeAnthropic,
		Description:    "Anthropic Messages API",
		Create:         CreateFromConfig,
		ValidateConfig: ValidateConfig,
	})
}

// CreateFromConfig creates an adapter from a tier configuration.
func CreateFromConfig(cfg config.ProviderConfig) (domain.Provider, error) {
	var opts []ProviderOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return New(cfg.Name, cfg.Model, cfg.APIKey, opts...)
}

// ValidateConfig checks the tier configuration before creation.
func ValidateConfig(cfg config.ProviderConfig) error {
	if cfg.Model == "" {
		return fmt.Errorf("provider %q: model is required", cfg.Name)
	}
	return nil
}
