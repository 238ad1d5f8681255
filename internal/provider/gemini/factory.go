package gemini

import (
	"context"
	"fmt"

	"github.com/modelcascade/cascade/internal/config"
	"github.com/modelcascade/cascade/internal/domain"
	"github.com/modelcascade/cascade/internal/provider/registry"
)

// ProviderType is the configuration type identifier for this adapter.
const ProviderType = "gemini"

// RegisterProviderFactory registers the Gemini factory. Called from
// provider.RegisterBuiltins; safe to call more than once.
func RegisterProviderFactory() {
	if registry.IsRegistered(ProviderType) {
		return
	}
	registry.RegisterFactory(registry.Factory{
		Type:           ProviderType,
		APIType:        domain.APITypeGemini,
		Description:    "Google Gemini API",
		Create:         CreateFromConfig,
		ValidateConfig: ValidateConfig,
	})
}

// CreateFromConfig creates an adapter from a tier configuration.
func CreateFromConfig(cfg config.ProviderConfig) (domain.Provider, error) {
	return New(context.Background(), cfg.Name, cfg.Model, cfg.APIKey)
}

// ValidateConfig checks the tier configuration before creation.
func ValidateConfig(cfg config.ProviderConfig) error {
	if cfg.Model == "" {
		return fmt.Errorf("provider %q: model is required", cfg.Name)
	}
	return nil
}
