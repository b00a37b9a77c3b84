package llms

import (
	"fmt"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/registry"
)

// ProviderRegistry manages chat-completion provider instances keyed by name.
type ProviderRegistry struct {
	*registry.BaseRegistry[Provider]
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProviderRegistryFromConfig creates a registry with every configured
// provider instantiated.
func NewProviderRegistryFromConfig(cfg *config.Config) (*ProviderRegistry, error) {
	r := NewProviderRegistry()
	for name := range cfg.Providers {
		providerCfg := cfg.Providers[name]
		if _, err := r.CreateFromConfig(name, &providerCfg); err != nil {
			return nil, fmt.Errorf("failed to initialize provider '%s': %w", name, err)
		}
	}
	return r, nil
}

// CreateFromConfig creates and registers a provider from configuration.
func (r *ProviderRegistry) CreateFromConfig(name string, cfg *config.ProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("provider config cannot be nil")
	}

	provider, err := NewOpenAIProvider(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register provider: %w", err)
	}
	return provider, nil
}

// GetProvider retrieves a provider by name.
func (r *ProviderRegistry) GetProvider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: provider '%s' not configured", config.ErrConfigurationRequired, name)
	}
	return provider, nil
}
