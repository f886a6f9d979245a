package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"horse.fit/storyline/internal/config"
)

const DefaultProviderName = "local"

// Registry stores synthesis providers and resolves the configured default.
type Registry struct {
	providers       map[string]Synthesizer
	defaultProvider string
}

func NewRegistry(defaultProvider string) *Registry {
	normalizedDefault := normalizeProviderName(defaultProvider)
	if normalizedDefault == "" {
		normalizedDefault = DefaultProviderName
	}
	return &Registry{
		providers:       make(map[string]Synthesizer),
		defaultProvider: normalizedDefault,
	}
}

// NewRegistryFromConfig registers the local provider plus every hosted
// provider that has an API key.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	registry := NewRegistry(cfg.NormalizedSynthesisProvider())
	providers := []Synthesizer{
		NewLocalProvider(cfg.SynthesisEndpoint, cfg.SynthesisModel, cfg.SynthesisMaxPromptTokens),
	}
	if key := strings.TrimSpace(cfg.AnthropicAPIKey); key != "" {
		providers = append(providers, NewAnthropicProvider(key, cfg.SynthesisModel, cfg.SynthesisMaxPromptTokens))
	}
	if key := strings.TrimSpace(cfg.OpenAIAPIKey); key != "" {
		providers = append(providers, NewOpenAIProvider(key, cfg.SynthesisModel, cfg.SynthesisMaxPromptTokens))
	}
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(provider Synthesizer) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeProviderName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

// Provider resolves a provider by name. Empty names use the default provider.
func (r *Registry) Provider(name string) (Synthesizer, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no synthesis providers are registered")
	}

	resolvedName := normalizeProviderName(name)
	if resolvedName == "" {
		resolvedName = r.defaultProvider
	}
	if provider, ok := r.providers[resolvedName]; ok {
		return provider, nil
	}
	return nil, fmt.Errorf("synthesis provider %q is not registered (available: %s)", resolvedName, strings.Join(r.ProviderNames(), ", "))
}

func (r *Registry) DefaultProvider() string {
	if r == nil {
		return ""
	}
	return r.defaultProvider
}

func (r *Registry) ProviderNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
