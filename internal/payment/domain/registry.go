package domain

// Registry resolves a provider name to its adapter. Built once at startup
// from the configured adapters.
type Registry struct {
	adapters map[string]ProviderAdapter
}

func NewRegistry(adapters ...ProviderAdapter) *Registry {
	m := make(map[string]ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(provider string) (ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return adapter, nil
}
