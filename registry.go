package llmgate

// ProviderDescriptor is the static configuration for one backend model.
// Immutable for the process lifetime.
type ProviderDescriptor struct {
	Name              string   `yaml:"name"`
	Model             string   `yaml:"model"`
	TokensPerMinute   int64    `yaml:"tokens_per_minute"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	AffinityTags      []string `yaml:"affinity_tags"`

	// BaseURL is the provider's endpoint, consumed by the adapter
	// constructor wiring (see examples/basic); the gate itself never dials
	// upstreams. APIKey, when set, overrides the gate-wide key on dispatch.
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// HasAffinity reports whether the descriptor carries the given tag.
func (d ProviderDescriptor) HasAffinity(tag string) bool {
	for _, t := range d.AffinityTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Registry is the static table of configured providers.
type Registry struct {
	providers []ProviderDescriptor
	byName    map[string]ProviderDescriptor
}

// NewRegistry builds a registry from descriptors. Order is preserved and
// used as the round-robin base order.
func NewRegistry(descriptors []ProviderDescriptor) *Registry {
	byName := make(map[string]ProviderDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	return &Registry{
		providers: descriptors,
		byName:    byName,
	}
}

// All returns the configured descriptors in declaration order.
func (r *Registry) All() []ProviderDescriptor {
	return r.providers
}

// Get returns the descriptor for a provider name.
func (r *Registry) Get(name string) (ProviderDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Len returns the number of configured providers.
func (r *Registry) Len() int {
	return len(r.providers)
}
