package llmgate

import "sort"

// Strategy orders the available providers for a request. The dispatcher
// tries them in the returned order: first as the primary, the next distinct
// provider as the fallback.
type Strategy interface {
	// Select orders candidates by priority (highest first). Candidates are
	// already rotated by the gate's round-robin index, so a stable sort
	// breaks ties fairly across requests.
	Select(candidates []ProviderCandidate) []ProviderCandidate
}

// ProviderCandidate is a provider currently able to take the request.
type ProviderCandidate struct {
	Name          string
	Load          float64 // current window load fraction in [0,1]
	AffinityMatch bool    // descriptor carries the request's affinity hint
}

// affinityLoadCeiling is the load above which an affinity match no longer
// wins over a less-loaded provider.
const affinityLoadCeiling = 0.8

// defaultStrategy is preference-then-least-loaded: an affinity match below
// the load ceiling first, then ascending load, ties broken by rotation
// order.
type defaultStrategy struct{}

func (defaultStrategy) Select(candidates []ProviderCandidate) []ProviderCandidate {
	result := make([]ProviderCandidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i], result[j]

		iPref := ci.AffinityMatch && ci.Load < affinityLoadCeiling
		jPref := cj.AffinityMatch && cj.Load < affinityLoadCeiling
		if iPref != jPref {
			return iPref
		}
		return ci.Load < cj.Load
	})

	return result
}
