package policy

import (
	"sort"

	"github.com/lexgate/llmgate"
)

// LeastLoadedStrategy orders candidates by ascending window load, preferring
// an affinity match whose load is still below the saturation ceiling. This
// is the gate's default behavior, exported so it can be composed or wrapped.
type LeastLoadedStrategy struct {
	// AffinityCeiling is the load above which an affinity match loses its
	// preference. Zero means 0.8.
	AffinityCeiling float64
}

var _ llmgate.Strategy = (*LeastLoadedStrategy)(nil)

// Select orders candidates: preferred affinity matches first, then by load.
func (p *LeastLoadedStrategy) Select(candidates []llmgate.ProviderCandidate) []llmgate.ProviderCandidate {
	ceiling := p.AffinityCeiling
	if ceiling == 0 {
		ceiling = 0.8
	}

	result := make([]llmgate.ProviderCandidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ci, cj := result[i], result[j]

		iPref := ci.AffinityMatch && ci.Load < ceiling
		jPref := cj.AffinityMatch && cj.Load < ceiling
		if iPref != jPref {
			return iPref
		}
		return ci.Load < cj.Load
	})

	return result
}
