package policy

import "github.com/lexgate/llmgate"

// RoundRobinStrategy keeps the rotation order the gate applied and ignores
// load entirely. Useful when all providers have identical capacity and
// strict turn-taking is wanted.
type RoundRobinStrategy struct{}

var _ llmgate.Strategy = (*RoundRobinStrategy)(nil)

// Select returns candidates in their rotated arrival order.
func (p *RoundRobinStrategy) Select(candidates []llmgate.ProviderCandidate) []llmgate.ProviderCandidate {
	result := make([]llmgate.ProviderCandidate, len(candidates))
	copy(result, candidates)
	return result
}
