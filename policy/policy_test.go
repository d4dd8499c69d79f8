package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexgate/llmgate"
	"github.com/lexgate/llmgate/policy"
)

func names(cands []llmgate.ProviderCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}

func TestLeastLoaded_OrdersByLoad(t *testing.T) {
	s := &policy.LeastLoadedStrategy{}
	got := s.Select([]llmgate.ProviderCandidate{
		{Name: "a", Load: 0.6},
		{Name: "b", Load: 0.1},
		{Name: "c", Load: 0.3},
	})
	assert.Equal(t, []string{"b", "c", "a"}, names(got))
}

func TestLeastLoaded_AffinityWinsUnderCeiling(t *testing.T) {
	s := &policy.LeastLoadedStrategy{}
	got := s.Select([]llmgate.ProviderCandidate{
		{Name: "cold", Load: 0.1},
		{Name: "tagged", Load: 0.5, AffinityMatch: true},
	})
	assert.Equal(t, []string{"tagged", "cold"}, names(got))
}

func TestLeastLoaded_SaturatedAffinityLosesPreference(t *testing.T) {
	s := &policy.LeastLoadedStrategy{}
	got := s.Select([]llmgate.ProviderCandidate{
		{Name: "tagged", Load: 0.9, AffinityMatch: true},
		{Name: "cold", Load: 0.1},
	})
	assert.Equal(t, []string{"cold", "tagged"}, names(got))
}

func TestLeastLoaded_CustomCeiling(t *testing.T) {
	s := &policy.LeastLoadedStrategy{AffinityCeiling: 0.3}
	got := s.Select([]llmgate.ProviderCandidate{
		{Name: "tagged", Load: 0.5, AffinityMatch: true},
		{Name: "cold", Load: 0.1},
	})
	assert.Equal(t, []string{"cold", "tagged"}, names(got))
}

func TestLeastLoaded_StableForTies(t *testing.T) {
	s := &policy.LeastLoadedStrategy{}
	got := s.Select([]llmgate.ProviderCandidate{
		{Name: "first", Load: 0.2},
		{Name: "second", Load: 0.2},
	})
	assert.Equal(t, []string{"first", "second"}, names(got))
}

func TestRoundRobin_KeepsArrivalOrder(t *testing.T) {
	s := &policy.RoundRobinStrategy{}
	in := []llmgate.ProviderCandidate{
		{Name: "b", Load: 0.9},
		{Name: "a", Load: 0.1},
	}
	got := s.Select(in)
	assert.Equal(t, []string{"b", "a"}, names(got))

	// The input slice is not mutated.
	got[0].Name = "mutated"
	assert.Equal(t, "b", in[0].Name)
}
