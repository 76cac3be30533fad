package crosspoll

import (
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
)

func mustProposal(t *testing.T, agent, title, diff string, risk ambtypes.RiskLevel, files []string, loc int, tags []string) ambtypes.Proposal {
	t.Helper()
	p, err := ambtypes.NewProposal(agent, title, "desc", diff, risk, "rationale", files, loc, tags)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}
	return p
}

func TestRunFallsBackToBaseWhenNoRefinedProposals(t *testing.T) {
	base := []ambtypes.Proposal{
		mustProposal(t, "agentA", "Fix", "diff1", ambtypes.RiskLow, []string{"a.go"}, 5, nil),
	}
	result := Run(base, nil)
	if result.Metadata.Round1Count != 1 {
		t.Fatalf("expected fallback to base proposals, got round1=%d", result.Metadata.Round1Count)
	}
	if len(result.Proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(result.Proposals))
	}
}

func TestRunDedupesIdenticalProposals(t *testing.T) {
	p1 := mustProposal(t, "agentA", "Fix bug", "same-diff", ambtypes.RiskLow, []string{"a.go"}, 5, nil)
	p2 := mustProposal(t, "agentA", "Fix bug", "same-diff", ambtypes.RiskLow, []string{"a.go"}, 5, nil)
	result := Run(nil, [][]ambtypes.Proposal{{p1, p2}})
	if result.Metadata.Round2DedupedCount != 1 {
		t.Fatalf("expected dedupe to 1, got %d", result.Metadata.Round2DedupedCount)
	}
}

func TestRunPicksHigherScoringWinnerInConflictCluster(t *testing.T) {
	low := mustProposal(t, "agentA", "Small fix", "diffA", ambtypes.RiskLow, []string{"shared.go"}, 5, nil)
	critical := mustProposal(t, "agentB", "Big fix", "diffB", ambtypes.RiskCritical, []string{"shared.go"}, 5, []string{"security"})
	result := Run(nil, [][]ambtypes.Proposal{{low, critical}})

	if len(result.Proposals) != 1 {
		t.Fatalf("expected conflicting proposals to collapse to 1 winner, got %d", len(result.Proposals))
	}
	if result.Proposals[0].Agent != "agentB" {
		t.Fatalf("expected higher-scoring critical+security proposal to win, got %q", result.Proposals[0].Agent)
	}
}

func TestRunKeepsDisjointProposalsSeparate(t *testing.T) {
	a := mustProposal(t, "agentA", "Fix A", "diffA", ambtypes.RiskLow, []string{"a.go"}, 5, nil)
	b := mustProposal(t, "agentB", "Fix B", "diffB", ambtypes.RiskLow, []string{"b.go"}, 5, nil)
	result := Run(nil, [][]ambtypes.Proposal{{a, b}})
	if len(result.Proposals) != 2 {
		t.Fatalf("expected 2 independent proposals, got %d", len(result.Proposals))
	}
}

func TestRunOrdersWinnersByScoreThenAgentThenTitle(t *testing.T) {
	low := mustProposal(t, "zeta", "Z title", "diffA", ambtypes.RiskLow, []string{"a.go"}, 1, nil)
	high := mustProposal(t, "alpha", "A title", "diffB", ambtypes.RiskHigh, []string{"b.go"}, 1, nil)
	result := Run(nil, [][]ambtypes.Proposal{{low, high}})
	if len(result.Proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(result.Proposals))
	}
	if result.Proposals[0].Agent != "alpha" {
		t.Fatalf("expected higher risk-weighted proposal first, got %q", result.Proposals[0].Agent)
	}
}
