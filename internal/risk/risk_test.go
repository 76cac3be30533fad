package risk

import (
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
)

func mustProposal(t *testing.T, risk ambtypes.RiskLevel, files []string, loc int, tags []string) ambtypes.Proposal {
	t.Helper()
	p, err := ambtypes.NewProposal("agent", "title", "desc", "diff", risk, "rationale", files, loc, tags)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}
	return p
}

func TestEvaluateLowRiskSmallChangeIsAutoApplyEligible(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskLow, []string{"pkg/a.go"}, 10, nil)
	eval := Evaluate(DefaultPolicy(), p)
	if eval.RequiresApproval {
		t.Fatalf("expected no approval required, got factors %v", eval.Factors)
	}
	if !eval.AutoApplyEligible {
		t.Fatalf("expected auto-apply eligible")
	}
}

func TestEvaluateHighRiskRequiresApproval(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskHigh, []string{"pkg/a.go"}, 10, nil)
	eval := Evaluate(DefaultPolicy(), p)
	if !eval.RequiresApproval {
		t.Fatalf("expected approval required for high risk")
	}
	if eval.AutoApplyEligible {
		t.Fatalf("expected not auto-apply eligible")
	}
}

func TestEvaluateSensitivePathForcesApproval(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskLow, []string{"config/production.yaml"}, 5, nil)
	eval := Evaluate(DefaultPolicy(), p)
	if !eval.RequiresApproval {
		t.Fatalf("expected sensitive path to force approval, got factors %v", eval.Factors)
	}
}

func TestEvaluateSensitivePathMatchesSubstringCaseInsensitive(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskLow, []string{"src/Password_Reset.go"}, 5, nil)
	eval := Evaluate(DefaultPolicy(), p)
	if !eval.RequiresApproval {
		t.Fatalf("expected mid-path case-insensitive match on 'password' to force approval, got factors %v", eval.Factors)
	}
}

func TestEvaluateNonSensitivePathDoesNotForceApproval(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskLow, []string{"pkg/widget.go"}, 5, nil)
	eval := Evaluate(DefaultPolicy(), p)
	if eval.RequiresApproval {
		t.Fatalf("expected no approval required, got factors %v", eval.Factors)
	}
}

func TestEvaluateLargeChangeExceedsLOCLimit(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskLow, []string{"pkg/a.go"}, 500, nil)
	eval := Evaluate(DefaultPolicy(), p)
	if !eval.RequiresApproval {
		t.Fatalf("expected LOC limit to force approval")
	}
}

func TestEvaluateSensitiveTagForcesApproval(t *testing.T) {
	p := mustProposal(t, ambtypes.RiskLow, []string{"pkg/a.go"}, 5, []string{"security"})
	eval := Evaluate(DefaultPolicy(), p)
	if !eval.RequiresApproval {
		t.Fatalf("expected security tag to force approval")
	}
}

func TestEvaluateSensitiveTagsFullSet(t *testing.T) {
	for _, tag := range []string{"authentication", "payment", "billing", "database"} {
		p := mustProposal(t, ambtypes.RiskLow, []string{"pkg/a.go"}, 5, []string{tag})
		eval := Evaluate(DefaultPolicy(), p)
		if !eval.RequiresApproval {
			t.Fatalf("expected tag %q to force approval", tag)
		}
	}
}
