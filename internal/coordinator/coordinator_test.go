package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/boshu2/ambient/internal/agent"
	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/approval"
	"github.com/boshu2/ambient/internal/contextbuild"
	"github.com/boshu2/ambient/internal/impact"
	"github.com/boshu2/ambient/internal/risk"
)

type fakeModelClient struct {
	response string
}

func (f fakeModelClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.response, nil
}

func fencedProposalJSON(agentName string) string {
	return fmt.Sprintf("```json\n[{\"title\":\"fix\",\"description\":\"d\",\"diff\":\"diff --git a/x b/x\\n\",\"risk_level\":\"low\",\"rationale\":\"r\",\"files_touched\":[\"x\"],\"estimated_loc_change\":1,\"tags\":[]}]\n```\n") + "// agent=" + agentName
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	root := t.TempDir()
	c := New(root, DefaultConfig())
	c.Builder = contextbuild.NewBuilder(root)
	c.Approval = approval.AlwaysReject{}
	return c
}

func TestRecordProposalTimestampsPrunesOutsideWindow(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.ThrottleWindow = time.Hour
	c.proposalTimestamps = []time.Time{time.Now().Add(-2 * time.Hour)}

	windowSize := c.recordProposalTimestamps(1)
	if windowSize != 1 {
		t.Fatalf("expected stale timestamp pruned and only the new one counted, got %d", windowSize)
	}
}

func TestRecordProposalTimestampsAccumulatesWithinWindow(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.ThrottleWindow = time.Hour

	c.recordProposalTimestamps(3)
	windowSize := c.recordProposalTimestamps(2)
	if windowSize != 5 {
		t.Fatalf("expected 5 timestamps tracked in window, got %d", windowSize)
	}
}

func TestApplyProposalsThrottlesWholeBatchWhenOverLimit(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.MaxProposalsPerHour = 1
	c.Cfg.ThrottleWindow = time.Hour

	p1, _ := ambtypes.NewProposal("alpha", "one", "d", "diff --git a/x b/x\n", ambtypes.RiskLow, "r", []string{"x"}, 1, nil)
	p2, _ := ambtypes.NewProposal("alpha", "two", "d", "diff --git a/y b/y\n", ambtypes.RiskLow, "r", []string{"y"}, 1, nil)

	result := c.applyProposals(context.Background(), "run1", []ambtypes.Proposal{p1, p2})
	if len(result.Applied) != 0 {
		t.Fatalf("expected no proposals applied once throttled, got %d", len(result.Applied))
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected both proposals marked failed, got %d", len(result.Failed))
	}
	for _, f := range result.Failed {
		if f.Reason != "throttled" {
			t.Fatalf("expected reason=throttled, got %q", f.Reason)
		}
	}
}

func TestKillSwitchTripsAfterEnoughFailures(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.MinFailuresBeforeDisable = 2
	c.Cfg.FailureRateTrip = 0.5

	c.recordApplyOutcome(false)
	c.recordVerifyOutcome(false)

	if !c.killSwitchTripped() {
		t.Fatalf("expected kill switch tripped after 2 failures at 100%% failure rate")
	}
}

func TestKillSwitchStaysClosedBelowMinFailures(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.MinFailuresBeforeDisable = 3
	c.Cfg.FailureRateTrip = 0.1

	c.recordApplyOutcome(false)
	c.recordVerifyOutcome(false)

	if c.killSwitchTripped() {
		t.Fatalf("expected kill switch closed below MinFailuresBeforeDisable")
	}
}

func TestEscalateBackoffDoublesUntilCap(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.InitialBackoff = time.Second
	c.Cfg.MaxBackoff = time.Minute
	c.backoffCurrent = c.Cfg.InitialBackoff

	c.escalateBackoff()
	first := c.backoffCurrent
	c.escalateBackoff()
	second := c.backoffCurrent

	if second <= first {
		t.Fatalf("expected backoff to escalate, got %v then %v", first, second)
	}
	if c.backoffUntil.Before(time.Now()) {
		t.Fatalf("expected backoffUntil to be in the future")
	}
}

func TestResetBackoffRestoresInitialValue(t *testing.T) {
	c := newTestCoordinator(t)
	c.Cfg.InitialBackoff = time.Second
	c.escalateBackoff()
	c.escalateBackoff()
	c.resetBackoff()

	if c.backoffCurrent != c.Cfg.InitialBackoff {
		t.Fatalf("expected backoff reset to initial value, got %v", c.backoffCurrent)
	}
	if !c.backoffUntil.IsZero() {
		t.Fatalf("expected backoffUntil cleared on reset")
	}
}

func TestRunCycleGatedSkipsWhilePaused(t *testing.T) {
	c := newTestCoordinator(t)
	c.Pause()

	if err := c.runCycleGated(context.Background(), ambtypes.AmbientEvent{Kind: "manual_trigger"}); err != nil {
		t.Fatalf("expected no error while paused, got %v", err)
	}
	if len(c.proposalTimestamps) != 0 {
		t.Fatalf("expected no proposal activity recorded while paused")
	}
}

func TestComputeRadiusReturnsZeroValueWithoutGraph(t *testing.T) {
	c := newTestCoordinator(t)
	r := c.computeRadius(ambtypes.AmbientEvent{Kind: "file_change", Data: map[string]any{"files": []string{"a.go"}}})
	if r.Truncated || len(r.Dependencies) != 0 {
		t.Fatalf("expected zero-value radius with no graph wired, got %+v", r)
	}
}

func TestFanOutProposeCollectsAcrossAgents(t *testing.T) {
	c := newTestCoordinator(t)
	c.Agents = []*agent.Specialist{
		agent.NewSpecialist(agent.Identity{Name: "alpha"}, fakeModelClient{response: fencedProposalJSON("alpha")}),
		agent.NewSpecialist(agent.Identity{Name: "beta"}, fakeModelClient{response: fencedProposalJSON("beta")}),
	}

	repoCtx := c.Builder.Build(ambtypes.AmbientEvent{Kind: "manual_trigger"}, impact.Radius{}, "", "", nil)
	proposals, err := c.fanOutPropose(context.Background(), repoCtx)
	if err != nil {
		t.Fatalf("fanOutPropose: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected 2 proposals (one per agent), got %d", len(proposals))
	}
}

func TestProcessProposalDirectStopsAtDryRun(t *testing.T) {
	c := newTestCoordinator(t)
	p, err := ambtypes.NewProposal("alpha", "risky change", "desc", "diff --git a/x b/x\n", ambtypes.RiskHigh, "rationale", []string{"x"}, 50, nil)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}

	applied, failure := c.processProposalDirect(context.Background(), "run1", 1, p)
	if applied {
		t.Fatalf("expected proposal not applied under AlwaysReject dry-run handler")
	}
	if failure == nil || failure.Reason != "dry_run" {
		t.Fatalf("expected reason=dry_run, got %+v", failure)
	}
}

func TestProcessProposalDirectStopsAtApprovalRejection(t *testing.T) {
	c := newTestCoordinator(t)
	c.Approval = rejectingHandler{}
	p, err := ambtypes.NewProposal("alpha", "risky change", "desc", "diff --git a/x b/x\n", ambtypes.RiskCritical, "rationale", []string{"x"}, 50, nil)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}

	applied, failure := c.processProposalDirect(context.Background(), "run1", 1, p)
	if applied {
		t.Fatalf("expected proposal not applied once approval is rejected")
	}
	if failure == nil || failure.Reason != "approval_rejected" {
		t.Fatalf("expected reason=approval_rejected, got %+v", failure)
	}
}

// rejectingHandler is a test-only approval.Handler (distinct from
// approval.AlwaysReject, which is special-cased as the dry-run signal) that
// always rejects with an explicit reason.
type rejectingHandler struct{}

func (rejectingHandler) Decide(ctx context.Context, p ambtypes.Proposal, eval risk.Evaluation) (approval.Decision, error) {
	return approval.Decision{Approved: false, Reason: "test rejection"}, nil
}
