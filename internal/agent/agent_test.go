package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/boshu2/ambient/internal/ambtypes"
)

type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("fakeClient: out of scripted responses")
}

type fakeStatusError struct {
	code int
}

func (e *fakeStatusError) StatusCode() int { return e.code }
func (e *fakeStatusError) Error() string   { return "status error" }

func TestSpecialistProposeParsesFencedJSON(t *testing.T) {
	raw := "Here is my analysis.\n```json\n" +
		`[{"title":"Fix race","description":"d","diff":"diff --git a/x b/x","risk_level":"low","rationale":"r","files_touched":["x"],"estimated_loc_change":3,"tags":["bug"]}]` +
		"\n```\nLet me know what you think."
	client := &fakeClient{responses: []string{raw}}
	s := NewSpecialist(Identity{Name: "tester"}, client)

	proposals, err := s.Propose(context.Background(), ambtypes.RepoContext{})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	if proposals[0].Title != "Fix race" {
		t.Fatalf("unexpected title: %q", proposals[0].Title)
	}
	if proposals[0].RiskLevel != ambtypes.RiskLow {
		t.Fatalf("unexpected risk level: %q", proposals[0].RiskLevel)
	}
}

func TestSpecialistProposeSkipsInvalidRiskLevelEntries(t *testing.T) {
	raw := `[{"title":"A","risk_level":"low","diff":"d"},{"title":"B","risk_level":"not-a-level","diff":"d"}]`
	client := &fakeClient{responses: []string{raw}}
	s := NewSpecialist(Identity{Name: "tester"}, client)

	proposals, err := s.Propose(context.Background(), ambtypes.RepoContext{})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected invalid entry dropped, got %d proposals", len(proposals))
	}
}

func TestSpecialistProposeErrorsOnNoJSONArray(t *testing.T) {
	client := &fakeClient{responses: []string{"I could not find anything actionable."}}
	s := NewSpecialist(Identity{Name: "tester"}, client)

	if _, err := s.Propose(context.Background(), ambtypes.RepoContext{}); err == nil {
		t.Fatalf("expected error for missing JSON array")
	}
}

func TestCompleteWithRetryStopsOnNonRetryableStatus(t *testing.T) {
	client := &fakeClient{errs: []error{&fakeStatusError{code: 400}}}
	s := NewSpecialist(Identity{Name: "tester"}, client)
	s.MaxRetries = 6

	_, err := s.completeWithRetry(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly 1 call for non-retryable status, got %d", client.calls)
	}
}

func TestCompleteWithRetryRetriesRetryableStatusThenSucceeds(t *testing.T) {
	client := &fakeClient{
		errs:      []error{&fakeStatusError{code: 503}, nil},
		responses: []string{"", "ok"},
	}
	s := NewSpecialist(Identity{Name: "tester"}, client)
	s.MaxRetries = 6

	out, err := s.completeWithRetry(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("completeWithRetry: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output: %q", out)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}
