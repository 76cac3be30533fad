// Package agent defines the specialist-agent abstraction: a model-backed
// participant that proposes or refines changes against a RepoContext. The
// retry/backoff policy on the model client mirrors the original Python
// client's rule exactly (exponential backoff with jitter on 429/503/504,
// immediate failure on anything else, capped at 6 attempts).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/boshu2/ambient/internal/ambtypes"
)

// ErrMaxRetriesExceeded is returned once the retry budget is exhausted.
var ErrMaxRetriesExceeded = errors.New("agent: max retries exceeded")

// retryableStatus are the HTTP statuses the original client backs off and
// retries on; everything else fails the call immediately.
var retryableStatus = map[int]bool{429: true, 503: true, 504: true}

// ModelClient is the minimal surface a model backend must expose. The
// Anthropic-backed implementation lives in anthropic.go.
type ModelClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Identity names one specialist's persona and system prompt.
type Identity struct {
	Name         string
	SystemPrompt string
	Tags         []string
}

// Specialist is one agent participant in a cycle: it proposes changes from
// a RepoContext and can refine proposals using other agents' output during
// a later round.
type Specialist struct {
	Identity   Identity
	Client     ModelClient
	MaxRetries int
}

// NewSpecialist returns a Specialist with the default retry budget.
func NewSpecialist(identity Identity, client ModelClient) *Specialist {
	return &Specialist{Identity: identity, Client: client, MaxRetries: 6}
}

// Propose asks the specialist for fresh proposals against repoCtx.
func (s *Specialist) Propose(ctx context.Context, repoCtx ambtypes.RepoContext) ([]ambtypes.Proposal, error) {
	prompt := renderProposePrompt(repoCtx)
	raw, err := s.completeWithRetry(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ambtypes.ErrAgentFailure, s.Identity.Name, err)
	}
	return s.parseProposals(raw)
}

// Refine asks the specialist to revise its own or another agent's
// proposal in light of peer proposals surfaced during cross-pollination.
func (s *Specialist) Refine(ctx context.Context, repoCtx ambtypes.RepoContext, original ambtypes.Proposal, peers []ambtypes.Proposal) ([]ambtypes.Proposal, error) {
	prompt := renderRefinePrompt(repoCtx, original, peers)
	raw, err := s.completeWithRetry(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ambtypes.ErrAgentFailure, s.Identity.Name, err)
	}
	return s.parseProposals(raw)
}

// completeWithRetry retries transient failures with the original client's
// exact backoff formula: (2^attempt)*0.5s plus up to 10% jitter.
func (s *Specialist) completeWithRetry(ctx context.Context, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		out, err := s.Client.Complete(ctx, s.Identity.SystemPrompt, userPrompt)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var statusErr interface{ StatusCode() int }
		if errors.As(err, &statusErr) && !retryableStatus[statusErr.StatusCode()] {
			return "", err
		}

		sleep := time.Duration(float64(time.Second) * 0.5 * pow2(attempt))
		jitter := time.Duration(rand.Float64() * 0.1 * float64(sleep))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep + jitter):
		}
	}
	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func pow2(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

var fenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseProposals tolerantly extracts a JSON array of proposals from raw
// model output, which may be fenced in markdown or preceded/followed by
// prose commentary.
func (s *Specialist) parseProposals(raw string) ([]ambtypes.Proposal, error) {
	candidate := raw
	if m := fenceRE.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}
	candidate = strings.TrimSpace(candidate)

	start := strings.Index(candidate, "[")
	end := strings.LastIndex(candidate, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON array found in agent output", ambtypes.ErrAgentFailure)
	}
	candidate = candidate[start : end+1]

	var rawProposals []struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Diff         string   `json:"diff"`
		RiskLevel    string   `json:"risk_level"`
		Rationale    string   `json:"rationale"`
		FilesTouched []string `json:"files_touched"`
		LOCChange    int      `json:"estimated_loc_change"`
		Tags         []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(candidate), &rawProposals); err != nil {
		return nil, fmt.Errorf("%w: malformed proposal JSON: %v", ambtypes.ErrAgentFailure, err)
	}

	out := make([]ambtypes.Proposal, 0, len(rawProposals))
	for _, rp := range rawProposals {
		p, err := ambtypes.NewProposal(
			s.Identity.Name, rp.Title, rp.Description, rp.Diff,
			ambtypes.RiskLevel(rp.RiskLevel), rp.Rationale,
			rp.FilesTouched, rp.LOCChange, rp.Tags,
		)
		if err != nil {
			continue // one malformed proposal in a batch should not sink the others
		}
		out = append(out, p)
	}
	return out, nil
}

func renderProposePrompt(ctx ambtypes.RepoContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %+v\n", ctx.Task)
	fmt.Fprintf(&b, "Repository has %d tracked files.\n", ctx.FileCount)
	if ctx.FailingLogs != "" {
		fmt.Fprintf(&b, "Failing output:\n%s\n", ctx.FailingLogs)
	}
	if ctx.CurrentDiff != "" {
		fmt.Fprintf(&b, "Current working diff:\n%s\n", ctx.CurrentDiff)
	}
	if len(ctx.HotPaths) > 0 {
		fmt.Fprintf(&b, "Hot paths: %s\n", strings.Join(ctx.HotPaths, ", "))
	}
	for name, content := range ctx.ImpactContents {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", name, content)
	}
	b.WriteString("Respond with a JSON array of proposals.")
	return b.String()
}

func renderRefinePrompt(ctx ambtypes.RepoContext, original ambtypes.Proposal, peers []ambtypes.Proposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your proposal: %s\n%s\n", original.Title, original.Diff)
	for _, peer := range peers {
		fmt.Fprintf(&b, "Peer proposal (%s): %s\n%s\n", peer.Agent, peer.Title, peer.Diff)
	}
	b.WriteString("Refine your proposal in light of the peer proposals above. Respond with a JSON array containing exactly one proposal.")
	return b.String()
}
