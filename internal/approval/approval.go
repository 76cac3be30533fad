// Package approval decides whether a risk-gated Proposal may be applied:
// interactively via a terminal prompt, by a fixed always-approve or
// always-reject policy, or by forwarding the decision to a webhook.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/risk"
)

// Decision is the outcome of an approval request.
type Decision struct {
	Approved bool
	Reason   string
}

// Handler decides whether a proposal, already risk-evaluated, may be
// applied.
type Handler interface {
	Decide(ctx context.Context, p ambtypes.Proposal, eval risk.Evaluation) (Decision, error)
}

// AlwaysApprove approves every request; intended for auto-apply-eligible
// proposals that never reach a Handler, or for trusted low-stakes repos.
type AlwaysApprove struct{}

func (AlwaysApprove) Decide(context.Context, ambtypes.Proposal, risk.Evaluation) (Decision, error) {
	return Decision{Approved: true, Reason: "always-approve policy"}, nil
}

// AlwaysReject rejects every request, useful for a dry-run or read-only
// coordinator mode.
type AlwaysReject struct{}

func (AlwaysReject) Decide(context.Context, ambtypes.Proposal, risk.Evaluation) (Decision, error) {
	return Decision{Approved: false, Reason: "always-reject policy"}, nil
}

// Interactive prompts a human at the terminal using huh, mirroring the
// confirm-then-detail form pattern used for campaign configuration
// prompts elsewhere in the ecosystem.
type Interactive struct{}

func (Interactive) Decide(ctx context.Context, p ambtypes.Proposal, eval risk.Evaluation) (Decision, error) {
	var approve bool
	var reason string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Apply proposal %q from %s?", p.Title, p.Agent)).
				Description(fmt.Sprintf("risk=%s score=%d factors=%v", p.RiskLevel, eval.RiskScore, eval.Factors)).
				Value(&approve),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return Decision{}, fmt.Errorf("approval: interactive prompt: %w", err)
	}

	if !approve {
		reasonForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Reason for rejection (optional)").
					Value(&reason),
			),
		)
		if err := reasonForm.RunWithContext(ctx); err != nil {
			return Decision{}, fmt.Errorf("approval: rejection reason prompt: %w", err)
		}
	}

	return Decision{Approved: approve, Reason: reason}, nil
}

// Webhook forwards the decision to an external endpoint and fails closed:
// any non-200 response, transport error, or unparseable body is treated
// as a rejection.
type Webhook struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewWebhook returns a Webhook handler with a bounded HTTP client.
func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 10 * time.Second}, Timeout: 10 * time.Second}
}

type webhookRequest struct {
	Proposal   ambtypes.Proposal `json:"proposal"`
	Evaluation risk.Evaluation   `json:"evaluation"`
}

type webhookResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (w *Webhook) Decide(ctx context.Context, p ambtypes.Proposal, eval risk.Evaluation) (Decision, error) {
	body, err := json.Marshal(webhookRequest{Proposal: p, Evaluation: eval})
	if err != nil {
		return Decision{Approved: false, Reason: "failed to encode webhook request"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Decision{Approved: false, Reason: "failed to build webhook request"}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return Decision{Approved: false, Reason: fmt.Sprintf("webhook unreachable: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{Approved: false, Reason: fmt.Sprintf("webhook returned status %d", resp.StatusCode)}, nil
	}

	var parsed webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Decision{Approved: false, Reason: "webhook response unparseable"}, nil
	}

	return Decision{Approved: parsed.Approved, Reason: parsed.Reason}, nil
}

// ErrUnknownHandlerKind is returned by New for an unrecognized kind string.
var ErrUnknownHandlerKind = errors.New("approval: unknown handler kind")

// New constructs a Handler from a config-declared kind.
func New(kind, webhookURL string) (Handler, error) {
	switch kind {
	case "interactive":
		return Interactive{}, nil
	case "always_approve":
		return AlwaysApprove{}, nil
	case "always_reject":
		return AlwaysReject{}, nil
	case "webhook":
		return NewWebhook(webhookURL), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandlerKind, kind)
	}
}
