package ambtypes

import "errors"

// Sentinel errors for the coordinator's error taxonomy. Using sentinels
// lets callers match with errors.Is across package boundaries.
var (
	// ErrInvalidRiskLevel is returned when a Proposal is constructed with a
	// risk level outside the closed {low,medium,high,critical} set.
	ErrInvalidRiskLevel = errors.New("risk level must be one of low, medium, high, critical")

	// ErrUnsafePath is raised by path safety; it aborts the containing
	// operation and is never masked.
	ErrUnsafePath = errors.New("unsafe path")

	// ErrPatchApply is internal to the patch engine; converted to
	// ApplyResult{OK:false} at the boundary.
	ErrPatchApply = errors.New("patch apply failed")

	// ErrVerificationFailure marks a non-zero-exit check; causes rollback.
	ErrVerificationFailure = errors.New("verification failed")

	// ErrAllowlistRejection is returned by the sandbox for argv rejected by
	// policy before the runtime is invoked.
	ErrAllowlistRejection = errors.New("argv rejected by allowlist policy")

	// ErrRuntimeMissing indicates the sandbox runtime binary is absent.
	ErrRuntimeMissing = errors.New("sandbox runtime missing")

	// ErrModelClient wraps transient or permanent model-client failures.
	ErrModelClient = errors.New("model client error")

	// ErrApprovalFailure indicates a webhook transport/parse failure,
	// which is always treated as a deny.
	ErrApprovalFailure = errors.New("approval handler failure")

	// ErrAgentFailure marks a single agent's contribution as empty for a
	// cycle; it never fails the cycle itself.
	ErrAgentFailure = errors.New("agent error")

	// ErrCycle is a cycle-level error that triggers control-plane backoff.
	ErrCycle = errors.New("cycle error")
)
