// Package coordinator runs the ambient analysis cycle: it drains debounced
// events off a queue, fans proposals out across specialist agents, cross-
// pollinates and risk-gates the results, applies approved proposals either
// directly to the main worktree (single-writer) or in isolated review
// worktrees (bounded concurrency), verifies them in the sandbox, and
// commits or discards. The run loop's ticker+select shape and its logger
// convention (log.New(os.Stdout, prefix, log.LstdFlags|log.LUTC)) are taken
// directly from the teacher pack's monitor loop.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/boshu2/ambient/internal/agent"
	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/approval"
	"github.com/boshu2/ambient/internal/contextbuild"
	"github.com/boshu2/ambient/internal/crosspoll"
	"github.com/boshu2/ambient/internal/impact"
	"github.com/boshu2/ambient/internal/patch"
	"github.com/boshu2/ambient/internal/redact"
	"github.com/boshu2/ambient/internal/risk"
	"github.com/boshu2/ambient/internal/sandbox"
	"github.com/boshu2/ambient/internal/telemetry"
	"github.com/boshu2/ambient/internal/vcs"
	"github.com/boshu2/ambient/internal/worktree"
)

// defaultIgnoredUntrackedPrefixes mirrors the original coordinator's
// git_is_clean default: untracked paths under these prefixes never count
// against the clean-worktree gate.
var defaultIgnoredUntrackedPrefixes = []string{
	".ambient/",
	".swarmguard/",
	".swarmguard_artifacts/",
	".pytest_cache/",
}

// Config bounds the coordinator's pacing and control-plane behavior.
type Config struct {
	DebounceWindow     time.Duration
	PeriodicScan       time.Duration
	MaxConcurrentAgent int64

	// ThrottleWindow and MaxProposalsPerHour bound the rolling-window
	// proposal throttle applied after cross-pollination, not the cycle
	// cadence itself.
	ThrottleWindow      time.Duration
	MaxProposalsPerHour int

	FailureWindowSize        int
	FailureRateTrip          float64
	MinFailuresBeforeDisable int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	RequireCleanBeforeApply  bool
	IgnoredUntrackedPrefixes []string

	// ReviewWorktreeEnabled selects review-worktree mode (bounded-
	// concurrency, per-proposal worktrees, no global lock) over direct-
	// apply mode (serialized single-writer on the main worktree).
	ReviewWorktreeEnabled bool
	MaxParallelReview     int
	KeepWorktrees         bool
}

// DefaultConfig matches the pacing named in spec §4.1/§4.13.
func DefaultConfig() Config {
	return Config{
		DebounceWindow:           2 * time.Second,
		PeriodicScan:             5 * time.Minute,
		MaxConcurrentAgent:       4,
		ThrottleWindow:           time.Hour,
		MaxProposalsPerHour:      12,
		FailureWindowSize:        20,
		FailureRateTrip:          0.5,
		MinFailuresBeforeDisable: 3,
		InitialBackoff:           30 * time.Second,
		MaxBackoff:               30 * time.Minute,
		RequireCleanBeforeApply:  true,
		IgnoredUntrackedPrefixes: append([]string(nil), defaultIgnoredUntrackedPrefixes...),
		ReviewWorktreeEnabled:    true,
		MaxParallelReview:        4,
	}
}

// FailedProposal records why a cross-pollinated proposal did not end up
// applied in a cycle.
type FailedProposal struct {
	Proposal ambtypes.Proposal
	Reason   string
	Detail   string
}

// CycleResult is the structured outcome of applying a cycle's winning
// proposals, in either direct or review-worktree mode.
type CycleResult struct {
	Applied []ambtypes.Proposal
	Failed  []FailedProposal
}

// Coordinator owns the event queue, the agent roster, and every
// pipeline stage between a raw event and a committed change.
type Coordinator struct {
	Root   string
	Cfg    Config
	Logger *log.Logger

	Agents        []*agent.Specialist
	Builder       *contextbuild.Builder
	Graph         *impact.Graph
	RiskPolicy    risk.Policy
	Approval      approval.Handler
	PatchEng      *patch.Engine
	Sandbox       *sandbox.Runner
	VCS           *vcs.Adapter
	Worktrees     *worktree.Manager
	Telemetry     *telemetry.Sink
	VerifyArgv    [][]string
	VerifyTimeout time.Duration
	CommitAuthor  string
	CommitEmail   string
	IncludeDiffs  bool

	events chan ambtypes.AmbientEvent
	sem    *semaphore.Weighted
	mu     sync.Mutex

	// debounceMu guards pendingEvents/debounceTimer against the race
	// between Run's select loop and the AfterFunc timer goroutine it arms.
	debounceMu    sync.Mutex
	pendingEvents []ambtypes.AmbientEvent
	debounceTimer *time.Timer

	// writeLock serializes main-worktree mutation (patch apply + verify +
	// commit) in direct-apply mode. Review-worktree mode writes to disjoint
	// subtrees and never takes it.
	writeLock sync.Mutex
	// runMu ensures at most one cycle runs at a time: the debounce timer
	// and the periodic ticker can both fire runCycleGated concurrently
	// without it.
	runMu sync.Mutex

	paused             bool
	proposalTimestamps []time.Time
	applyOutcomes      []bool
	verifyOutcomes     []bool
	backoffUntil       time.Time
	backoffCurrent     time.Duration
	breaker            *gobreaker.CircuitBreaker
}

// New constructs a Coordinator. Callers populate the exported dependency
// fields before calling Run.
func New(root string, cfg Config) *Coordinator {
	c := &Coordinator{
		Root:   root,
		Cfg:    cfg,
		Logger: defaultLogger(),
		events: make(chan ambtypes.AmbientEvent, 256),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentAgent),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ambient-cycle",
		MaxRequests: 1,
		Interval:    cfg.ThrottleWindow,
		Timeout:     cfg.InitialBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.FailureWindowSize) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRateTrip
		},
	})
	c.backoffCurrent = cfg.InitialBackoff
	c.VerifyArgv = [][]string{
		{"go", "build", "./..."},
		{"go", "vet", "./..."},
		{"go", "test", "./..."},
	}
	c.VerifyTimeout = 5 * time.Minute
	c.CommitAuthor = "ambient"
	c.CommitEmail = "ambient@localhost"
	return c
}

func defaultLogger() *log.Logger {
	return log.New(logWriter{}, "ambient ", log.LstdFlags|log.LUTC)
}

// logWriter discards by default; callers typically replace Coordinator.Logger
// with one pointed at os.Stdout or a file before calling Run.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) { return len(p), nil }

// Enqueue submits an event for debounced processing. Safe for concurrent
// callers (the file watcher and manual CLI triggers both write here).
func (c *Coordinator) Enqueue(evt ambtypes.AmbientEvent) {
	select {
	case c.events <- evt:
		c.emit("", "event_enqueued", map[string]any{"kind": evt.Kind})
	default:
		c.Logger.Printf("event queue full, dropping event kind=%s", evt.Kind)
		c.emit("", "event_dropped", map[string]any{"kind": evt.Kind, "reason": "queue_full"})
	}
}

// Pause stops new cycles from starting; in-flight cycles run to completion.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume re-enables cycle scheduling.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// RunOnce gates and runs a single cycle for trigger synchronously, without
// starting the debounce/periodic-scan loop. Used by the run-once CLI path.
func (c *Coordinator) RunOnce(ctx context.Context, trigger ambtypes.AmbientEvent) error {
	return c.runCycleGated(ctx, trigger)
}

// Run drains the event queue with a debounce window and fires periodic
// scans on a fixed tick, running at most one cycle at a time.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Cfg.PeriodicScan)
	defer ticker.Stop()

	fire := func(trigger ambtypes.AmbientEvent) {
		if err := c.runCycleGated(ctx, trigger); err != nil {
			c.Logger.Printf("cycle error: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-c.events:
			c.queueDebounced(ctx, evt, fire)
		case <-ticker.C:
			fire(ambtypes.AmbientEvent{Kind: string(ambtypes.EventPeriodicScan)})
		}
	}
}

// queueDebounced appends evt to the pending batch and (re)arms the debounce
// timer, guarded by debounceMu the same way internal/watcher.Watcher guards
// its own pending set and timer against the identical timer-goroutine-vs-
// caller-goroutine race.
func (c *Coordinator) queueDebounced(ctx context.Context, evt ambtypes.AmbientEvent, fire func(ambtypes.AmbientEvent)) {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	c.pendingEvents = append(c.pendingEvents, evt)
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.Cfg.DebounceWindow, func() {
		c.debounceMu.Lock()
		batch := c.pendingEvents
		c.pendingEvents = nil
		c.debounceMu.Unlock()

		if len(batch) == 0 {
			return
		}
		select {
		case <-ctx.Done():
		default:
			fire(batch[len(batch)-1])
		}
	})
}

// runCycleGated serializes cycle execution (the debounce timer and the
// periodic ticker can both race to call this) and holds off starting a new
// cycle while backing off from a prior exception.
func (c *Coordinator) runCycleGated(ctx context.Context, trigger ambtypes.AmbientEvent) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	backoffUntil := c.backoffUntil
	c.mu.Unlock()
	if time.Now().Before(backoffUntil) {
		return nil
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.runCycle(ctx, trigger)
	})
	if err != nil {
		c.escalateBackoff()
	}
	return err
}

// escalateBackoff doubles the backoff interval (capped at MaxBackoff) and
// arms backoffUntil; resetBackoff clears it back to the initial value.
func (c *Coordinator) escalateBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoffCurrent *= 2
	if c.backoffCurrent > c.Cfg.MaxBackoff {
		c.backoffCurrent = c.Cfg.MaxBackoff
	}
	c.backoffUntil = time.Now().Add(c.backoffCurrent)
}

func (c *Coordinator) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoffCurrent = c.Cfg.InitialBackoff
	c.backoffUntil = time.Time{}
}

// recordApplyOutcome and recordVerifyOutcome each track a bounded ring
// buffer of pass/fail results; killSwitchTripped reads their combined tail,
// per spec's control-plane kill switch.
func (c *Coordinator) recordApplyOutcome(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyOutcomes = appendBounded(c.applyOutcomes, ok, c.Cfg.FailureWindowSize)
}

func (c *Coordinator) recordVerifyOutcome(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyOutcomes = appendBounded(c.verifyOutcomes, ok, c.Cfg.FailureWindowSize)
}

func appendBounded(buf []bool, ok bool, max int) []bool {
	buf = append(buf, ok)
	if max > 0 && len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// killSwitchTripped reports whether the combined tail of apply and verify
// outcomes has at least MinFailuresBeforeDisable failures at a rate above
// FailureRateTrip, disabling auto-apply until the tail recovers.
func (c *Coordinator) killSwitchTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Cfg.MinFailuresBeforeDisable <= 0 {
		return false
	}
	combined := make([]bool, 0, len(c.applyOutcomes)+len(c.verifyOutcomes))
	combined = append(combined, c.applyOutcomes...)
	combined = append(combined, c.verifyOutcomes...)

	failures := 0
	for _, ok := range combined {
		if !ok {
			failures++
		}
	}
	if failures < c.Cfg.MinFailuresBeforeDisable {
		return false
	}
	return float64(failures)/float64(len(combined)) > c.Cfg.FailureRateTrip
}

// recordProposalTimestamps appends n timestamps (one per proposal in the
// current batch) to the rolling throttle window, prunes entries older than
// ThrottleWindow, and returns the resulting window size.
func (c *Coordinator) recordProposalTimestamps(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for i := 0; i < n; i++ {
		c.proposalTimestamps = append(c.proposalTimestamps, now)
	}
	cutoff := now.Add(-c.Cfg.ThrottleWindow)
	kept := make([]time.Time, 0, len(c.proposalTimestamps))
	for _, t := range c.proposalTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.proposalTimestamps = kept
	return len(kept)
}

// runCycle executes one full analysis cycle: log cycle_started, bail out
// while paused, build context, fan out propose/refine, cross-pollinate,
// and apply the winning proposals. Every exit path logs cycle_completed
// with a status.
func (c *Coordinator) runCycle(ctx context.Context, trigger ambtypes.AmbientEvent) error {
	runID := newRunID()
	c.emit(runID, "cycle_started", map[string]any{"trigger": trigger.Kind, "queue_depth": len(c.events)})

	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		c.emit(runID, "cycle_completed", map[string]any{"status": "paused"})
		return nil
	}

	repoCtx := c.Builder.Build(trigger, c.computeRadius(trigger), "", "", nil)

	base, err := c.fanOutPropose(ctx, repoCtx)
	if err != nil {
		c.emit(runID, "cycle_completed", map[string]any{"status": "error", "error": redact.Text(err.Error(), 2000)})
		return err
	}
	c.emitProposals(runID, base)

	refined := c.fanOutRefine(ctx, repoCtx, base)

	crossResult := crosspoll.Run(base, refined)
	c.emit(runID, "cross_pollination", map[string]any{
		"original_count": len(base),
		"refined_count":  crossResult.Metadata.FinalCount,
	})

	if len(crossResult.Proposals) == 0 {
		c.emit(runID, "cycle_completed", map[string]any{"status": "no_proposals"})
		return nil
	}

	cycleResult := c.applyProposals(ctx, runID, crossResult.Proposals)

	status := "success"
	if len(cycleResult.Applied) == 0 && allThrottled(cycleResult.Failed) {
		status = "throttled"
	}
	c.emit(runID, "cycle_completed", map[string]any{
		"status":  status,
		"applied": len(cycleResult.Applied),
		"failed":  len(cycleResult.Failed),
	})
	return nil
}

func allThrottled(failed []FailedProposal) bool {
	if len(failed) == 0 {
		return false
	}
	for _, f := range failed {
		if f.Reason != "throttled" {
			return false
		}
	}
	return true
}

// emitProposals logs one "proposal" telemetry record per generated
// proposal, matching the original coordinator's per-proposal logging in
// _generate_proposals. Diff excerpts are only attached when IncludeDiffs is
// set.
func (c *Coordinator) emitProposals(runID string, proposals []ambtypes.Proposal) {
	for _, p := range proposals {
		data := map[string]any{
			"agent":                p.Agent,
			"title":                p.Title,
			"risk_level":           string(p.RiskLevel),
			"files_touched":        p.FilesTouched,
			"estimated_loc_change": p.EstimatedLOCChange,
		}
		if c.IncludeDiffs {
			sum := sha256.Sum256([]byte(p.Diff))
			data["diff_sha256"] = hex.EncodeToString(sum[:])
			data["diff_len"] = len(p.Diff)
			data["diff_excerpt"] = redact.Text(p.Diff, 2000)
		}
		c.emit(runID, "proposal", data)
	}
}

// computeRadius builds the import-graph impact radius for a file_change
// trigger, returning a zero-value Radius when the graph isn't wired or the
// trigger names no files (e.g. a periodic scan or manual trigger).
func (c *Coordinator) computeRadius(trigger ambtypes.AmbientEvent) impact.Radius {
	if c.Graph == nil {
		return impact.Radius{}
	}
	raw, ok := trigger.Data["files"]
	if !ok {
		return impact.Radius{}
	}
	files, ok := raw.([]string)
	if !ok || len(files) == 0 {
		return impact.Radius{}
	}
	return c.Graph.Compute(files, c.Builder.Cfg.MaxFiles)
}

// fanOutPropose runs every agent's Propose concurrently, bounded by
// MaxConcurrentAgent.
func (c *Coordinator) fanOutPropose(ctx context.Context, repoCtx ambtypes.RepoContext) ([]ambtypes.Proposal, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]ambtypes.Proposal, len(c.Agents))

	for i, specialist := range c.Agents {
		i, specialist := i, specialist
		if err := c.sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer c.sem.Release(1)
			proposals, err := specialist.Propose(gctx, repoCtx)
			if err != nil {
				c.Logger.Printf("agent %s propose failed: %v", specialist.Identity.Name, err)
				return nil // one agent's failure should not sink the whole cycle
			}
			results[i] = proposals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []ambtypes.Proposal
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// fanOutRefine gives each agent its own base proposals plus every other
// agent's base proposals as peers, and collects the refined output. A
// failing refine call degrades to that agent contributing no refined
// proposals rather than aborting the cycle; crosspoll.Run falls back to
// the unrefined base set if every agent's refine output is empty.
func (c *Coordinator) fanOutRefine(ctx context.Context, repoCtx ambtypes.RepoContext, base []ambtypes.Proposal) [][]ambtypes.Proposal {
	byAgent := map[string][]ambtypes.Proposal{}
	for _, p := range base {
		byAgent[p.Agent] = append(byAgent[p.Agent], p)
	}

	g, gctx := errgroup.WithContext(ctx)
	refinedLists := make([][]ambtypes.Proposal, len(c.Agents))

	for i, specialist := range c.Agents {
		i, specialist := i, specialist
		own := byAgent[specialist.Identity.Name]
		if len(own) == 0 {
			continue
		}
		var peers []ambtypes.Proposal
		for _, p := range base {
			if p.Agent != specialist.Identity.Name {
				peers = append(peers, p)
			}
		}

		if err := c.sem.Acquire(gctx, 1); err != nil {
			continue
		}
		g.Go(func() error {
			defer c.sem.Release(1)
			var collected []ambtypes.Proposal
			for _, orig := range own {
				refined, err := specialist.Refine(gctx, repoCtx, orig, peers)
				if err != nil {
					c.Logger.Printf("agent %s refine failed: %v", specialist.Identity.Name, err)
					continue
				}
				collected = append(collected, refined...)
			}
			refinedLists[i] = collected
			return nil
		})
	}
	_ = g.Wait()
	return refinedLists
}

// applyProposals throttles the batch (marking every proposal failed when
// the rolling-window limit is exceeded), then dispatches to direct-apply
// or review-worktree mode per Cfg.ReviewWorktreeEnabled.
func (c *Coordinator) applyProposals(ctx context.Context, runID string, proposals []ambtypes.Proposal) CycleResult {
	if c.Cfg.MaxProposalsPerHour > 0 {
		windowSize := c.recordProposalTimestamps(len(proposals))
		if windowSize > c.Cfg.MaxProposalsPerHour {
			c.emit(runID, "control_plane_throttled", map[string]any{
				"window_size":            windowSize,
				"max_proposals_per_hour": c.Cfg.MaxProposalsPerHour,
			})
			result := CycleResult{}
			for _, p := range proposals {
				result.Failed = append(result.Failed, FailedProposal{Proposal: p, Reason: "throttled"})
			}
			return result
		}
	}

	if c.Cfg.ReviewWorktreeEnabled {
		return c.applyReviewWorktree(ctx, runID, proposals)
	}
	return c.applyDirect(ctx, runID, proposals)
}

// applyDirect runs the §4.14.3 ordered gate sequence for each proposal in
// turn, serializing the actual worktree mutation under writeLock.
func (c *Coordinator) applyDirect(ctx context.Context, runID string, proposals []ambtypes.Proposal) CycleResult {
	var result CycleResult
	for idx, p := range proposals {
		applied, failure := c.processProposalDirect(ctx, runID, idx+1, p)
		if applied {
			result.Applied = append(result.Applied, p)
		} else if failure != nil {
			result.Failed = append(result.Failed, *failure)
		}
	}
	return result
}

// processProposalDirect runs the kill-switch, dry-run, clean-worktree, and
// risk/approval gates, then (holding writeLock) applies, verifies, and
// optionally commits directly against the main worktree.
func (c *Coordinator) processProposalDirect(ctx context.Context, runID string, idx int, p ambtypes.Proposal) (bool, *FailedProposal) {
	if c.killSwitchTripped() {
		c.emit(runID, "control_plane_auto_apply_disabled", map[string]any{"title": p.Title})
		return false, &FailedProposal{Proposal: p, Reason: "auto_apply_disabled"}
	}

	if _, dryRun := c.Approval.(approval.AlwaysReject); dryRun {
		return false, &FailedProposal{Proposal: p, Reason: "dry_run"}
	}

	if c.Cfg.RequireCleanBeforeApply && c.VCS != nil {
		clean, err := c.VCS.IsClean(ctx, c.Cfg.IgnoredUntrackedPrefixes)
		if err != nil {
			c.Logger.Printf("clean check failed for %q: %v", p.Title, err)
			return false, &FailedProposal{Proposal: p, Reason: "dirty_worktree", Detail: err.Error()}
		}
		if !clean {
			return false, &FailedProposal{Proposal: p, Reason: "dirty_worktree"}
		}
	}

	if decided, failure := c.gateRiskAndApproval(ctx, runID, p); !decided {
		return false, failure
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	applyResult, err := c.PatchEng.Apply(ctx, p.Diff)
	if err != nil {
		c.recordApplyOutcome(false)
		c.escalateBackoff()
		c.emit(runID, "apply_failed", map[string]any{"title": p.Title, "stderr_head": redact.Text(applyResult.Stderr, 400)})
		return false, &FailedProposal{Proposal: p, Reason: "patch_failed", Detail: err.Error()}
	}
	c.emit(runID, "apply_succeeded", map[string]any{"title": p.Title, "already_applied": applyResult.AlreadyApplied})

	verification := c.verify(ctx, c.Root)
	if !verification.OK {
		c.PatchEng.Rollback(ctx)
		c.recordApplyOutcome(true)
		c.recordVerifyOutcome(false)
		c.escalateBackoff()
		c.emit(runID, "verify_failed", map[string]any{"title": p.Title, "results": summarizeChecks(verification.Results)})
		return false, &FailedProposal{Proposal: p, Reason: "verification_failed"}
	}
	c.emit(runID, "verify_succeeded", map[string]any{"title": p.Title, "duration_ms": verification.Duration.Milliseconds()})

	if c.VCS != nil {
		c.emit(runID, "git_commit_started", map[string]any{"title": p.Title})
		if err := c.VCS.Commit(ctx, fmt.Sprintf("%s\n\n%s", p.Title, p.Rationale), c.CommitAuthor, c.CommitEmail); err != nil {
			c.PatchEng.Rollback(ctx)
			c.recordVerifyOutcome(true)
			c.escalateBackoff()
			c.emit(runID, "git_commit_failed", map[string]any{"title": p.Title, "error": err.Error()})
			return false, &FailedProposal{Proposal: p, Reason: "git_commit_failed", Detail: err.Error()}
		}
		c.emit(runID, "git_commit_succeeded", map[string]any{"title": p.Title})
	}

	c.recordApplyOutcome(true)
	c.recordVerifyOutcome(true)
	c.resetBackoff()
	return true, nil
}

// gateRiskAndApproval evaluates risk and, when required, requests a
// decision from the approval handler. It returns (false, nil) only on
// approval, meaning "continue"; any other outcome carries a FailedProposal.
func (c *Coordinator) gateRiskAndApproval(ctx context.Context, runID string, p ambtypes.Proposal) (bool, *FailedProposal) {
	eval := risk.Evaluate(c.RiskPolicy, p)
	if !eval.RequiresApproval {
		return true, nil
	}
	c.emit(runID, "risk_gate_triggered", map[string]any{"title": p.Title, "score": eval.RiskScore, "factors": eval.Factors})

	if c.Approval == nil {
		return false, &FailedProposal{Proposal: p, Reason: "approval_rejected", Detail: "no approval handler configured"}
	}
	decision, err := c.Approval.Decide(ctx, p, eval)
	if err != nil {
		return false, &FailedProposal{Proposal: p, Reason: "approval_rejected", Detail: err.Error()}
	}
	if !decision.Approved {
		c.emit(runID, "approval_rejected", map[string]any{"title": p.Title, "reason": decision.Reason})
		return false, &FailedProposal{Proposal: p, Reason: "approval_rejected", Detail: decision.Reason}
	}
	c.emit(runID, "approval_granted", map[string]any{"title": p.Title, "reason": decision.Reason})
	return true, nil
}

// applyReviewWorktree gates risk/approval up front (so a rejected proposal
// never occupies a worktree slot), then applies, verifies, and optionally
// commits each surviving proposal in its own worktree, bounded by
// MaxParallelReview concurrent workers. No global lock: each worktree
// mutates a disjoint subtree.
func (c *Coordinator) applyReviewWorktree(ctx context.Context, runID string, proposals []ambtypes.Proposal) CycleResult {
	limit := int64(c.Cfg.MaxParallelReview)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	applied := make([]bool, len(proposals))
	failures := make([]*FailedProposal, len(proposals))
	var wg sync.WaitGroup

	for idx, p := range proposals {
		idx, p := idx, p

		if c.killSwitchTripped() {
			c.emit(runID, "control_plane_auto_apply_disabled", map[string]any{"title": p.Title})
			failures[idx] = &FailedProposal{Proposal: p, Reason: "auto_apply_disabled"}
			continue
		}
		if _, dryRun := c.Approval.(approval.AlwaysReject); dryRun {
			failures[idx] = &FailedProposal{Proposal: p, Reason: "dry_run"}
			continue
		}
		if decided, failure := c.gateRiskAndApproval(ctx, runID, p); !decided {
			failures[idx] = failure
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			failures[idx] = &FailedProposal{Proposal: p, Reason: "patch_failed", Detail: err.Error()}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			ok, failure := c.processProposalInWorktree(ctx, runID, idx+1, p)
			applied[idx] = ok
			failures[idx] = failure
		}()
	}
	wg.Wait()

	var result CycleResult
	for idx, p := range proposals {
		if applied[idx] {
			result.Applied = append(result.Applied, p)
		} else if failures[idx] != nil {
			result.Failed = append(result.Failed, *failures[idx])
		}
	}
	return result
}

// processProposalInWorktree materializes a review worktree for p, applies
// and verifies the diff there, optionally commits onto the candidate
// branch, and tears the worktree down unless KeepWorktrees is set.
func (c *Coordinator) processProposalInWorktree(ctx context.Context, runID string, idx int, p ambtypes.Proposal) (bool, *FailedProposal) {
	candidate, err := c.Worktrees.Create(ctx, runID, idx, p)
	if err != nil {
		return false, &FailedProposal{Proposal: p, Reason: "patch_failed", Detail: err.Error()}
	}
	defer func() {
		if c.Cfg.KeepWorktrees {
			return
		}
		if tErr := c.Worktrees.Teardown(ctx, candidate); tErr != nil {
			c.Logger.Printf("teardown %s failed: %v", candidate.Branch, tErr)
		}
	}()

	reviewEngine := patch.NewEngine(candidate.WorktreePath)
	applyResult, err := reviewEngine.Apply(ctx, p.Diff)
	if err != nil {
		c.recordApplyOutcome(false)
		c.escalateBackoff()
		c.emit(runID, "apply_failed", map[string]any{"title": p.Title, "stderr_head": redact.Text(applyResult.Stderr, 400)})
		return false, &FailedProposal{Proposal: p, Reason: "patch_failed", Detail: err.Error()}
	}
	c.emit(runID, "apply_succeeded", map[string]any{"title": p.Title, "branch": candidate.Branch})

	verification := c.verify(ctx, candidate.WorktreePath)
	if !verification.OK {
		c.recordApplyOutcome(true)
		c.recordVerifyOutcome(false)
		c.escalateBackoff()
		c.emit(runID, "verify_failed", map[string]any{"title": p.Title, "results": summarizeChecks(verification.Results)})
		c.emit(runID, "review_candidate_failed", map[string]any{"title": p.Title, "branch": candidate.Branch})
		return false, &FailedProposal{Proposal: p, Reason: "verification_failed"}
	}
	c.emit(runID, "verify_succeeded", map[string]any{"title": p.Title, "duration_ms": verification.Duration.Milliseconds()})

	if c.VCS != nil {
		candidateVCS := vcs.NewAdapter(candidate.WorktreePath)
		c.emit(runID, "git_commit_started", map[string]any{"title": p.Title, "branch": candidate.Branch})
		if err := candidateVCS.Commit(ctx, fmt.Sprintf("%s\n\n%s", p.Title, p.Rationale), c.CommitAuthor, c.CommitEmail); err != nil {
			c.emit(runID, "git_commit_failed", map[string]any{"title": p.Title, "error": err.Error()})
			return false, &FailedProposal{Proposal: p, Reason: "git_commit_failed", Detail: err.Error()}
		}
		c.emit(runID, "git_commit_succeeded", map[string]any{"title": p.Title, "branch": candidate.Branch})
	}

	c.recordApplyOutcome(true)
	c.recordVerifyOutcome(true)
	c.resetBackoff()
	return true, nil
}

// VerifyAgainst runs the configured verification checklist against
// repoRoot directly; exported so the verify CLI command can drive it
// against a standalone worktree outside of a full cycle.
func (c *Coordinator) VerifyAgainst(ctx context.Context, repoRoot string) ambtypes.VerificationResult {
	return c.verify(ctx, repoRoot)
}

// verify runs every configured verification check concurrently inside
// repoRoot via the sandbox runner. The overall result is ok iff every
// check's exit code is zero; a failing check never stops the others from
// running, so the full per-check list is always reported.
func (c *Coordinator) verify(ctx context.Context, repoRoot string) ambtypes.VerificationResult {
	start := time.Now()
	if c.Sandbox == nil || len(c.VerifyArgv) == 0 {
		return ambtypes.NewVerificationResult(nil, time.Since(start))
	}

	results := make([]ambtypes.CheckResult, len(c.VerifyArgv))
	g, gctx := errgroup.WithContext(ctx)
	for i, argv := range c.VerifyArgv {
		i, argv := i, argv
		g.Go(func() error {
			res := c.Sandbox.Run(gctx, repoRoot, argv, c.VerifyTimeout, nil)
			results[i] = ambtypes.CheckResult{
				Name:         strings.Join(argv, " "),
				OK:           !res.Rejected && res.ExitCode == 0,
				ExitCode:     res.ExitCode,
				Stdout:       res.Stdout,
				Stderr:       res.Stderr,
				Duration:     res.Duration,
				Rejected:     res.Rejected,
				RejectReason: res.RejectReason,
			}
			return nil
		})
	}
	_ = g.Wait()
	return ambtypes.NewVerificationResult(results, time.Since(start))
}

// summarizeChecks reduces a verification's CheckResults to the redacted,
// telemetry-safe shape emitted on verify_failed.
func summarizeChecks(results []ambtypes.CheckResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"name":      r.Name,
			"ok":        r.OK,
			"exit_code": r.ExitCode,
			"stderr":    redact.Text(r.Stderr, 400),
		})
	}
	return out
}

func (c *Coordinator) emit(runID, recordType string, data map[string]any) {
	if c.Telemetry == nil {
		return
	}
	if err := c.Telemetry.Emit(runID, recordType, data); err != nil {
		c.Logger.Printf("telemetry emit failed: %v", err)
	}
}

// newRunID returns a globally unique cycle identifier. Worktree/review slug
// ids stay on the teacher's crypto/rand hex scheme (internal/worktree);
// the cycle run_id uses uuid since it may be compared across coordinators
// reading the same shared telemetry log.
func newRunID() string {
	return uuid.NewString()
}
