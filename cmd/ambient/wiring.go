package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/boshu2/ambient/internal/agent"
	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/approval"
	"github.com/boshu2/ambient/internal/config"
	"github.com/boshu2/ambient/internal/contextbuild"
	"github.com/boshu2/ambient/internal/coordinator"
	"github.com/boshu2/ambient/internal/impact"
	"github.com/boshu2/ambient/internal/patch"
	"github.com/boshu2/ambient/internal/risk"
	"github.com/boshu2/ambient/internal/sandbox"
	"github.com/boshu2/ambient/internal/telemetry"
	"github.com/boshu2/ambient/internal/vcs"
	"github.com/boshu2/ambient/internal/worktree"
)

// identityRegistry names the built-in specialist personas. Per-agent
// system prompts are deliberately short: the repo tree and conventions
// already ride along in the RepoContext, so the prompt only needs to
// state the specialist's lens.
var identityRegistry = map[string]agent.Identity{
	"correctness": {
		Name:         "correctness",
		SystemPrompt: "You review Go code for correctness: logic errors, nil/bounds issues, race conditions, and incorrect error handling. Propose the smallest diff that fixes what you find.",
		Tags:         []string{"correctness", "bug"},
	},
	"performance": {
		Name:         "performance",
		SystemPrompt: "You review Go code for performance: unnecessary allocations, quadratic loops, missed caching, and blocking calls that should be concurrent. Propose the smallest diff that fixes what you find.",
		Tags:         []string{"performance"},
	},
	"security": {
		Name:         "security",
		SystemPrompt: "You review Go code for security: injection, path traversal, secret handling, and unchecked external input. Propose the smallest diff that fixes what you find.",
		Tags:         []string{"security"},
	},
	"style": {
		Name:         "style",
		SystemPrompt: "You review Go code for idiom and clarity: naming, dead code, missing doc comments on exported symbols, and inconsistent error wrapping. Propose the smallest diff that fixes what you find.",
		Tags:         []string{"style"},
	},
}

// loadConfig loads the merged configuration honoring flags > env > project
// > home > defaults, per cmd/ambient's --config flag and AMBIENT_CONFIG.
func loadConfig() (*config.Config, error) {
	return config.Load(nil)
}

// buildModelClient constructs the ModelClient named by cfg.Model.Provider.
// Only the anthropic provider is wired; other providers are accepted by
// the schema for forward-compatibility but fail fast here until a client
// exists for them.
func buildModelClient(cfg *config.Config) (agent.ModelClient, error) {
	switch cfg.Model.Provider {
	case "anthropic", "":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return agent.NewAnthropicClient(agent.AnthropicConfig{
			APIKey:      apiKey,
			Model:       cfg.Model.ModelID,
			Temperature: cfg.Model.Temperature,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Model.Provider)
	}
}

func buildSpecialists(cfg *config.Config, client agent.ModelClient) []*agent.Specialist {
	var specialists []*agent.Specialist
	for _, name := range cfg.Agents.Enabled {
		identity, ok := identityRegistry[name]
		if !ok {
			continue
		}
		specialists = append(specialists, agent.NewSpecialist(identity, client))
	}
	return specialists
}

func riskLevels(names []string) []ambtypes.RiskLevel {
	var levels []ambtypes.RiskLevel
	for _, n := range names {
		level := ambtypes.RiskLevel(n)
		if ambtypes.ValidRiskLevel(level) {
			levels = append(levels, level)
		}
	}
	return levels
}

func buildRiskPolicy(cfg *config.Config) risk.Policy {
	policy := risk.DefaultPolicy()
	if cfg.RiskPolicy.FileChangeLimit != 0 {
		policy.MaxFilesAutoApply = cfg.RiskPolicy.FileChangeLimit
	}
	if cfg.RiskPolicy.LOCChangeLimit != 0 {
		policy.MaxLOCAutoApply = cfg.RiskPolicy.LOCChangeLimit
	}
	if len(cfg.RiskPolicy.AutoApply) > 0 {
		policy.AutoApplyAllowedLevels = riskLevels(cfg.RiskPolicy.AutoApply)
	}
	if len(cfg.RiskPolicy.RequireApproval) > 0 {
		policy.RequireApprovalLevels = riskLevels(cfg.RiskPolicy.RequireApproval)
	}
	return policy
}

func buildSandboxRunner(cfg *config.Config) (*sandbox.Runner, error) {
	allowed := make([]*regexp.Regexp, 0, len(cfg.Sandbox.AllowedCommands))
	for _, pattern := range cfg.Sandbox.AllowedCommands {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile allowed_commands pattern %q: %w", pattern, err)
		}
		allowed = append(allowed, re)
	}
	return sandbox.NewRunner(sandbox.Config{
		Image:       cfg.Sandbox.Image,
		NetworkMode: cfg.Sandbox.NetworkMode,
		Resources: sandbox.Resources{
			MemoryBytes: cfg.Sandbox.Resources.MemoryBytes,
			CPUs:        cfg.Sandbox.Resources.CPUs,
			PidsLimit:   cfg.Sandbox.Resources.PidsLimit,
		},
		RequireRuntime:   cfg.Sandbox.RequireRuntime,
		StubMode:         cfg.Sandbox.StubMode,
		EnforceAllowlist: cfg.Sandbox.EnforceAllowlist,
		RepoMountMode:    cfg.Sandbox.RepoMountMode,
		AllowedArgv:      cfg.Sandbox.AllowedArgv,
		AllowedCommands:  allowed,
	})
}

// buildCoordinator wires every package the coordinator depends on from cfg,
// rooted at repoRoot. The model client is required for watch/run-once but
// not for doctor/init/status, so callers that don't need live proposals
// may pass a nil client.
func buildCoordinator(repoRoot string, cfg *config.Config, client agent.ModelClient) (*coordinator.Coordinator, error) {
	ccfg := coordinator.DefaultConfig()
	if cfg.Monitoring.DebounceSeconds > 0 {
		ccfg.DebounceWindow = time.Duration(cfg.Monitoring.DebounceSeconds * float64(time.Second))
	}
	if cfg.Monitoring.CheckIntervalSeconds > 0 {
		ccfg.PeriodicScan = time.Duration(cfg.Monitoring.CheckIntervalSeconds) * time.Second
	}
	if cfg.Model.MaxConcurrency > 0 {
		ccfg.MaxConcurrentAgent = cfg.Model.MaxConcurrency
	}
	if cfg.ControlPlane.MaxProposalsPerHour > 0 {
		ccfg.MaxProposalsPerHour = cfg.ControlPlane.MaxProposalsPerHour
	}
	if cfg.ControlPlane.FailureRateWindow > 0 {
		ccfg.FailureWindowSize = cfg.ControlPlane.FailureRateWindow
	}
	if cfg.ControlPlane.FailureRateThreshold > 0 {
		ccfg.FailureRateTrip = cfg.ControlPlane.FailureRateThreshold
	}
	if cfg.ControlPlane.MinFailuresBeforeDisable > 0 {
		ccfg.MinFailuresBeforeDisable = cfg.ControlPlane.MinFailuresBeforeDisable
	}
	if !cfg.ControlPlane.DisableAutoApplyOnFailureRate {
		ccfg.MinFailuresBeforeDisable = 0
	}
	if cfg.ControlPlane.BackoffBaseSeconds > 0 {
		ccfg.InitialBackoff = time.Duration(cfg.ControlPlane.BackoffBaseSeconds) * time.Second
	}
	if cfg.ControlPlane.BackoffMaxSeconds > 0 {
		ccfg.MaxBackoff = time.Duration(cfg.ControlPlane.BackoffMaxSeconds) * time.Second
	}

	ccfg.RequireCleanBeforeApply = cfg.Git.RequireCleanBeforeApply
	ccfg.ReviewWorktreeEnabled = cfg.ReviewWorktree.Enabled
	ccfg.KeepWorktrees = cfg.ReviewWorktree.KeepWorktrees
	if cfg.ReviewWorktree.MaxParallel > 0 {
		ccfg.MaxParallelReview = cfg.ReviewWorktree.MaxParallel
	}

	c := coordinator.New(repoRoot, ccfg)
	c.IncludeDiffs = cfg.Telemetry.IncludeDiffs

	if client != nil {
		c.Agents = buildSpecialists(cfg, client)
	}

	c.Builder = contextbuild.NewBuilder(repoRoot)
	c.RiskPolicy = buildRiskPolicy(cfg)

	handler, err := approval.New(cfg.Approval.Kind, cfg.Approval.Webhook.URL)
	if err != nil {
		return nil, fmt.Errorf("approval handler: %w", err)
	}
	c.Approval = handler

	modulePath := moduleBoshu2Ambient
	if graph, err := impact.BuildGraph(repoRoot, modulePath); err == nil {
		c.Graph = graph
	}

	c.PatchEng = patch.NewEngine(repoRoot)
	c.Worktrees = worktree.NewManager(repoRoot)

	sb, err := buildSandboxRunner(cfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox runner: %w", err)
	}
	c.Sandbox = sb

	c.VCS = vcs.NewAdapter(repoRoot)
	c.CommitAuthor = cfg.Git.CommitAuthorName
	c.CommitEmail = cfg.Git.CommitAuthorEmail
	if !cfg.Git.CommitOnSuccess {
		c.VCS = nil
	}

	if cfg.Telemetry.Enabled {
		logPath := cfg.Telemetry.LogPath
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(repoRoot, logPath)
		}
		sink, err := telemetry.NewSink(logPath)
		if err != nil {
			return nil, fmt.Errorf("telemetry sink: %w", err)
		}
		c.Telemetry = sink
	}

	if cfg.Verification.TimeoutSeconds > 0 {
		c.VerifyTimeout = time.Duration(cfg.Verification.TimeoutSeconds) * time.Second
	}

	if cfg.ControlPlane.Paused {
		c.Pause()
	}

	return c, nil
}

// moduleBoshu2Ambient is this module's own import path, used to build the
// impact graph against in-module edges only.
const moduleBoshu2Ambient = "github.com/boshu2/ambient"

// defaultRepoRootTimeout bounds the `git rev-parse --show-toplevel` probe
// every subcommand uses to resolve the repository root from cwd.
const defaultRepoRootTimeout = 5 * time.Second
