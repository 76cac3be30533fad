// Package config provides configuration management for the coordinator.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AMBIENT_*)
// 3. Project config (.ambient/config.yaml in cwd)
// 4. Home config (~/.ambient/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every coordinator setting recognized from the YAML config
// file, per spec §6.
type Config struct {
	Model          ModelConfig          `yaml:"model" json:"model"`
	Monitoring     MonitoringConfig     `yaml:"monitoring" json:"monitoring"`
	Agents         AgentsConfig         `yaml:"agents" json:"agents"`
	RiskPolicy     RiskPolicyConfig     `yaml:"risk_policy" json:"risk_policy"`
	Sandbox        SandboxConfig        `yaml:"sandbox" json:"sandbox"`
	Verification   VerificationConfig   `yaml:"verification" json:"verification"`
	Git            GitConfig            `yaml:"git" json:"git"`
	ReviewWorktree ReviewWorktreeConfig `yaml:"review_worktree" json:"review_worktree"`
	Approval       ApprovalConfig       `yaml:"approval" json:"approval"`
	Telemetry      TelemetryConfig      `yaml:"telemetry" json:"telemetry"`
	ControlPlane   ControlPlaneConfig   `yaml:"control_plane" json:"control_plane"`
	Learning       LearningConfig       `yaml:"learning" json:"learning"`
}

// ModelConfig names how to reach the chat endpoint.
type ModelConfig struct {
	Provider       string  `yaml:"provider" json:"provider"`
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	ModelID        string  `yaml:"model_id" json:"model_id"`
	MaxConcurrency int64   `yaml:"max_concurrency" json:"max_concurrency"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// MonitoringConfig bounds the file watcher.
type MonitoringConfig struct {
	Enabled              bool     `yaml:"enabled" json:"enabled"`
	WatchPaths           []string `yaml:"watch_paths" json:"watch_paths"`
	IgnorePatterns       []string `yaml:"ignore_patterns" json:"ignore_patterns"`
	DebounceSeconds      float64  `yaml:"debounce_seconds" json:"debounce_seconds"`
	CheckIntervalSeconds int      `yaml:"check_interval_seconds" json:"check_interval_seconds"`
	MaxQueueSize         int      `yaml:"max_queue_size" json:"max_queue_size"`
}

// AgentsConfig names the enabled specialist roster; per-agent identity
// (system prompt, tags) is resolved by name in cmd/ambient's agent registry.
type AgentsConfig struct {
	Enabled []string `yaml:"enabled" json:"enabled"`
}

// RiskPolicyConfig mirrors internal/risk.Policy's configurable fields.
type RiskPolicyConfig struct {
	AutoApply       []string `yaml:"auto_apply" json:"auto_apply"`
	RequireApproval []string `yaml:"require_approval" json:"require_approval"`
	FileChangeLimit int      `yaml:"file_change_limit" json:"file_change_limit"`
	LOCChangeLimit  int      `yaml:"loc_change_limit" json:"loc_change_limit"`
}

// SandboxResourcesConfig bounds container resource limits.
type SandboxResourcesConfig struct {
	MemoryBytes int64   `yaml:"memory" json:"memory"`
	CPUs        float64 `yaml:"cpus" json:"cpus"`
	PidsLimit   int64   `yaml:"pids_limit" json:"pids_limit"`
}

// SandboxConfig mirrors internal/sandbox.Config's configurable fields.
type SandboxConfig struct {
	Image            string                 `yaml:"image" json:"image"`
	NetworkMode      string                 `yaml:"network_mode" json:"network_mode"`
	Resources        SandboxResourcesConfig `yaml:"resources" json:"resources"`
	RequireRuntime   bool                   `yaml:"require_runtime" json:"require_runtime"`
	StubMode         bool                   `yaml:"stub_mode" json:"stub_mode"`
	EnforceAllowlist bool                   `yaml:"enforce_allowlist" json:"enforce_allowlist"`
	RepoMountMode    string                 `yaml:"repo_mount_mode" json:"repo_mount_mode"`
	AllowedArgv      [][]string             `yaml:"allowed_argv" json:"allowed_argv"`
	AllowedCommands  []string               `yaml:"allowed_commands" json:"allowed_commands"`
}

// VerificationConfig bounds the sandbox verification step's timeout.
type VerificationConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// GitConfig controls commit behavior after a verified apply.
type GitConfig struct {
	CommitOnSuccess         bool   `yaml:"commit_on_success" json:"commit_on_success"`
	RequireCleanBeforeApply bool   `yaml:"require_clean_before_apply" json:"require_clean_before_apply"`
	CommitMessageTemplate   string `yaml:"commit_message_template" json:"commit_message_template"`
	CommitAuthorName        string `yaml:"commit_author_name" json:"commit_author_name"`
	CommitAuthorEmail       string `yaml:"commit_author_email" json:"commit_author_email"`
}

// ReviewWorktreeConfig mirrors internal/worktree.Manager's configurable
// fields.
type ReviewWorktreeConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	BaseDir       string `yaml:"base_dir" json:"base_dir"`
	BranchPrefix  string `yaml:"branch_prefix" json:"branch_prefix"`
	MaxParallel   int    `yaml:"max_parallel" json:"max_parallel"`
	KeepWorktrees bool   `yaml:"keep_worktrees" json:"keep_worktrees"`
}

// WebhookConfig configures the webhook approval handler.
type WebhookConfig struct {
	URL            string            `yaml:"url" json:"url"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ApprovalConfig selects and configures the approval handler.
type ApprovalConfig struct {
	Kind    string        `yaml:"kind" json:"kind"`
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
}

// TelemetryConfig controls the append-only telemetry sink.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	LogPath       string `yaml:"log_path" json:"log_path"`
	IncludeDiffs  bool   `yaml:"include_diffs" json:"include_diffs"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

// ControlPlaneConfig mirrors internal/coordinator.Config's throttle/backoff
// knobs plus the pause flag.
type ControlPlaneConfig struct {
	Paused                        bool    `yaml:"paused" json:"paused"`
	MaxProposalsPerHour           int     `yaml:"max_proposals_per_hour" json:"max_proposals_per_hour"`
	FailureRateWindow             int     `yaml:"failure_rate_window" json:"failure_rate_window"`
	DisableAutoApplyOnFailureRate bool    `yaml:"disable_auto_apply_on_failure_rate" json:"disable_auto_apply_on_failure_rate"`
	FailureRateThreshold          float64 `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	MinFailuresBeforeDisable      int     `yaml:"min_failures_before_disable" json:"min_failures_before_disable"`
	BackoffBaseSeconds            int     `yaml:"backoff_base_seconds" json:"backoff_base_seconds"`
	BackoffMaxSeconds             int     `yaml:"backoff_max_seconds" json:"backoff_max_seconds"`
}

// LearningConfig is reserved for future revert-rate/agent-success tracking.
type LearningConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	TrackRevertRate   bool `yaml:"track_revert_rate" json:"track_revert_rate"`
	TrackAgentSuccess bool `yaml:"track_agent_success" json:"track_agent_success"`
}

// Default returns the default configuration, matching the per-package
// defaults used when the coordinator is wired without a config file
// (contextbuild.DefaultConfig, risk.DefaultPolicy, coordinator.DefaultConfig).
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:       "anthropic",
			ModelID:        "claude-opus-4",
			MaxConcurrency: 4,
			Temperature:    0.2,
			TimeoutSeconds: 120,
		},
		Monitoring: MonitoringConfig{
			Enabled:              true,
			WatchPaths:           []string{"."},
			DebounceSeconds:      2,
			CheckIntervalSeconds: 300,
			MaxQueueSize:         256,
		},
		Agents: AgentsConfig{
			Enabled: []string{"correctness", "performance", "security", "style"},
		},
		RiskPolicy: RiskPolicyConfig{
			AutoApply:       []string{"low"},
			RequireApproval: []string{"high", "critical"},
			FileChangeLimit: 5,
			LOCChangeLimit:  80,
		},
		Sandbox: SandboxConfig{
			Image:            "golang:1.23",
			NetworkMode:      "none",
			Resources:        SandboxResourcesConfig{MemoryBytes: 512 * 1024 * 1024, CPUs: 1, PidsLimit: 128},
			RequireRuntime:   false,
			StubMode:         true,
			EnforceAllowlist: true,
			RepoMountMode:    "rw",
		},
		Verification: VerificationConfig{TimeoutSeconds: 300},
		Git: GitConfig{
			CommitOnSuccess:         true,
			RequireCleanBeforeApply: true,
			CommitMessageTemplate:   "{{.Title}}\n\n{{.Rationale}}",
			CommitAuthorName:        "ambient",
			CommitAuthorEmail:       "ambient@localhost",
		},
		ReviewWorktree: ReviewWorktreeConfig{
			Enabled:      true,
			BaseDir:      ".ambient/review",
			BranchPrefix: "ambient-review",
			MaxParallel:  4,
		},
		Approval: ApprovalConfig{Kind: "interactive", Webhook: WebhookConfig{TimeoutSeconds: 10}},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			LogPath:       ".ambient/telemetry.jsonl",
			IncludeDiffs:  false,
			RetentionDays: 30,
		},
		ControlPlane: ControlPlaneConfig{
			MaxProposalsPerHour:           12,
			FailureRateWindow:             20,
			DisableAutoApplyOnFailureRate: true,
			FailureRateThreshold:          0.5,
			MinFailuresBeforeDisable:      5,
			BackoffBaseSeconds:            30,
			BackoffMaxSeconds:             1800,
		},
		Learning: LearningConfig{},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}
	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ambient", "config.yaml")
}

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("AMBIENT_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".ambient", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies AMBIENT_* overrides for the knobs an operator is most
// likely to need to flip without editing the config file. Env names mirror
// the dotted YAML path, uppercased, per spec §6.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("AMBIENT_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv("AMBIENT_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("AMBIENT_MODEL_MODEL_ID"); v != "" {
		cfg.Model.ModelID = v
	}
	if v, ok := getEnvInt64("AMBIENT_MODEL_MAX_CONCURRENCY"); ok {
		cfg.Model.MaxConcurrency = v
	}
	if v, ok := getEnvBool("AMBIENT_MONITORING_ENABLED"); ok {
		cfg.Monitoring.Enabled = v
	}
	if v, ok := getEnvFloat("AMBIENT_MONITORING_DEBOUNCE_SECONDS"); ok {
		cfg.Monitoring.DebounceSeconds = v
	}
	if v, ok := getEnvInt("AMBIENT_RISK_POLICY_FILE_CHANGE_LIMIT"); ok {
		cfg.RiskPolicy.FileChangeLimit = v
	}
	if v, ok := getEnvInt("AMBIENT_RISK_POLICY_LOC_CHANGE_LIMIT"); ok {
		cfg.RiskPolicy.LOCChangeLimit = v
	}
	if v := os.Getenv("AMBIENT_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v, ok := getEnvBool("AMBIENT_SANDBOX_REQUIRE_RUNTIME"); ok {
		cfg.Sandbox.RequireRuntime = v
	}
	if v, ok := getEnvBool("AMBIENT_SANDBOX_STUB_MODE"); ok {
		cfg.Sandbox.StubMode = v
	}
	if v, ok := getEnvBool("AMBIENT_SANDBOX_ENFORCE_ALLOWLIST"); ok {
		cfg.Sandbox.EnforceAllowlist = v
	}
	if v := os.Getenv("AMBIENT_SANDBOX_REPO_MOUNT_MODE"); v != "" {
		cfg.Sandbox.RepoMountMode = v
	}
	if v, ok := getEnvInt("AMBIENT_VERIFICATION_TIMEOUT_SECONDS"); ok {
		cfg.Verification.TimeoutSeconds = v
	}
	if v, ok := getEnvBool("AMBIENT_GIT_COMMIT_ON_SUCCESS"); ok {
		cfg.Git.CommitOnSuccess = v
	}
	if v := os.Getenv("AMBIENT_GIT_COMMIT_AUTHOR_NAME"); v != "" {
		cfg.Git.CommitAuthorName = v
	}
	if v := os.Getenv("AMBIENT_GIT_COMMIT_AUTHOR_EMAIL"); v != "" {
		cfg.Git.CommitAuthorEmail = v
	}
	if v, ok := getEnvBool("AMBIENT_REVIEW_WORKTREE_ENABLED"); ok {
		cfg.ReviewWorktree.Enabled = v
	}
	if v := os.Getenv("AMBIENT_REVIEW_WORKTREE_BASE_DIR"); v != "" {
		cfg.ReviewWorktree.BaseDir = v
	}
	if v := os.Getenv("AMBIENT_APPROVAL_KIND"); v != "" {
		cfg.Approval.Kind = v
	}
	if v := os.Getenv("AMBIENT_APPROVAL_WEBHOOK_URL"); v != "" {
		cfg.Approval.Webhook.URL = v
	}
	if v, ok := getEnvBool("AMBIENT_TELEMETRY_ENABLED"); ok {
		cfg.Telemetry.Enabled = v
	}
	if v := os.Getenv("AMBIENT_TELEMETRY_LOG_PATH"); v != "" {
		cfg.Telemetry.LogPath = v
	}
	if v, ok := getEnvInt("AMBIENT_TELEMETRY_RETENTION_DAYS"); ok {
		cfg.Telemetry.RetentionDays = v
	}
	if v, ok := getEnvBool("AMBIENT_CONTROL_PLANE_PAUSED"); ok {
		cfg.ControlPlane.Paused = v
	}
	if v, ok := getEnvInt("AMBIENT_CONTROL_PLANE_MAX_PROPOSALS_PER_HOUR"); ok {
		cfg.ControlPlane.MaxProposalsPerHour = v
	}
	if v, ok := getEnvFloat("AMBIENT_CONTROL_PLANE_FAILURE_RATE_THRESHOLD"); ok {
		cfg.ControlPlane.FailureRateThreshold = v
	}
	return cfg
}

func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvInt64(key string) (int64, bool) {
	n, ok := getEnvInt(key)
	return int64(n), ok
}

func getEnvFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// merge merges src into dst, with src's non-zero-value fields taking
// precedence. Slices/maps and the "enabled" booleans that default to true
// are merged field-by-field rather than wholesale, matching the teacher's
// config.go merge discipline.
func merge(dst, src *Config) *Config {
	mergeModel(&dst.Model, src.Model)
	mergeMonitoring(&dst.Monitoring, src.Monitoring)
	if len(src.Agents.Enabled) > 0 {
		dst.Agents.Enabled = src.Agents.Enabled
	}
	mergeRiskPolicy(&dst.RiskPolicy, src.RiskPolicy)
	mergeSandbox(&dst.Sandbox, src.Sandbox)
	if src.Verification.TimeoutSeconds != 0 {
		dst.Verification.TimeoutSeconds = src.Verification.TimeoutSeconds
	}
	mergeGit(&dst.Git, src.Git)
	mergeReviewWorktree(&dst.ReviewWorktree, src.ReviewWorktree)
	mergeApproval(&dst.Approval, src.Approval)
	mergeTelemetry(&dst.Telemetry, src.Telemetry)
	mergeControlPlane(&dst.ControlPlane, src.ControlPlane)
	mergeLearning(&dst.Learning, src.Learning)
	return dst
}

func mergeModel(dst *ModelConfig, src ModelConfig) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.ModelID != "" {
		dst.ModelID = src.ModelID
	}
	if src.MaxConcurrency != 0 {
		dst.MaxConcurrency = src.MaxConcurrency
	}
	if src.Temperature != 0 {
		dst.Temperature = src.Temperature
	}
	if src.TimeoutSeconds != 0 {
		dst.TimeoutSeconds = src.TimeoutSeconds
	}
}

func mergeMonitoring(dst *MonitoringConfig, src MonitoringConfig) {
	if len(src.WatchPaths) > 0 {
		dst.WatchPaths = src.WatchPaths
	}
	if len(src.IgnorePatterns) > 0 {
		dst.IgnorePatterns = src.IgnorePatterns
	}
	if src.DebounceSeconds != 0 {
		dst.DebounceSeconds = src.DebounceSeconds
	}
	if src.CheckIntervalSeconds != 0 {
		dst.CheckIntervalSeconds = src.CheckIntervalSeconds
	}
	if src.MaxQueueSize != 0 {
		dst.MaxQueueSize = src.MaxQueueSize
	}
}

func mergeRiskPolicy(dst *RiskPolicyConfig, src RiskPolicyConfig) {
	if len(src.AutoApply) > 0 {
		dst.AutoApply = src.AutoApply
	}
	if len(src.RequireApproval) > 0 {
		dst.RequireApproval = src.RequireApproval
	}
	if src.FileChangeLimit != 0 {
		dst.FileChangeLimit = src.FileChangeLimit
	}
	if src.LOCChangeLimit != 0 {
		dst.LOCChangeLimit = src.LOCChangeLimit
	}
}

func mergeSandbox(dst *SandboxConfig, src SandboxConfig) {
	if src.Image != "" {
		dst.Image = src.Image
	}
	if src.NetworkMode != "" {
		dst.NetworkMode = src.NetworkMode
	}
	if src.Resources.MemoryBytes != 0 {
		dst.Resources.MemoryBytes = src.Resources.MemoryBytes
	}
	if src.Resources.CPUs != 0 {
		dst.Resources.CPUs = src.Resources.CPUs
	}
	if src.Resources.PidsLimit != 0 {
		dst.Resources.PidsLimit = src.Resources.PidsLimit
	}
	if src.RepoMountMode != "" {
		dst.RepoMountMode = src.RepoMountMode
	}
	if len(src.AllowedArgv) > 0 {
		dst.AllowedArgv = src.AllowedArgv
	}
	if len(src.AllowedCommands) > 0 {
		dst.AllowedCommands = src.AllowedCommands
	}
}

func mergeGit(dst *GitConfig, src GitConfig) {
	if src.CommitMessageTemplate != "" {
		dst.CommitMessageTemplate = src.CommitMessageTemplate
	}
	if src.CommitAuthorName != "" {
		dst.CommitAuthorName = src.CommitAuthorName
	}
	if src.CommitAuthorEmail != "" {
		dst.CommitAuthorEmail = src.CommitAuthorEmail
	}
}

func mergeReviewWorktree(dst *ReviewWorktreeConfig, src ReviewWorktreeConfig) {
	if src.BaseDir != "" {
		dst.BaseDir = src.BaseDir
	}
	if src.BranchPrefix != "" {
		dst.BranchPrefix = src.BranchPrefix
	}
	if src.MaxParallel != 0 {
		dst.MaxParallel = src.MaxParallel
	}
}

func mergeApproval(dst *ApprovalConfig, src ApprovalConfig) {
	if src.Kind != "" {
		dst.Kind = src.Kind
	}
	if src.Webhook.URL != "" {
		dst.Webhook.URL = src.Webhook.URL
	}
	if len(src.Webhook.Headers) > 0 {
		dst.Webhook.Headers = src.Webhook.Headers
	}
	if src.Webhook.TimeoutSeconds != 0 {
		dst.Webhook.TimeoutSeconds = src.Webhook.TimeoutSeconds
	}
}

func mergeTelemetry(dst *TelemetryConfig, src TelemetryConfig) {
	if src.LogPath != "" {
		dst.LogPath = src.LogPath
	}
	if src.RetentionDays != 0 {
		dst.RetentionDays = src.RetentionDays
	}
}

func mergeControlPlane(dst *ControlPlaneConfig, src ControlPlaneConfig) {
	if src.MaxProposalsPerHour != 0 {
		dst.MaxProposalsPerHour = src.MaxProposalsPerHour
	}
	if src.FailureRateWindow != 0 {
		dst.FailureRateWindow = src.FailureRateWindow
	}
	if src.FailureRateThreshold != 0 {
		dst.FailureRateThreshold = src.FailureRateThreshold
	}
	if src.MinFailuresBeforeDisable != 0 {
		dst.MinFailuresBeforeDisable = src.MinFailuresBeforeDisable
	}
	if src.BackoffBaseSeconds != 0 {
		dst.BackoffBaseSeconds = src.BackoffBaseSeconds
	}
	if src.BackoffMaxSeconds != 0 {
		dst.BackoffMaxSeconds = src.BackoffMaxSeconds
	}
	if src.Paused {
		dst.Paused = true
	}
}

func mergeLearning(dst *LearningConfig, src LearningConfig) {
	if src.Enabled {
		dst.Enabled = true
	}
	if src.TrackRevertRate {
		dst.TrackRevertRate = true
	}
	if src.TrackAgentSuccess {
		dst.TrackAgentSuccess = true
	}
}
