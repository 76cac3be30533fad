package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/formatter"
	"github.com/boshu2/ambient/internal/vcs"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the coordinator's health",
	Long: `Run health checks against the current repository: config
loadability, git cleanliness, sandbox runtime availability, and
telemetry writability. Optional components are reported as warnings but
do not cause failure.

Examples:
  ambient doctor
  ambient doctor --json`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type doctorOutput struct {
	Checks  []doctorCheck `json:"checks"`
	Result  string        `json:"result"` // "HEALTHY", "DEGRADED", "UNHEALTHY"
	Summary string        `json:"summary"`
}

func gatherDoctorChecks(ctx context.Context) []doctorCheck {
	return []doctorCheck{
		checkGitRepo(ctx),
		checkConfigLoads(),
		checkSandboxRuntime(),
		checkTelemetryWritable(),
		checkOptionalCLI("docker", "needed when sandbox.stub_mode is false"),
	}
}

func doctorStatusIcon(status string) string {
	switch status {
	case "pass":
		return "✓"
	case "warn":
		return "!"
	case "fail":
		return "✗"
	}
	return "?"
}

func renderDoctorTable(w io.Writer, output doctorOutput) {
	fmt.Fprintln(w, "ambient doctor")
	fmt.Fprintln(w, "─────────────")

	table := formatter.NewTable(w, "", "check", "detail")
	for _, c := range output.Checks {
		table.AddRow(doctorStatusIcon(c.Status), c.Name, c.Detail)
	}
	//nolint:errcheck // table render to stdout
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", output.Summary)
}

func hasRequiredFailure(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Required && c.Status == "fail" {
			return true
		}
	}
	return false
}

func runDoctor(cmd *cobra.Command, args []string) error {
	output := computeDoctorResult(gatherDoctorChecks(cmd.Context()))
	w := cmd.OutOrStdout()

	if doctorJSON {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal doctor output: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	renderDoctorTable(w, output)

	if hasRequiredFailure(output.Checks) {
		return fmt.Errorf("doctor failed: one or more required checks did not pass")
	}
	return nil
}

func checkGitRepo(ctx context.Context) doctorCheck {
	cwd, err := os.Getwd()
	if err != nil {
		return doctorCheck{Name: "Git Repository", Status: "fail", Detail: "cannot determine working directory", Required: true}
	}
	root, err := vcs.RepoRoot(ctx, cwd, defaultRepoRootTimeout)
	if err != nil {
		return doctorCheck{Name: "Git Repository", Status: "fail", Detail: "not inside a git repository", Required: true}
	}

	adapter := vcs.NewAdapter(root)
	clean, err := adapter.IsClean(ctx, nil)
	if err != nil {
		return doctorCheck{Name: "Git Repository", Status: "warn", Detail: fmt.Sprintf("could not check working tree: %v", err), Required: false}
	}
	if !clean {
		return doctorCheck{Name: "Git Repository", Status: "warn", Detail: "working tree has uncommitted changes", Required: false}
	}
	return doctorCheck{Name: "Git Repository", Status: "pass", Detail: fmt.Sprintf("clean at %s", root), Required: true}
}

func checkConfigLoads() doctorCheck {
	cfg, err := loadConfig()
	if err != nil {
		return doctorCheck{Name: "Config", Status: "fail", Detail: err.Error(), Required: true}
	}
	return doctorCheck{Name: "Config", Status: "pass", Detail: fmt.Sprintf("model provider %s, %d agent(s) enabled", cfg.Model.Provider, len(cfg.Agents.Enabled)), Required: true}
}

func checkSandboxRuntime() doctorCheck {
	cfg, err := loadConfig()
	if err != nil {
		return doctorCheck{Name: "Sandbox Runtime", Status: "fail", Detail: err.Error(), Required: true}
	}
	if cfg.Sandbox.StubMode {
		return doctorCheck{Name: "Sandbox Runtime", Status: "warn", Detail: "stub mode — verification runs outside a container", Required: false}
	}
	if _, err := buildSandboxRunner(cfg); err != nil {
		return doctorCheck{Name: "Sandbox Runtime", Status: "fail", Detail: err.Error(), Required: true}
	}
	return doctorCheck{Name: "Sandbox Runtime", Status: "pass", Detail: "container runtime reachable", Required: true}
}

func checkTelemetryWritable() doctorCheck {
	cfg, err := loadConfig()
	if err != nil {
		return doctorCheck{Name: "Telemetry", Status: "fail", Detail: err.Error(), Required: true}
	}
	if !cfg.Telemetry.Enabled {
		return doctorCheck{Name: "Telemetry", Status: "warn", Detail: "disabled in config", Required: false}
	}
	dir := filepath.Dir(cfg.Telemetry.LogPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return doctorCheck{Name: "Telemetry", Status: "fail", Detail: fmt.Sprintf("cannot create %s: %v", dir, err), Required: true}
	}
	return doctorCheck{Name: "Telemetry", Status: "pass", Detail: cfg.Telemetry.LogPath, Required: true}
}

func checkOptionalCLI(name, reason string) doctorCheck {
	if _, err := exec.LookPath(name); err != nil {
		return doctorCheck{Name: name, Status: "warn", Detail: fmt.Sprintf("not found (optional — %s)", reason), Required: false}
	}
	return doctorCheck{Name: name, Status: "pass", Detail: "available", Required: false}
}

func countCheckStatuses(checks []doctorCheck) (passes, fails, warns int) {
	for _, c := range checks {
		switch c.Status {
		case "pass":
			passes++
		case "fail":
			fails++
		case "warn":
			warns++
		}
	}
	return passes, fails, warns
}

func buildDoctorSummary(passes, fails, warns, total int) string {
	switch {
	case fails == 0 && warns == 0:
		return fmt.Sprintf("%d/%d checks passed", passes, total)
	case fails == 0:
		summary := fmt.Sprintf("%d/%d checks passed, %d warning", passes, total, warns)
		if warns > 1 {
			summary += "s"
		}
		return summary
	default:
		parts := []string{fmt.Sprintf("%d/%d checks passed", passes, total)}
		if warns > 0 {
			w := fmt.Sprintf("%d warning", warns)
			if warns > 1 {
				w += "s"
			}
			parts = append(parts, w)
		}
		parts = append(parts, fmt.Sprintf("%d failed", fails))
		return strings.Join(parts, ", ")
	}
}

func computeDoctorResult(checks []doctorCheck) doctorOutput {
	passes, fails, warns := countCheckStatuses(checks)
	result := "HEALTHY"
	if fails > 0 {
		result = "UNHEALTHY"
	} else if warns > 0 {
		result = "DEGRADED"
	}
	return doctorOutput{
		Checks:  checks,
		Result:  result,
		Summary: buildDoctorSummary(passes, fails, warns, len(checks)),
	}
}
