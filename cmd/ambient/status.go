package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/formatter"
	"github.com/boshu2/ambient/internal/status"
	"github.com/boshu2/ambient/internal/vcs"
)

var statusWindow time.Duration
var statusHealth bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show windowed telemetry metrics",
	Long: `status aggregates the telemetry log into a window of cycle
throughput, proposal/apply/verification success rates, and cycle-latency
percentiles.

Examples:
  ambient status
  ambient status --window 24h
  ambient status --health`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().DurationVar(&statusWindow, "window", time.Hour, "How far back to aggregate telemetry")
	statusCmd.Flags().BoolVar(&statusHealth, "health", false, "Also run doctor checks")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repoRoot, err := vcs.RepoRoot(cmd.Context(), cwd, defaultRepoRootTimeout)
	if err != nil {
		repoRoot = cwd
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath := cfg.Telemetry.LogPath
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(repoRoot, logPath)
	}

	window, err := status.Compute(logPath, statusWindow, time.Now())
	if err != nil {
		return fmt.Errorf("compute status window: %w", err)
	}

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(window); err != nil {
			return err
		}
	} else {
		printStatusTable(window, statusWindow)
	}

	if statusHealth {
		fmt.Println()
		output := computeDoctorResult(gatherDoctorChecks(cmd.Context()))
		renderDoctorTable(os.Stdout, output)
	}

	return nil
}

func printStatusTable(w status.Window, window time.Duration) {
	fmt.Printf("ambient status (last %s)\n", window)
	fmt.Println("────────────────────────")

	table := formatter.NewTable(os.Stdout, "metric", "value")
	table.AddRow("cycles started/completed", fmt.Sprintf("%d / %d (%.2f/hr)", w.CyclesStarted, w.CyclesCompleted, w.CyclesPerHour))
	table.AddRow("proposals generated/applied/rejected", fmt.Sprintf("%d / %d / %d", w.ProposalsGenerated, w.ProposalsApplied, w.ProposalsRejected))
	table.AddRow("verification pass rate", fmt.Sprintf("%.0f%%", w.VerificationPassRate*100))
	table.AddRow("apply success rate", fmt.Sprintf("%.0f%%", w.ApplySuccessRate*100))
	table.AddRow("queue depth p95/max", fmt.Sprintf("%d / %d", w.QueueDepthP95, w.QueueDepthMax))
	table.AddRow("cycle latency p50/p95", fmt.Sprintf("%s / %s", w.CycleLatencyP50, w.CycleLatencyP95))
	//nolint:errcheck // table render to stdout
	table.Render()
}
