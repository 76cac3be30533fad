package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/vcs"
)

var runOnceFiles []string

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Trigger a single analysis cycle and exit",
	Long: `run-once drives exactly one cycle through propose, refine,
cross-pollination, risk gating, verification, and apply, then exits.
Useful for CI or for a manual nudge outside the watch loop.

Examples:
  ambient run-once
  ambient run-once --files internal/patch/patch.go,internal/vcs/vcs.go`,
	RunE: runRunOnce,
}

func init() {
	runOnceCmd.Flags().StringSliceVar(&runOnceFiles, "files", nil, "Changed files to scope the impact radius to (manual_trigger by default)")
	rootCmd.AddCommand(runOnceCmd)
}

func runRunOnce(cmd *cobra.Command, args []string) error {
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

	client, err := buildModelClient(cfg)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	c, err := buildCoordinator(repoRoot, cfg, client)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	trigger := ambtypes.AmbientEvent{Kind: string(ambtypes.EventManualTrigger)}
	if len(runOnceFiles) > 0 {
		trigger.Kind = string(ambtypes.EventFileChange)
		trigger.Data = map[string]any{"files": runOnceFiles}
	}

	return c.RunOnce(cmd.Context(), trigger)
}
