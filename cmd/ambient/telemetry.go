package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/telemetry"
	"github.com/boshu2/ambient/internal/vcs"
)

var telemetryTailN int

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Inspect the telemetry log",
}

var telemetryTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent telemetry records",
	Long: `tail reads the telemetry JSONL log and prints the last N
records, one JSON object per line.

Examples:
  ambient telemetry tail
  ambient telemetry tail -n 50`,
	RunE: runTelemetryTail,
}

func init() {
	telemetryTailCmd.Flags().IntVarP(&telemetryTailN, "lines", "n", 20, "Number of trailing records to print")
	telemetryCmd.AddCommand(telemetryTailCmd)
	rootCmd.AddCommand(telemetryCmd)
}

func runTelemetryTail(cmd *cobra.Command, args []string) error {
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

	records, err := telemetry.Tail(logPath)
	if err != nil {
		return fmt.Errorf("read telemetry log: %w", err)
	}

	if len(records) > telemetryTailN {
		records = records[len(records)-telemetryTailN:]
	}

	enc := json.NewEncoder(os.Stdout)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
