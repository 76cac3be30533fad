package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/contextbuild"
	"github.com/boshu2/ambient/internal/impact"
	"github.com/boshu2/ambient/internal/vcs"
)

var debugContextFiles []string

var debugContextCmd = &cobra.Command{
	Use:   "debug-context",
	Short: "Print the RepoContext a cycle would build",
	Long: `debug-context assembles the same RepoContext snapshot a real
cycle would hand to every specialist agent and prints it as JSON,
without calling a model or running any agent.

Examples:
  ambient debug-context
  ambient debug-context --files internal/patch/patch.go`,
	RunE: runDebugContext,
}

func init() {
	debugContextCmd.Flags().StringSliceVar(&debugContextFiles, "files", nil, "Changed files to compute the impact radius from")
	rootCmd.AddCommand(debugContextCmd)
}

func runDebugContext(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repoRoot, err := vcs.RepoRoot(cmd.Context(), cwd, defaultRepoRootTimeout)
	if err != nil {
		repoRoot = cwd
	}

	builder := contextbuild.NewBuilder(repoRoot)

	trigger := ambtypes.AmbientEvent{Kind: string(ambtypes.EventManualTrigger)}
	var radius impact.Radius
	if len(debugContextFiles) > 0 {
		trigger.Kind = string(ambtypes.EventFileChange)
		trigger.Data = map[string]any{"files": debugContextFiles}
		if graph, err := impact.BuildGraph(repoRoot, moduleBoshu2Ambient); err == nil {
			radius = graph.Compute(debugContextFiles, builder.Cfg.MaxFiles)
		}
	}

	repoCtx := builder.Build(trigger, radius, "", "", nil)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(repoCtx)
}
