package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ambient",
	Short: "Ambient code-quality coordinator",
	Long: `ambient watches a repository, fans proposed changes out across
specialist agents, risk-gates and verifies the survivors in an isolated
sandbox, and applies and commits what passes.

Core commands:
  watch          Run the coordinator against live filesystem events
  run-once       Trigger a single analysis cycle and exit
  verify         Run the verification checklist against a worktree
  doctor         Check the coordinator's health
  debug-context  Print the RepoContext a cycle would build
  init           Initialize .ambient/ in the current repository
  status         Show windowed telemetry metrics
  telemetry tail Stream the telemetry log`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .ambient/config.yaml, then ~/.ambient/config.yaml)")
}

func GetDryRun() bool       { return dryRun }
func GetVerbose() bool      { return verbose }
func GetOutput() string     { return output }
func GetConfigFile() string { return cfgFile }

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("AMBIENT_CONFIG", path)
}

func main() {
	Execute()
}
