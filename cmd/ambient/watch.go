package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/vcs"
	"github.com/boshu2/ambient/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the repository and run analysis cycles on change",
	Long: `watch starts the file watcher and the coordinator's event loop.

The watcher emits debounced file_change events as the working tree
changes; the coordinator also runs a periodic scan independent of any
file activity. Both paths share the coordinator's pause/throttle/backoff
state, so only one cycle ever runs at a time.

Examples:
  ambient watch
  ambient watch --config ./ambient.yaml`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.Enabled {
		wcfg := watcher.DefaultConfig(repoRoot)
		w := watcher.New(wcfg)
		w.Emit = c.Enqueue
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "watcher stopped: %v\n", err)
			}
		}()
	}

	fmt.Printf("ambient watching %s (ctrl-c to stop)\n", repoRoot)
	return c.Run(ctx)
}
