package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boshu2/ambient/internal/ambtypes"
	"github.com/boshu2/ambient/internal/patch"
	"github.com/boshu2/ambient/internal/vcs"
	"github.com/boshu2/ambient/internal/worktree"
)

var verifyDiffPath string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Apply a diff to a fresh worktree and run the verification checklist",
	Long: `verify takes a unified diff, applies it in an isolated review
worktree, and runs the configured verification argv (go build/vet/test by
default) against it through the sandbox. The worktree is always torn down
afterward; nothing is applied to the real repository.

Examples:
  ambient verify --diff proposal.patch`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyDiffPath, "diff", "", "Path to a unified diff file (required)")
	_ = verifyCmd.MarkFlagRequired("diff")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	diffBytes, err := os.ReadFile(verifyDiffPath)
	if err != nil {
		return fmt.Errorf("read diff: %w", err)
	}

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

	c, err := buildCoordinator(repoRoot, cfg, nil)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	proposal, err := ambtypes.NewProposal("manual", "manual verification", "", string(diffBytes), ambtypes.RiskLow, "", nil, 0, nil)
	if err != nil {
		return fmt.Errorf("build proposal: %w", err)
	}

	ctx := cmd.Context()
	mgr := worktree.NewManager(repoRoot)
	candidate, err := mgr.Create(ctx, "manual-verify", 1, proposal)
	if err != nil {
		return fmt.Errorf("create review worktree: %w", err)
	}
	defer func() {
		if err := mgr.Teardown(ctx, candidate); err != nil {
			fmt.Fprintf(os.Stderr, "teardown worktree: %v\n", err)
		}
	}()

	reviewEngine := patch.NewEngine(candidate.WorktreePath)
	if _, err := reviewEngine.Apply(ctx, proposal.Diff); err != nil {
		return fmt.Errorf("apply diff to worktree: %w", err)
	}

	result := c.VerifyAgainst(ctx, candidate.WorktreePath)
	for _, check := range result.Results {
		status := "pass"
		if !check.OK {
			status = "fail"
		}
		if check.Rejected {
			status = "rejected"
		}
		fmt.Printf("%-8s %s (%s)\n", status, check.Name, check.Duration)
		if !check.OK && check.Stderr != "" {
			fmt.Println(check.Stderr)
		}
	}

	if !result.OK {
		return fmt.Errorf("verification failed")
	}
	fmt.Println("verification passed")
	return nil
}
