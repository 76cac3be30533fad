package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/ambient/internal/config"
)

var ambientDirs = []string{
	".ambient/review",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .ambient/ in the current repository",
	Long: `Set up a repository for the coordinator: directories, a starter
config.yaml, and .gitignore protection for review worktrees and the
telemetry log.

Run in your project root. Safe to run multiple times (idempotent).`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	isGitRepo := isGitRepository(cwd)

	for _, dir := range ambientDirs {
		target := filepath.Join(cwd, dir)
		if GetDryRun() {
			if _, err := os.Stat(target); os.IsNotExist(err) {
				fmt.Printf("[dry-run] Would create %s\n", dir)
			}
			continue
		}
		if err := os.MkdirAll(target, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(cwd, ".ambient", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if GetDryRun() {
			fmt.Println("[dry-run] Would write .ambient/config.yaml")
		} else {
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
		}
	}

	if isGitRepo {
		if err := setupGitignore(cwd, GetDryRun()); err != nil {
			return fmt.Errorf("setup gitignore: %w", err)
		}
	} else {
		VerbosePrintf("Not a git repo — skipping .gitignore setup\n")
	}

	if !GetDryRun() {
		fmt.Printf("Initialized ambient in %s\n", cwd)
		fmt.Println("Created:")
		for _, dir := range ambientDirs {
			fmt.Printf("  %s/\n", dir)
		}
		fmt.Println("  .ambient/config.yaml")
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  export ANTHROPIC_API_KEY=...")
		fmt.Println("  ambient doctor")
		fmt.Println("  ambient watch")
	}

	return nil
}

func isGitRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func setupGitignore(cwd string, dryRun bool) error {
	targetPath := filepath.Join(cwd, ".gitignore")
	if fileContainsLine(targetPath, ".ambient/review/") {
		return nil
	}

	if dryRun {
		fmt.Println("[dry-run] Would add .ambient/review/ and telemetry log to .gitignore")
		return nil
	}

	f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if info, statErr := f.Stat(); statErr == nil && info.Size() > 0 {
		rf, err := os.Open(targetPath)
		if err == nil {
			buf := make([]byte, 1)
			if _, err := rf.Seek(-1, 2); err == nil {
				if _, err := rf.Read(buf); err == nil && buf[0] != '\n' {
					if _, err := f.WriteString("\n"); err != nil {
						rf.Close()
						return err
					}
				}
			}
			rf.Close()
		}
	}

	_, err = f.WriteString("\n# ambient review worktrees and telemetry (auto-added by ambient init)\n.ambient/review/\n.ambient/telemetry.jsonl\n")
	return err
}

func fileContainsLine(path, text string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == strings.TrimSpace(text) {
			return true
		}
	}
	return false
}
