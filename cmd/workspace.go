package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/workspace"
)

var (
	workspaceRoot     string
	workspacePatterns []string
	workspaceFilter   string
	workspaceParallel bool
	workspaceFailFast bool
)

// workspaceCmd runs one task across every repository discovered under a
// root directory.
var workspaceCmd = &cobra.Command{
	Use:   "workspace <task>",
	Short: "Run a task across every repository in a workspace",
	Long: `Discover repositories under --root (directories with both a source-control
marker and a .wrknv manifest) and run <task> in each of them.

Examples:
  wrknv workspace build
  wrknv workspace test --parallel
  wrknv workspace lint --filter "service-*" --fail-fast`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWorkspaceTask(args[0]); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	workspaceCmd.Flags().StringVar(&workspaceRoot, "root", ".", "workspace root to discover repositories under")
	workspaceCmd.Flags().StringSliceVar(&workspacePatterns, "pattern", nil, "glob pattern(s) for repository directories (default \"*\")")
	workspaceCmd.Flags().StringVar(&workspaceFilter, "filter", "", "glob filter applied to repository names")
	workspaceCmd.Flags().BoolVar(&workspaceParallel, "parallel", false, "run the task across repositories concurrently")
	workspaceCmd.Flags().BoolVar(&workspaceFailFast, "fail-fast", false, "stop sequential runs after the first failure")
}

func runWorkspaceTask(taskName string) error {
	root, err := pathAbs(workspaceRoot)
	if err != nil {
		return err
	}

	orch := workspace.New(root, logger())
	result, err := orch.RunTask(context.Background(), taskName, workspacePatterns, workspaceFilter, workspaceParallel, workspaceFailFast, nil)
	if err != nil {
		return err
	}

	printInfo("")
	printInfo("%d repos: %d succeeded, %d failed, %d skipped (%.1fs)",
		result.TotalRepos, result.Succeeded, result.Failed, result.Skipped, result.DurationSec)

	if !result.Success() {
		return fmt.Errorf("task %q failed in: %v", taskName, result.FailedRepos())
	}
	return nil
}

func pathAbs(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}
