package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/config"
	"github.com/wrknv/wrknv/pkg/executor"
	"github.com/wrknv/wrknv/pkg/taskenv"
	"github.com/wrknv/wrknv/pkg/tasks"
)

var (
	runDryRun bool
)

// runCmd runs one task from the project's manifest.
var runCmd = &cobra.Command{
	Use:   "run [task] [args...]",
	Short: "Run a task defined in the project manifest",
	Long: `Run a task defined in .wrknv/config.toml's [tasks] table.

With no task name, lists every task the manifest defines.

Examples:
  wrknv run                  # list available tasks
  wrknv run build            # run the "build" task
  wrknv run test.unit        # run the "test.unit" namespaced task
  wrknv run lint -- --fix    # pass extra arguments through to the task`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: false,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			if err := listTasks(); err != nil {
				printError("%v", err)
				os.Exit(1)
			}
			return
		}
		if err := runTask(args[0], args[1:]); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print what would run without executing it")
	rootCmd.AddCommand(runCmd)
}

func loadProject() (*config.Config, string, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, "", fmt.Errorf("find project root: %w", err)
	}
	cfg, err := config.Load(config.ManifestPath(projectRoot))
	if err != nil {
		return nil, "", fmt.Errorf("load manifest: %w", err)
	}
	return cfg, projectRoot, nil
}

func listTasks() error {
	cfg, _, err := loadProject()
	if err != nil {
		return err
	}
	reg, err := tasks.Parse(cfg.Tasks)
	if err != nil {
		return fmt.Errorf("parse tasks: %w", err)
	}
	if len(reg.Tasks) == 0 {
		printInfo("No tasks defined. Add a [tasks] table to %s to get started.", config.ManifestFile)
		return nil
	}

	names := make([]string, 0, len(reg.Tasks))
	for name := range reg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	printInfo("Available tasks:")
	for _, name := range names {
		printInfo("  %s", name)
	}
	printInfo("")
	printInfo("Usage: wrknv run <task> [args...]")
	return nil
}

func runTask(taskName string, args []string) error {
	cfg, projectRoot, err := loadProject()
	if err != nil {
		return err
	}

	reg, err := tasks.Parse(cfg.Tasks)
	if err != nil {
		return fmt.Errorf("parse tasks: %w", err)
	}

	task, taskArgs, err := reg.Resolve(taskName, args)
	if err != nil {
		return fmt.Errorf("resolve task %q: %w", taskName, err)
	}

	env := taskenv.Detect(projectRoot, cfg.ProjectName, taskenv.ModeAuto, taskenv.WithLogger(logger()))
	exec := executor.New(reg, env, projectRoot, logger())

	result, err := exec.Run(context.Background(), task, taskArgs, runDryRun)
	if err != nil {
		return err
	}
	if !result.Success {
		os.Exit(result.ExitCode)
	}
	return nil
}
