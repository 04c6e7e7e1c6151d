package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/config"
)

var initForce bool

// initCmd represents the init command.
var initCmd = &cobra.Command{
	Use:   "init [project-name]",
	Short: "Initialize wrknv in the current project",
	Long: `Initialize wrknv configuration in the current project directory.

This creates a .wrknv/config.toml manifest you can customize for your
project's tools and tasks.

Examples:
  wrknv init                  # scaffold using the current directory name
  wrknv init my-service       # scaffold with an explicit project name
  wrknv init --force          # overwrite an existing manifest`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		if err := initProject(name); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing manifest")
}

func initProject(name string) error {
	projectRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get current directory: %w", err)
	}

	if name == "" {
		name = filepath.Base(projectRoot)
	}

	manifestDir := filepath.Join(projectRoot, config.ManifestDir)
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return fmt.Errorf("create %s directory: %w", config.ManifestDir, err)
	}

	manifestPath := config.ManifestPath(projectRoot)
	if _, err := os.Stat(manifestPath); err == nil && !initForce {
		return fmt.Errorf("manifest already exists: %s (use --force to overwrite)", manifestPath)
	}

	if err := os.WriteFile(manifestPath, []byte(defaultManifest(name)), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	printSuccess("Initialized wrknv manifest: %s", manifestPath)
	printInfo("")
	printInfo("Next steps:")
	printInfo("  1. Edit %s to configure your tools and tasks", manifestPath)
	printInfo("  2. Run 'wrknv tools install' to install pinned tools")
	printInfo("  3. Run 'wrknv run build' to run a task")
	return nil
}

func defaultManifest(name string) string {
	return fmt.Sprintf(`project_name = %q
version = "0.1.0"
description = "A %s project managed with wrknv"

[tools]
go = "1.22"

[workenv]
auto_install = true
use_cache = true
cache_ttl = "24h"
log_level = "INFO"

[tasks.build]
run = "go build ./..."

[tasks.test]
run = "go test ./..."

[export]
tasks = ["build", "test"]
`, name, name)
}
