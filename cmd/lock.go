package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/catalog"
	"github.com/wrknv/wrknv/pkg/config"
	"github.com/wrknv/wrknv/pkg/lockfile"
	"github.com/wrknv/wrknv/pkg/platform"
)

// lockCmd manages the project lockfile: resolving every tool's constraints
// against its upstream catalog and recording the result, or reinstalling
// from what's already recorded.
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Resolve tool constraints and write the lockfile",
	Run: func(cmd *cobra.Command, args []string) {
		if err := lockResolve(); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

var lockSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Install tools at the versions recorded in the lockfile",
	Run: func(cmd *cobra.Command, args []string) {
		if err := lockSync(); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	lockCmd.AddCommand(lockSyncCmd)
}

func lockfileEngine(projectRoot string) *lockfile.Engine {
	return lockfile.New(config.LockfilePath(projectRoot), version, logger())
}

func lockResolve() error {
	cfg, projectRoot, err := loadProject()
	if err != nil {
		return err
	}

	plat := platform.Current()
	fetcher := newFetcher()
	lister := catalog.VersionLister(plat, fetcher)

	engine := lockfileEngine(projectRoot)
	lf := engine.ResolveAndLock(cfg, lister)
	if err := engine.Save(lf); err != nil {
		return fmt.Errorf("save lockfile: %w", err)
	}

	printSuccess("Locked %d tool(s) at %s", len(lf.ResolvedTools), engine.Path)
	return nil
}

func lockSync() error {
	cfg, projectRoot, err := loadProject()
	if err != nil {
		return err
	}

	engine := lockfileEngine(projectRoot)
	lf := engine.Load()
	if lf == nil {
		return fmt.Errorf("no lockfile found at %s (run 'wrknv lock' first)", engine.Path)
	}

	plat := platform.Current()
	fetcher := newFetcher()
	log := logger()
	cache := cacheOptionsFor(cfg)

	result := engine.SyncFromLock(lf, func(toolID string) (lockfile.Installer, error) {
		return catalog.InstallerFor(toolID, projectRoot, plat, fetcher, log, cache)
	})

	printSuccess("Sync complete: %d installed, %d skipped, %d failed", result.Installed, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("%d tool(s) failed to sync", result.Failed)
	}
	return nil
}
