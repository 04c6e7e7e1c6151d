package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/catalog"
	"github.com/wrknv/wrknv/pkg/platform"
	"github.com/wrknv/wrknv/pkg/version"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// toolsCmd manages the tool manager side of the manifest: listing configured
// tools and installing them via the version resolver and the built-in
// catalog.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Manage project tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools configured in the manifest",
	Run: func(cmd *cobra.Command, args []string) {
		if err := toolsList(); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

var toolsInstallCmd = &cobra.Command{
	Use:   "install [tool]",
	Short: "Install configured tools",
	Long: `Resolve each tool's version constraint against its upstream catalog and
install it under .wrknv/tools.

With no argument, installs every tool in the manifest. With a tool-id
argument, installs just that one.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var only string
		if len(args) > 0 {
			only = args[0]
		}
		if err := toolsInstall(only); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsInstallCmd)
}

func toolsList() error {
	cfg, _, err := loadProject()
	if err != nil {
		return err
	}
	ids := cfg.SortedToolIDs()
	if len(ids) == 0 {
		printInfo("No tools configured.")
		return nil
	}
	printInfo("Configured tools:")
	for _, id := range ids {
		spec := cfg.Tools[id]
		printInfo("  %-20s %s", id, joinConstraints(spec.ConstraintStrings()))
	}
	return nil
}

func joinConstraints(cs []string) string {
	out := ""
	for i, c := range cs {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func toolsInstall(only string) error {
	cfg, projectRoot, err := loadProject()
	if err != nil {
		return err
	}

	ids := cfg.SortedToolIDs()
	if only != "" {
		if _, ok := cfg.Tools[only]; !ok {
			return fmt.Errorf("tool %q is not configured in the manifest", only)
		}
		ids = []string{only}
	}

	plat := platform.Current()
	fetcher := newFetcher()
	lister := catalog.VersionLister(plat, fetcher)
	cache := cacheOptionsFor(cfg)

	var failed []string
	for _, id := range ids {
		spec := cfg.Tools[id]
		matrix, err := version.ParseMatrix(spec.ConstraintStrings())
		if err != nil {
			printError("%s: %v", id, err)
			failed = append(failed, id)
			continue
		}

		available, err := lister(id, false)
		if err != nil {
			printError("%s: list versions: %v", id, err)
			failed = append(failed, id)
			continue
		}

		resolved := matrix.Resolve(available, false)
		if len(resolved) == 0 {
			err := wrknverrors.Resolution("resolve", id, fmt.Sprintf("no version satisfies %s", joinConstraints(spec.ConstraintStrings())))
			printError("%v", err)
			failed = append(failed, id)
			continue
		}

		installer, err := catalog.InstallerFor(id, projectRoot, plat, fetcher, logger(), cache)
		if err != nil {
			printError("%s: %v", id, err)
			failed = append(failed, id)
			continue
		}

		for _, entry := range resolved {
			printInfo("Installing %s %s...", id, entry.Version)
			if err := installer.Install(entry.Version, false); err != nil {
				printError("%s %s: %v", id, entry.Version, err)
				failed = append(failed, id)
				continue
			}
			printSuccess("%s %s installed", id, entry.Version)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("failed to install: %v", failed)
	}
	return nil
}
