package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/catalog"
	"github.com/wrknv/wrknv/pkg/config"
	"github.com/wrknv/wrknv/pkg/fetch"
	"github.com/wrknv/wrknv/pkg/wlog"
)

var (
	// Version information set from main.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// Global flags.
	verbose bool
	quiet   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wrknv",
	Short: "Project-local toolchain manager and task runner",
	Long: `wrknv manages per-project tool versions, a reproducible lockfile, and
task execution environments, without requiring anything beyond the wrknv
binary itself to be installed system-wide.

Examples:
  wrknv init              # scaffold .wrknv/config.toml in the current directory
  wrknv tools install     # install every tool the manifest pins
  wrknv run build         # run the "build" task
  wrknv lock              # resolve constraints and (re)write the lockfile`,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information from main.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet output (errors only)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(workspaceCmd)
}

// logger returns the logr.Logger core packages should log through: a discard
// logger under --quiet, otherwise a stderr text logger. --verbose does not
// change it; the text sink emits every V level.
func logger() logr.Logger {
	if quiet {
		return logr.Discard()
	}
	return wlog.NewStderr()
}

// newFetcher builds a Fetcher wired with the user's global url_replacements
// map (~/.wrknv/config.toml), so every tool download and catalog lookup
// honors an enterprise mirror redirect without each caller loading the
// global config itself. A missing or unreadable global config degrades to
// no replacements rather than failing the command.
func newFetcher() *fetch.Fetcher {
	f := fetch.New(logger())
	if gcfg, err := config.LoadGlobalConfig(); err == nil && len(gcfg.URLReplacements) > 0 {
		f.Replacer = fetch.NewReplacer(gcfg.URLReplacements, logger())
	}
	return f
}

// cacheOptionsFor translates a project's workenv.use_cache/cache_ttl into the
// catalog package's CacheOptions. An invalid or unset cache_ttl degrades to
// no expiry rather than failing the command.
func cacheOptionsFor(cfg *config.Config) catalog.CacheOptions {
	opts := catalog.CacheOptions{Disable: !cfg.Workenv.UseCache}
	if cfg.Workenv.CacheTTL != "" {
		if ttl, err := config.CacheTTLDuration(cfg.Workenv.CacheTTL); err == nil {
			opts.TTL = ttl
		}
	}
	return opts
}

func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
	}
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// findProjectRoot walks up from the current directory looking for the
// project manifest directory (.wrknv/).
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		manifestDir := filepath.Join(dir, config.ManifestDir)
		if info, err := os.Stat(manifestDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no %s directory found (run 'wrknv init' first)", config.ManifestDir)
}
