package cmd

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/config"
)

// configCmd manages the user's global configuration at ~/.wrknv/config.toml,
// currently just the URL replacement map.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage global wrknv configuration",
	Long: `Manage global wrknv configuration, currently just URL replacements
for enterprise networks and mirrors.

The global configuration is stored in ~/.wrknv/config.toml and affects every
project on the machine.

Examples:
  wrknv config show
  wrknv config set-url-replacement github.com nexus.mycompany.net
  wrknv config set-url-replacement "regex:^http://(.+)" "https://$1"
  wrknv config remove-url-replacement github.com
  wrknv config clear-url-replacements`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current global configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if err := showGlobalConfig(); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

var configSetURLReplacementCmd = &cobra.Command{
	Use:   "set-url-replacement <pattern> <replacement>",
	Short: "Set a URL replacement pattern",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := setURLReplacement(args[0], args[1]); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

var configRemoveURLReplacementCmd = &cobra.Command{
	Use:   "remove-url-replacement <pattern>",
	Short: "Remove a URL replacement pattern",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := removeURLReplacement(args[0]); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

var configClearURLReplacementsCmd = &cobra.Command{
	Use:   "clear-url-replacements",
	Short: "Clear all URL replacement patterns",
	Run: func(cmd *cobra.Command, args []string) {
		if err := clearURLReplacements(); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetURLReplacementCmd)
	configCmd.AddCommand(configRemoveURLReplacementCmd)
	configCmd.AddCommand(configClearURLReplacementsCmd)
}

func showGlobalConfig() error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}
	path, err := config.GetGlobalConfigPath()
	if err != nil {
		return err
	}

	printInfo("Global wrknv configuration (%s):", path)
	printInfo("")
	if len(cfg.URLReplacements) == 0 {
		printInfo("No URL replacements configured.")
		return nil
	}
	printInfo("URL replacements:")
	for pattern, replacement := range cfg.URLReplacements {
		if strings.HasPrefix(pattern, "regex:") {
			printInfo("  %s -> %s (regex)", pattern, replacement)
		} else {
			printInfo("  %s -> %s", pattern, replacement)
		}
	}
	return nil
}

func setURLReplacement(pattern, replacement string) error {
	if strings.HasPrefix(pattern, "regex:") {
		if _, err := regexp.Compile(strings.TrimPrefix(pattern, "regex:")); err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
	}

	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}
	if cfg.URLReplacements == nil {
		cfg.URLReplacements = make(map[string]string)
	}
	cfg.URLReplacements[pattern] = replacement
	if err := config.SaveGlobalConfig(cfg); err != nil {
		return err
	}
	printSuccess("URL replacement added: %s -> %s", pattern, replacement)
	return nil
}

func removeURLReplacement(pattern string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}
	if _, exists := cfg.URLReplacements[pattern]; !exists {
		printInfo("URL replacement pattern %q not found.", pattern)
		return nil
	}
	delete(cfg.URLReplacements, pattern)
	if err := config.SaveGlobalConfig(cfg); err != nil {
		return err
	}
	printSuccess("URL replacement removed: %s", pattern)
	return nil
}

func clearURLReplacements() error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}
	count := len(cfg.URLReplacements)
	cfg.URLReplacements = make(map[string]string)
	if err := config.SaveGlobalConfig(cfg); err != nil {
		return err
	}
	printSuccess("Cleared %d URL replacement(s)", count)
	return nil
}
