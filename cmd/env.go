package cmd

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wrknv/wrknv/pkg/taskenv"
)

var envShell string

// envCmd prints shell-specific export statements for a project's task
// environment (venv bin dir, container_runtime/container_registry), for use
// in shell activation hooks.
var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print environment variables for shell integration",
	Long: `Print shell-specific export statements for the current project's task
environment.

Examples:
  eval "$(wrknv env --shell bash)"
  wrknv env --shell fish | source
  Invoke-Expression (wrknv env --shell powershell | Out-String)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := outputEnvironment(); err != nil {
			printError("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	envCmd.Flags().StringVar(&envShell, "shell", detectShell(), "shell type (bash, zsh, fish, powershell)")
}

func detectShell() string {
	shell := os.Getenv("SHELL")
	switch {
	case strings.Contains(shell, "zsh"):
		return "zsh"
	case strings.Contains(shell, "fish"):
		return "fish"
	case strings.Contains(shell, "bash"):
		return "bash"
	case runtime.GOOS == "windows":
		return "powershell"
	default:
		return "bash"
	}
}

func outputEnvironment() error {
	cfg, projectRoot, err := loadProject()
	if err != nil {
		// Silent: activation hooks call this unconditionally on every
		// directory change and a non-wrknv directory shouldn't error.
		return nil
	}

	env := taskenv.Detect(projectRoot, cfg.ProjectName, taskenv.ModeAuto, taskenv.WithLogger(logger()))
	vars := env.PrepareEnvironment(map[string]string{})
	if cfg.Workenv.ContainerRuntime != "" {
		vars["WRKNV_CONTAINER_RUNTIME"] = cfg.Workenv.ContainerRuntime
	}
	if cfg.Workenv.ContainerRegistry != "" {
		vars["WRKNV_CONTAINER_REGISTRY"] = cfg.Workenv.ContainerRegistry
	}

	var pathPrepend string
	if !env.UseRunnerPrefix && env.VenvPath != "" {
		pathPrepend = env.BinDir()
		delete(vars, "PATH")
	}

	switch envShell {
	case "bash", "zsh":
		return outputBashEnv(pathPrepend, vars)
	case "fish":
		return outputFishEnv(pathPrepend, vars)
	case "powershell":
		return outputPowerShellEnv(pathPrepend, vars)
	default:
		return fmt.Errorf("unsupported shell: %s", envShell)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func outputBashEnv(pathPrepend string, vars map[string]string) error {
	if pathPrepend != "" {
		fmt.Printf("export PATH=\"%s%c$PATH\"\n", pathPrepend, os.PathListSeparator)
	}
	for _, key := range sortedKeys(vars) {
		fmt.Printf("export %s=\"%s\"\n", key, strings.ReplaceAll(vars[key], `"`, `\"`))
	}
	return nil
}

func outputFishEnv(pathPrepend string, vars map[string]string) error {
	if pathPrepend != "" {
		fmt.Printf("set -gx PATH \"%s\" $PATH\n", pathPrepend)
	}
	for _, key := range sortedKeys(vars) {
		fmt.Printf("set -gx %s \"%s\"\n", key, strings.ReplaceAll(vars[key], `"`, `\"`))
	}
	return nil
}

func outputPowerShellEnv(pathPrepend string, vars map[string]string) error {
	if pathPrepend != "" {
		fmt.Printf("$env:PATH = \"%s;$env:PATH\"\n", pathPrepend)
	}
	for _, key := range sortedKeys(vars) {
		fmt.Printf("$env:%s = \"%s\"\n", key, strings.ReplaceAll(vars[key], `"`, "`\""))
	}
	return nil
}
