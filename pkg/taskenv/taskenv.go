// Package taskenv implements the execution environment probe that decides
// whether a task runs through a package-manager runner prefix (e.g. "uv
// run") or directly against PATH with a detected virtual environment
// prepended.
package taskenv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pelletier/go-toml/v2"

	"github.com/wrknv/wrknv/pkg/platform"
	"github.com/wrknv/wrknv/pkg/wlog"
)

// Mode is the execution mode override.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeRunner Mode = "runner"
	ModeDirect Mode = "direct"
	ModeSystem Mode = "system"
)

// OverrideEnvVar is the environment variable that, if set, supplies the
// runner prefix verbatim ("" means "no prefix").
const OverrideEnvVar = "WRKNV_TASK_RUNNER"

// PackageManager describes the markers used to recognize a package-manager
// project and the runner prefix it implies. The default targets uv, the
// only package manager the originating tool understood; other managers can
// be probed by constructing a different PackageManager value.
type PackageManager struct {
	Name         string // e.g. "uv"
	RunnerPrefix string // e.g. "uv run"
	LockFile     string // e.g. "uv.lock"
	ManifestFile string // e.g. "pyproject.toml"
	TOMLSection  string // section under [tool.<TOMLSection>]
}

// DefaultPackageManager detects a uv-managed Python project.
var DefaultPackageManager = PackageManager{
	Name:         "uv",
	RunnerPrefix: "uv run",
	LockFile:     "uv.lock",
	ManifestFile: "pyproject.toml",
	TOMLSection:  "uv",
}

// Environment is one project's detected execution environment. It is built
// once and cached for the lifetime of an executor.
type Environment struct {
	ProjectDir  string
	PackageName string
	Mode        Mode

	VenvPath                string // empty if none detected
	IsPackageManagerProject bool
	PackageIsEditable       bool
	UseRunnerPrefix         bool
	OverrideFromEnv         string // empty means no override
	hasOverride             bool

	pm       PackageManager
	platform platform.Descriptor
	log      logr.Logger
}

// Option configures Detect.
type Option func(*Environment)

// WithPackageManager overrides the package-manager markers probed for.
func WithPackageManager(pm PackageManager) Option {
	return func(e *Environment) { e.pm = pm }
}

// WithPlatform overrides the platform descriptor used for bin-dir and PATH
// separator decisions. Defaults to platform.Current().
func WithPlatform(p platform.Descriptor) Option {
	return func(e *Environment) { e.platform = p }
}

// WithLogger attaches a logger.
func WithLogger(log logr.Logger) Option {
	return func(e *Environment) { e.log = log }
}

// Detect builds an Environment for projectDir/packageName and runs every
// detection step: override env var, venv location, package-manager project,
// editable install.
func Detect(projectDir, packageName string, mode Mode, opts ...Option) *Environment {
	e := &Environment{
		ProjectDir:  projectDir,
		PackageName: packageName,
		Mode:        mode,
		pm:          DefaultPackageManager,
		platform:    platform.Current(),
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = wlog.OrDiscard(e.log)
	e.detect()
	return e
}

func (e *Environment) detect() {
	if raw, ok := os.LookupEnv(OverrideEnvVar); ok {
		e.OverrideFromEnv = raw
		e.hasOverride = true
		e.UseRunnerPrefix = raw == e.pm.RunnerPrefix
		e.log.V(1).Info("task runner override from environment", "runner", raw)
		return
	}

	e.VenvPath = e.detectVenv()
	e.IsPackageManagerProject = e.isPackageManagerProject()
	e.PackageIsEditable = e.isEditableInstall()

	switch e.Mode {
	case ModeRunner:
		e.UseRunnerPrefix = true
	case ModeDirect:
		e.UseRunnerPrefix = false
	case ModeSystem:
		e.UseRunnerPrefix = false
		e.VenvPath = ""
	default: // auto
		switch {
		case e.PackageIsEditable:
			e.UseRunnerPrefix = false
			e.log.V(1).Info("editable install detected, using direct execution", "package", e.PackageName)
		case e.IsPackageManagerProject:
			e.UseRunnerPrefix = true
			e.log.V(1).Info("package-manager project detected, using runner prefix")
		default:
			e.UseRunnerPrefix = false
			e.log.V(1).Info("using direct execution with PATH modification")
		}
	}

	e.log.V(1).Info("environment detection complete",
		"venv_path", e.VenvPath,
		"is_package_manager_project", e.IsPackageManagerProject,
		"package_is_editable", e.PackageIsEditable,
		"use_runner_prefix", e.UseRunnerPrefix,
		"mode", e.Mode,
	)
}

// ForTaskMode returns a copy of e with the execution mode overridden for a
// single task's own execution_mode, re-deriving UseRunnerPrefix/VenvPath
// from the already-probed venv/package-manager/editable-install signals
// instead of re-walking the filesystem. An empty or "auto" mode returns e
// unchanged.
func (e *Environment) ForTaskMode(mode Mode) *Environment {
	if mode == "" || mode == ModeAuto || mode == e.Mode {
		return e
	}
	clone := *e
	clone.Mode = mode
	switch mode {
	case ModeRunner:
		clone.UseRunnerPrefix = true
	case ModeDirect:
		clone.UseRunnerPrefix = false
	case ModeSystem:
		clone.UseRunnerPrefix = false
		clone.VenvPath = ""
	}
	return &clone
}

// detectVenv walks the venv detection priority order: a workenv-managed
// venv, .venv, venv, then an inherited VIRTUAL_ENV.
func (e *Environment) detectVenv() string {
	workenv := filepath.Join(e.ProjectDir, "workenv", e.PackageName+"_"+string(e.platform.OS)+"_"+string(e.platform.Arch))
	if isVenvDir(workenv) {
		e.log.V(2).Info("found workenv venv", "path", workenv)
		return workenv
	}

	dotVenv := filepath.Join(e.ProjectDir, ".venv")
	if isVenvDir(dotVenv) {
		e.log.V(2).Info("found .venv", "path", dotVenv)
		return dotVenv
	}

	venv := filepath.Join(e.ProjectDir, "venv")
	if isVenvDir(venv) {
		e.log.V(2).Info("found venv", "path", venv)
		return venv
	}

	// The Go binary has no interpreter prefix of its own; the closest
	// analog to "current interpreter's venv" is an already-activated venv
	// inherited from the parent shell.
	if active := os.Getenv("VIRTUAL_ENV"); active != "" {
		e.log.V(2).Info("using active VIRTUAL_ENV", "path", active)
		return active
	}

	return ""
}

func isVenvDir(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, "pyvenv.cfg"))
	return err == nil
}

// isPackageManagerProject checks for the package manager's lock file, then
// falls back to its manifest-section marker.
func (e *Environment) isPackageManagerProject() bool {
	if e.pm.LockFile != "" {
		if _, err := os.Stat(filepath.Join(e.ProjectDir, e.pm.LockFile)); err == nil {
			e.log.V(2).Info("package-manager project detected via lock file", "lock_file", e.pm.LockFile)
			return true
		}
	}

	if e.pm.ManifestFile == "" || e.pm.TOMLSection == "" {
		return false
	}
	manifestPath := filepath.Join(e.ProjectDir, e.pm.ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return false
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return false
	}
	tool, ok := doc["tool"].(map[string]any)
	if !ok {
		return false
	}
	if _, ok := tool[e.pm.TOMLSection]; ok {
		e.log.V(2).Info("package-manager project detected via manifest section", "manifest", e.pm.ManifestFile, "section", e.pm.TOMLSection)
		return true
	}
	return false
}

// directURL mirrors the subset of a Python dist-info direct_url.json this
// probe cares about.
type directURL struct {
	DirInfo struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
}

// isEditableInstall detects an editable (pip install -e) install. Go has no
// import machinery to introspect, so both detection methods operate on the
// filesystem directly: dist-info metadata under the detected venv's
// site-packages, then the src/ layout fallback.
func (e *Environment) isEditableInstall() bool {
	if e.VenvPath != "" {
		if e.editableViaDistInfo(e.VenvPath) {
			return true
		}
	}
	return e.editableViaSrcLayout()
}

func (e *Environment) editableViaDistInfo(venvPath string) bool {
	sitePackages := sitePackagesDirs(venvPath, e.platform)
	for _, dir := range sitePackages {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dist-info") {
				continue
			}
			if !strings.HasPrefix(strings.ToLower(entry.Name()), normalizePackageName(e.PackageName)) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name(), "direct_url.json"))
			if err != nil {
				continue
			}
			var parsed directURL
			if err := json.Unmarshal(data, &parsed); err != nil {
				continue
			}
			if parsed.DirInfo.Editable {
				e.log.V(2).Info("editable install detected via direct_url.json", "package", e.PackageName)
				return true
			}
		}
	}
	return false
}

func (e *Environment) editableViaSrcLayout() bool {
	candidate := filepath.Join(e.ProjectDir, "src", normalizePackageName(e.PackageName))
	info, err := os.Stat(candidate)
	if err == nil && info.IsDir() {
		e.log.V(2).Info("editable install detected via src/ structure", "package", e.PackageName, "path", candidate)
		return true
	}
	return false
}

func normalizePackageName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func sitePackagesDirs(venvPath string, plat platform.Descriptor) []string {
	if plat.IsWindows() {
		return []string{filepath.Join(venvPath, "Lib", "site-packages")}
	}
	libDir := filepath.Join(venvPath, "lib")
	entries, err := os.ReadDir(libDir)
	if err != nil {
		return nil
	}
	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "python") {
			dirs = append(dirs, filepath.Join(libDir, entry.Name(), "site-packages"))
		}
	}
	return dirs
}

// BinDir returns the venv's platform-specific executable directory.
func (e *Environment) BinDir() string {
	if e.VenvPath == "" {
		return ""
	}
	if e.platform.IsWindows() {
		return filepath.Join(e.VenvPath, "Scripts")
	}
	return filepath.Join(e.VenvPath, "bin")
}

// PrepareCommand builds the final command line, applying any runner prefix.
// perTaskPrefix is a pointer so the empty string can mean "explicitly no
// prefix" rather than "unset": nil means unset, a pointer to "" forces no
// prefix.
func (e *Environment) PrepareCommand(command string, perTaskPrefix *string) string {
	if perTaskPrefix != nil {
		if *perTaskPrefix != "" {
			return *perTaskPrefix + " " + command
		}
		return command
	}

	if e.hasOverride {
		if e.OverrideFromEnv == "" {
			return command
		}
		return e.OverrideFromEnv + " " + command
	}

	if e.UseRunnerPrefix {
		return e.pm.RunnerPrefix + " " + command
	}
	return command
}

// PrepareEnvironment returns base with the detected venv's bin directory
// prepended to PATH, unless a runner prefix is in use (the runner already
// resolves its own environment).
func (e *Environment) PrepareEnvironment(base map[string]string) map[string]string {
	env := make(map[string]string, len(base)+1)
	for k, v := range base {
		env[k] = v
	}

	if e.UseRunnerPrefix {
		return env
	}
	if e.VenvPath == "" {
		return env
	}

	binDir := e.BinDir()
	if _, err := os.Stat(binDir); err != nil {
		return env
	}

	sep := ":"
	if e.platform.IsWindows() {
		sep = ";"
	}
	current, ok := env["PATH"]
	if !ok {
		current = os.Getenv("PATH")
	}
	env["PATH"] = binDir + sep + current
	e.log.V(2).Info("prepended venv bin to PATH", "bin_dir", binDir)
	return env
}
