// Package config parses and validates the project manifest: project
// metadata, the tools table (scalar/matrix/struct tool-spec union),
// profiles, the workenv block, the raw tasks tree (handed to pkg/tasks), and
// the export list.
//
// Manifests are TOML via github.com/pelletier/go-toml/v2, with
// github.com/go-viper/mapstructure/v2 decoding the tool-spec union type from
// the parsed map[string]any.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// ManifestDir is the project-local directory holding the manifest and
// lockfile: .wrknv/.
const ManifestDir = ".wrknv"

// ManifestFile is the manifest's filename within ManifestDir.
const ManifestFile = "config.toml"

// LockFile is the lockfile's filename within ManifestDir.
const LockFile = "wrknv.lock"

// EnvPrefix is the prefix for every recognized environment variable
// override.
const EnvPrefix = "WRKNV_"

var projectNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
var cacheTTLRe = regexp.MustCompile(`^\d+[smhdw]$`)

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

var validContainerRuntimes = map[string]bool{
	"docker": true, "podman": true, "nerdctl": true,
}

// ToolSpecKind discriminates the tool-spec union type.
type ToolSpecKind string

const (
	ToolSpecScalar ToolSpecKind = "scalar"
	ToolSpecMatrix ToolSpecKind = "matrix"
	ToolSpecStruct ToolSpecKind = "struct"
)

// ToolSpec is the per-tool manifest entry: exact-version-string,
// list-of-version-strings (matrix), or a struct with version/path/env.
type ToolSpec struct {
	Kind    ToolSpecKind
	Version string
	Matrix  []string
	Path    string
	Env     map[string]string
}

// ConstraintStrings returns the raw constraint expression(s) this spec
// contributes to the version resolver: one for scalar/struct, one per entry
// for matrix.
func (t ToolSpec) ConstraintStrings() []string {
	if t.Kind == ToolSpecMatrix {
		return append([]string(nil), t.Matrix...)
	}
	return []string{t.Version}
}

type toolSpecStruct struct {
	Version string            `mapstructure:"version"`
	Path    string            `mapstructure:"path"`
	Env     map[string]string `mapstructure:"env"`
}

func decodeToolSpec(raw any) (ToolSpec, error) {
	switch v := raw.(type) {
	case string:
		return ToolSpec{Kind: ToolSpecScalar, Version: v}, nil
	case []any:
		matrix := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return ToolSpec{}, fmt.Errorf("matrix tool-spec entries must be strings, got %T", elem)
			}
			matrix = append(matrix, s)
		}
		return ToolSpec{Kind: ToolSpecMatrix, Matrix: matrix}, nil
	case map[string]any:
		var decoded toolSpecStruct
		if err := mapstructure.Decode(v, &decoded); err != nil {
			return ToolSpec{}, err
		}
		if decoded.Version == "" {
			return ToolSpec{}, fmt.Errorf("struct tool-spec requires a version field")
		}
		return ToolSpec{Kind: ToolSpecStruct, Version: decoded.Version, Path: decoded.Path, Env: decoded.Env}, nil
	default:
		return ToolSpec{}, fmt.Errorf("unsupported tool-spec shape: %T", raw)
	}
}

// WorkenvConfig is the [workenv] manifest block.
type WorkenvConfig struct {
	AutoInstall       bool   `mapstructure:"auto_install"`
	UseCache          bool   `mapstructure:"use_cache"`
	CacheTTL          string `mapstructure:"cache_ttl"`
	LogLevel          string `mapstructure:"log_level"`
	ContainerRuntime  string `mapstructure:"container_runtime"`
	ContainerRegistry string `mapstructure:"container_registry"`
}

// ExportConfig is the [export] manifest block.
type ExportConfig struct {
	Tasks []string `mapstructure:"tasks"`
}

// Config is the parsed project manifest.
type Config struct {
	ProjectName string
	Version     string
	Description string
	Tools       map[string]ToolSpec
	Profiles    map[string]map[string]string
	Workenv     WorkenvConfig
	// Tasks is the raw nested tasks table, parsed by pkg/tasks into a
	// task tree, kept opaque here since its shape (namespace vs. leaf) is
	// only resolvable with knowledge of the task grammar.
	Tasks  map[string]any
	Export ExportConfig
}

// Parse parses manifest TOML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, wrknverrors.Config("parse", "manifest", err)
	}

	cfg := &Config{
		Tools:    map[string]ToolSpec{},
		Profiles: map[string]map[string]string{},
	}

	if v, ok := raw["project_name"].(string); ok {
		cfg.ProjectName = v
	}
	if v, ok := raw["version"].(string); ok {
		cfg.Version = v
	}
	if v, ok := raw["description"].(string); ok {
		cfg.Description = v
	}

	if toolsRaw, ok := raw["tools"].(map[string]any); ok {
		for id, v := range toolsRaw {
			spec, err := decodeToolSpec(v)
			if err != nil {
				return nil, wrknverrors.Config("parse", "tools."+id, err)
			}
			cfg.Tools[id] = spec
		}
	}

	if profilesRaw, ok := raw["profiles"].(map[string]any); ok {
		for name, v := range profilesRaw {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, wrknverrors.Config("parse", "profiles."+name, fmt.Errorf("profile must be a table"))
			}
			toolMap := map[string]string{}
			for toolID, cv := range m {
				s, ok := cv.(string)
				if !ok {
					return nil, wrknverrors.Config("parse", "profiles."+name+"."+toolID, fmt.Errorf("profile tool constraint must be a string"))
				}
				toolMap[toolID] = s
			}
			cfg.Profiles[name] = toolMap
		}
	}

	cfg.Workenv.UseCache = true // default on; an explicit use_cache = false below overrides it
	if workenvRaw, ok := raw["workenv"].(map[string]any); ok {
		if err := mapstructure.Decode(workenvRaw, &cfg.Workenv); err != nil {
			return nil, wrknverrors.Config("parse", "workenv", err)
		}
	}

	if tasksRaw, ok := raw["tasks"].(map[string]any); ok {
		cfg.Tasks = tasksRaw
	}

	if exportRaw, ok := raw["export"].(map[string]any); ok {
		if err := mapstructure.Decode(exportRaw, &cfg.Export); err != nil {
			return nil, wrknverrors.Config("parse", "export", err)
		}
	}

	return cfg, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrknverrors.Config("load", path, err)
	}
	return Parse(data)
}

// ManifestPath returns the manifest path for a project root.
func ManifestPath(projectRoot string) string {
	return filepath.Join(projectRoot, ManifestDir, ManifestFile)
}

// LockfilePath returns the lockfile path for a project root.
func LockfilePath(projectRoot string) string {
	return filepath.Join(projectRoot, ManifestDir, LockFile)
}

func taskDepth(node any, depth int) int {
	m, ok := node.(map[string]any)
	if !ok {
		return depth
	}
	if _, isLeaf := m["run"]; isLeaf {
		return depth
	}
	max := depth
	for _, v := range m {
		d := taskDepth(v, depth+1)
		if d > max {
			max = d
		}
	}
	return max
}

// Validate enforces the manifest's structural invariants.
func (c *Config) Validate() error {
	if !projectNameRe.MatchString(c.ProjectName) {
		return wrknverrors.Config("validate", c.ProjectName, fmt.Errorf("project_name must match [A-Za-z0-9._-]{1,100}"))
	}

	for id, spec := range c.Tools {
		for _, constraint := range spec.ConstraintStrings() {
			if strings.TrimSpace(constraint) == "" {
				return wrknverrors.Config("validate", "tools."+id, fmt.Errorf("empty version constraint"))
			}
		}
	}

	for name, toolMap := range c.Profiles {
		for toolID, constraint := range toolMap {
			if strings.TrimSpace(constraint) == "" {
				return wrknverrors.Config("validate", "profiles."+name+"."+toolID, fmt.Errorf("empty version constraint"))
			}
		}
	}

	if c.Workenv.LogLevel != "" && !validLogLevels[c.Workenv.LogLevel] {
		return wrknverrors.Config("validate", "workenv.log_level", fmt.Errorf("must be one of DEBUG,INFO,WARNING,ERROR,CRITICAL"))
	}
	if c.Workenv.CacheTTL != "" && !cacheTTLRe.MatchString(c.Workenv.CacheTTL) {
		return wrknverrors.Config("validate", "workenv.cache_ttl", fmt.Errorf(`must match \d+[smhdw]`))
	}
	if c.Workenv.ContainerRuntime != "" && !validContainerRuntimes[c.Workenv.ContainerRuntime] {
		return wrknverrors.Config("validate", "workenv.container_runtime", fmt.Errorf("must be one of docker,podman,nerdctl"))
	}

	if c.Tasks != nil {
		for name, node := range c.Tasks {
			if d := taskDepth(node, 1); d > 3 {
				return wrknverrors.Config("validate", "tasks."+name, fmt.Errorf("task nesting exceeds 3 levels"))
			}
		}
	}

	return nil
}

// SortedToolIDs returns the config's tool ids in stable sorted order, used
// wherever deterministic iteration matters (fingerprinting, listing).
func (c *Config) SortedToolIDs() []string {
	ids := make([]string, 0, len(c.Tools))
	for id := range c.Tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// coerceBool implements the recognized env-value coercion:
// {true,1,yes,on} / {false,0,no,off}.
func coerceBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// ApplyEnvOverrides mutates cfg in place using the recognized environment
// variables: workenv scalars, per-tool version pins (<PREFIX>_<TOOL>_VERSION
// and <PREFIX>_TOOL_<TOOL>_VERSION), and per-profile pins
// (<PREFIX>_PROFILE_<NAME>_<TOOL>).
func ApplyEnvOverrides(cfg *Config, environ []string) {
	env := map[string]string{}
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}

	if v, ok := env[EnvPrefix+"AUTO_INSTALL"]; ok {
		if b, ok := coerceBool(v); ok {
			cfg.Workenv.AutoInstall = b
		}
	}
	if v, ok := env[EnvPrefix+"USE_CACHE"]; ok {
		if b, ok := coerceBool(v); ok {
			cfg.Workenv.UseCache = b
		}
	}
	if v, ok := env[EnvPrefix+"CACHE_TTL"]; ok {
		cfg.Workenv.CacheTTL = v
	}
	if v, ok := env[EnvPrefix+"LOG_LEVEL"]; ok {
		cfg.Workenv.LogLevel = v
	}
	if v, ok := env[EnvPrefix+"CONTAINER_RUNTIME"]; ok {
		cfg.Workenv.ContainerRuntime = v
	}
	if v, ok := env[EnvPrefix+"CONTAINER_REGISTRY"]; ok {
		cfg.Workenv.ContainerRegistry = v
	}
	if v, ok := env[EnvPrefix+"PROJECT_NAME"]; ok {
		cfg.ProjectName = v
	}
	if v, ok := env[EnvPrefix+"VERSION"]; ok {
		cfg.Version = v
	}
	if v, ok := env[EnvPrefix+"DESCRIPTION"]; ok {
		cfg.Description = v
	}

	for id, spec := range cfg.Tools {
		upper := strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
		for _, key := range []string{EnvPrefix + upper + "_VERSION", EnvPrefix + "TOOL_" + upper + "_VERSION"} {
			if v, ok := env[key]; ok {
				spec.Kind = ToolSpecScalar
				spec.Version = v
				spec.Matrix = nil
				cfg.Tools[id] = spec
			}
		}
	}

	for profileName, toolMap := range cfg.Profiles {
		upperProfile := strings.ToUpper(strings.ReplaceAll(profileName, "-", "_"))
		for toolID := range toolMap {
			upperTool := strings.ToUpper(strings.ReplaceAll(toolID, "-", "_"))
			key := EnvPrefix + "PROFILE_" + upperProfile + "_" + upperTool
			if v, ok := env[key]; ok {
				toolMap[toolID] = v
			}
		}
	}
}

// ActiveProfile resolves the active profile: the PROFILE env var, else the
// literal "default". (The metadata-key fallback applies only within the
// tf-family manager's own ledger; see pkg/tfmanager.)
func ActiveProfile(environ []string) string {
	for _, kv := range environ {
		if strings.HasPrefix(kv, "PROFILE=") {
			if v := strings.TrimPrefix(kv, "PROFILE="); v != "" {
				return v
			}
		}
	}
	return "default"
}

// ParseDurationUnit splits a cache_ttl string like "24h" or "7d" into a
// count and unit; CacheTTLDuration builds on it for callers that need an
// actual time.Duration rather than the raw TOML string.
func ParseDurationUnit(raw string) (n int, unit byte, err error) {
	if !cacheTTLRe.MatchString(raw) {
		return 0, 0, fmt.Errorf("invalid duration %q", raw)
	}
	unit = raw[len(raw)-1]
	n, err = strconv.Atoi(raw[:len(raw)-1])
	return n, unit, err
}

// CacheTTLDuration converts a cache_ttl string into a time.Duration, treating
// "d" as 24h and "w" as 7 days (neither of which time.ParseDuration accepts).
func CacheTTLDuration(raw string) (time.Duration, error) {
	n, unit, err := ParseDurationUnit(raw)
	if err != nil {
		return 0, err
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported duration unit %q", unit)
	}
}
