// Package lockfile implements configuration fingerprinting, resolution
// recording, validity checking, and sync-from-lock reinstall: the durable
// record of which tool versions a project actually resolved to, independent
// of what the manifest's constraints currently allow.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/wrknv/wrknv/pkg/config"
	"github.com/wrknv/wrknv/pkg/version"
	"github.com/wrknv/wrknv/pkg/wlog"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// ResolvedTool is one entry in resolved_tools.
type ResolvedTool struct {
	Name         string  `json:"name"`
	Version      string  `json:"version"`
	ResolvedFrom string  `json:"resolved_from"`
	Checksum     *string `json:"checksum"`
	InstalledAt  *string `json:"installed_at"`
	InstallPath  *string `json:"install_path"`
}

// Lockfile is the full persisted structure at <project>/<manifest-lock>.
type Lockfile struct {
	ConfigChecksum string                  `json:"config_checksum"`
	CreatedAt      string                  `json:"created_at"`
	ManagerVersion string                  `json:"manager_version"`
	ResolvedTools  map[string]ResolvedTool `json:"resolved_tools"`
}

// Installer is the subset of a tool manager sync_from_lock needs.
type Installer interface {
	Install(version string, dryRun bool) error
}

// InstallerFor resolves a tool-id to its installer, used by SyncFromLock.
type InstallerFor func(toolID string) (Installer, error)

// VersionLister resolves versions for a tool-id via the release source,
// used by ResolveAndLock.
type VersionLister func(toolID string, includePrereleases bool) ([]string, error)

// Engine owns one project's lockfile.
type Engine struct {
	Path           string // <project>/<manifest-lock>
	ManagerVersion string
	Log            logr.Logger
}

func New(path, managerVersion string, log logr.Logger) *Engine {
	return &Engine{Path: path, ManagerVersion: managerVersion, Log: wlog.OrDiscard(log)}
}

// fingerprintSubset is the canonicalized, fingerprinted slice of
// configuration: only the fields that affect resolution.
type fingerprintSubset struct {
	ProjectName string            `json:"project_name"`
	Version     string            `json:"version"`
	Tools       map[string]string `json:"tools"`
	Profiles    map[string]map[string]string `json:"profiles"`
}

// Fingerprint computes the 12-hex-char config checksum.
func Fingerprint(cfg *config.Config) string {
	tools := make(map[string]string, len(cfg.Tools))
	for id, spec := range cfg.Tools {
		tools[id] = strings.Join(spec.ConstraintStrings(), ",")
	}
	profiles := make(map[string]map[string]string, len(cfg.Profiles))
	for name, overrides := range cfg.Profiles {
		copied := make(map[string]string, len(overrides))
		for k, v := range overrides {
			copied[k] = v
		}
		profiles[name] = copied
	}

	subset := fingerprintSubset{
		ProjectName: cfg.ProjectName,
		Version:     cfg.Version,
		Tools:       tools,
		Profiles:    profiles,
	}

	data := canonicalJSON(subset)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

// canonicalJSON serializes v with every map's keys sorted and no
// insignificant whitespace. encoding/json already sorts map[string]X keys,
// so a plain Marshal satisfies the stable-sort-every-mapping requirement.
func canonicalJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// Generate builds a fresh Lockfile from config without resolving versions,
// for a caller that wants the checksum/shape without a network round trip.
func Generate(cfg *config.Config, managerVersion string) *Lockfile {
	return &Lockfile{
		ConfigChecksum: Fingerprint(cfg),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		ManagerVersion: managerVersion,
		ResolvedTools:  map[string]ResolvedTool{},
	}
}

// Save writes lf as pretty-printed JSON, atomically.
func (e *Engine) Save(lf *Lockfile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return wrknverrors.ToolManager("save_lockfile", e.Path, err)
	}
	dir := filepath.Dir(e.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrknverrors.ToolManager("save_lockfile", e.Path, err)
	}
	tmp, err := os.CreateTemp(dir, ".wrknv-lock-*")
	if err != nil {
		return wrknverrors.ToolManager("save_lockfile", e.Path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return wrknverrors.ToolManager("save_lockfile", e.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wrknverrors.ToolManager("save_lockfile", e.Path, err)
	}
	return os.Rename(tmpPath, e.Path)
}

// Load returns nil (not an error) if the lockfile is missing or unparseable.
func (e *Engine) Load() *Lockfile {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		e.Log.V(1).Info("lockfile unparseable, treating as absent", "err", err)
		return nil
	}
	return &lf
}

// IsValid compares the current config's fingerprint against the loaded
// lockfile's recorded checksum.
func (e *Engine) IsValid(cfg *config.Config) bool {
	lf := e.Load()
	if lf == nil {
		return false
	}
	return lf.ConfigChecksum == Fingerprint(cfg)
}

// LockedVersions returns the scalar (non-matrix) resolved versions keyed by
// tool-id.
func (lf *Lockfile) LockedVersions() map[string]string {
	out := map[string]string{}
	for key, rt := range lf.ResolvedTools {
		if strings.Contains(key, "@") {
			continue
		}
		out[key] = rt.Version
	}
	return out
}

// ResolveAndLock expands every tool's constraints via the version resolver
// and the tool's release source, recording one entry per scalar tool and
// one entry per matrix version. Per-tool resolution failures are logged and
// skipped; other tools continue.
func (e *Engine) ResolveAndLock(cfg *config.Config, listVersions VersionLister) *Lockfile {
	lf := Generate(cfg, e.ManagerVersion)

	for _, toolID := range cfg.SortedToolIDs() {
		spec := cfg.Tools[toolID]
		constraints := spec.ConstraintStrings()
		matrix, err := version.ParseMatrix(constraints)
		if err != nil {
			e.Log.Info("skipping tool with unparseable constraints", "tool", toolID, "err", err)
			continue
		}

		available, err := listVersions(toolID, false)
		if err != nil {
			e.Log.Info("skipping tool, could not list available versions", "tool", toolID, "err", err)
			continue
		}

		resolved := matrix.Resolve(available, false)
		if len(resolved) == 0 {
			e.Log.Info("skipping tool, no constraint resolved", "tool", toolID)
			continue
		}

		if spec.Kind != config.ToolSpecMatrix {
			entry := resolved[0]
			lf.ResolvedTools[toolID] = ResolvedTool{
				Name:         toolID,
				Version:      entry.Version,
				ResolvedFrom: entry.Constraint,
			}
			continue
		}

		for _, entry := range resolved {
			key := toolID + "@" + entry.Version
			lf.ResolvedTools[key] = ResolvedTool{
				Name:         toolID,
				Version:      entry.Version,
				ResolvedFrom: entry.Constraint,
			}
		}
	}

	return lf
}

// SyncResult summarizes a sync_from_lock run.
type SyncResult struct {
	Installed int
	Skipped   int
	Failed    int
}

// SyncFromLock installs every scalar-keyed resolved tool. Matrix entries
// (keys containing "@") are skipped: they record a resolution, not an
// activation target. Per-tool errors are logged and counted; the call never
// fails fast.
func (e *Engine) SyncFromLock(lf *Lockfile, installerFor InstallerFor) SyncResult {
	var result SyncResult
	keys := make([]string, 0, len(lf.ResolvedTools))
	for k := range lf.ResolvedTools {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if strings.Contains(key, "@") {
			result.Skipped++
			continue
		}
		rt := lf.ResolvedTools[key]
		installer, err := installerFor(rt.Name)
		if err != nil {
			e.Log.Info("sync: no installer for tool", "tool", rt.Name, "err", err)
			result.Failed++
			continue
		}
		if err := installer.Install(rt.Version, false); err != nil {
			e.Log.Info("sync: install failed", "tool", rt.Name, "version", rt.Version, "err", err)
			result.Failed++
			continue
		}
		result.Installed++
	}
	return result
}
