// Package tfmanager implements the tf-family tool manager (terraform,
// opentofu) with its flat ~/.terraform.versions layout, JSON metadata
// ledger, and RECENT file, kept compatible with the widely-used external
// switcher that owns the same directory. Like pkg/toolmanager it downloads
// through pkg/fetch and extracts through pkg/archive; its binary lookup,
// version verification and tree listing are its own.
package tfmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gofrs/flock"

	"github.com/wrknv/wrknv/pkg/archive"
	"github.com/wrknv/wrknv/pkg/fetch"
	"github.com/wrknv/wrknv/pkg/platform"
	"github.com/wrknv/wrknv/pkg/source"
	"github.com/wrknv/wrknv/pkg/version"
	"github.com/wrknv/wrknv/pkg/wlog"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// Prefix identifies which tf-family tool a manager instance owns.
type Prefix string

const (
	Terraform Prefix = "terraform"
	OpenTofu  Prefix = "opentofu"
)

// canonicalName is the on-disk system binary name each prefix activates as.
func (p Prefix) canonicalName() string {
	if p == OpenTofu {
		return "tofu"
	}
	return "terraform"
}

// versionKey is the metadata.json key storing the active version for a
// profile: "opentofu_version" for tofu, "<prefix>_version" otherwise.
func (p Prefix) versionKey() string {
	return fmt.Sprintf("%s_version", p)
}

// Descriptor is the constant per-prefix shape (source + verification regex).
type Descriptor struct {
	Prefix            Prefix
	Source            source.Source
	ExpectedVersionRe string // e.g. "Terraform v%s" / "OpenTofu v%s"
}

// InstalledEntry records one installed version's provenance, keyed
// "<prefix>_<version>" in the ledger.
type InstalledEntry struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	InstalledAt  string `json:"installed_at"`
	DownloadURL  string `json:"download_url"`
	ChecksumURL  string `json:"checksum_url,omitempty"`
	ArchivePath  string `json:"archive_path"`
	BinaryPath   string `json:"binary_path"`
	BinarySize   int64  `json:"binary_size"`
	BinarySHA256 string `json:"binary_sha256"`
	Platform     string `json:"platform"`
}

// Manager manages one tf-family tool under the shared ~/.terraform.versions
// root. The ledger (metadata.json, RECENT) is shared across terraform and
// opentofu managers pointed at the same VersionsRoot.
type Manager struct {
	Descriptor   Descriptor
	VersionsRoot string // ~/.terraform.versions
	CacheDir     string
	Platform     platform.Descriptor
	Fetcher      *fetch.Fetcher
	Log          logr.Logger
}

func New(desc Descriptor, versionsRoot, cacheDir string, plat platform.Descriptor, fetcher *fetch.Fetcher, log logr.Logger) *Manager {
	return &Manager{
		Descriptor:   desc,
		VersionsRoot: versionsRoot,
		CacheDir:     cacheDir,
		Platform:     plat,
		Fetcher:      fetcher,
		Log:          wlog.OrDiscard(log).WithValues("tool", string(desc.Prefix)),
	}
}

func (m *Manager) metadataPath() string { return filepath.Join(m.VersionsRoot, "metadata.json") }
func (m *Manager) recentPath() string   { return filepath.Join(m.VersionsRoot, "RECENT") }

func (m *Manager) binaryPath(v string) string {
	name := fmt.Sprintf("%s_%s", m.Descriptor.Prefix, v)
	if m.Platform.IsWindows() {
		name += ".exe"
	}
	return filepath.Join(m.VersionsRoot, name)
}

// BinaryPath returns the installed executable's path for v, whether or not
// it is actually installed yet.
func (m *Manager) BinaryPath(v string) string {
	return m.binaryPath(v)
}

// loadMetadata reads metadata.json as a generic map (preserving unknown
// keys like per-version install entries), migrates legacy active_* keys,
// and returns it. A missing or unparseable file yields an empty map.
func (m *Manager) loadMetadata() (map[string]any, error) {
	data, err := os.ReadFile(m.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, wrknverrors.ToolManager("load_metadata", string(m.Descriptor.Prefix), err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		m.Log.Info("failed to parse metadata.json, starting fresh", "err", err)
		return map[string]any{}, nil
	}

	migrated := m.migrateLegacyKeys(meta)
	if migrated {
		if err := m.saveMetadata(meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// migrateLegacyKeys moves legacy active_tofu/active_terraform keys into
// workenv.default.<tool>_version.
func (m *Manager) migrateLegacyKeys(meta map[string]any) bool {
	changed := false
	for _, old := range []string{"active_tofu", "active_terraform"} {
		v, ok := meta[old]
		if !ok {
			continue
		}
		version, _ := v.(string)
		tool := Terraform
		if old == "active_tofu" {
			tool = OpenTofu
		}
		workenv, _ := meta["workenv"].(map[string]any)
		if workenv == nil {
			workenv = map[string]any{}
		}
		def, _ := workenv["default"].(map[string]any)
		if def == nil {
			def = map[string]any{}
		}
		def[tool.versionKey()] = version
		workenv["default"] = def
		meta["workenv"] = workenv
		delete(meta, old)
		changed = true
	}
	return changed
}

func (m *Manager) saveMetadata(meta map[string]any) error {
	if err := os.MkdirAll(m.VersionsRoot, 0o755); err != nil {
		return wrknverrors.ToolManager("save_metadata", string(m.Descriptor.Prefix), err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return wrknverrors.ToolManager("save_metadata", string(m.Descriptor.Prefix), err)
	}
	tmp := m.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return wrknverrors.ToolManager("save_metadata", string(m.Descriptor.Prefix), err)
	}
	return os.Rename(tmp, m.metadataPath())
}

// InstalledVersions scans the flat directory for "<prefix>_<version>" files.
func (m *Manager) InstalledVersions() ([]string, error) {
	entries, err := os.ReadDir(m.VersionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrknverrors.ToolManager("installed_versions", string(m.Descriptor.Prefix), err)
	}
	prefix := string(m.Descriptor.Prefix) + "_"
	var versions []string
	for _, e := range entries {
		if e.IsDir() || !filepathHasPrefix(e.Name(), prefix) {
			continue
		}
		v := trimExeSuffix(e.Name()[len(prefix):])
		versions = append(versions, v)
	}
	return version.SortVersions(versions), nil
}

func filepathHasPrefix(name, prefix string) bool {
	return len(name) > len(prefix) && name[:len(prefix)] == prefix
}

func trimExeSuffix(name string) string {
	const exe = ".exe"
	if len(name) > len(exe) && name[len(name)-len(exe):] == exe {
		return name[:len(name)-len(exe)]
	}
	return name
}

// ActiveVersion reads the active version for a profile from the metadata
// ledger only, with no system fallback.
func (m *Manager) ActiveVersion(profile string) (string, error) {
	meta, err := m.loadMetadata()
	if err != nil {
		return "", err
	}
	workenv, _ := meta["workenv"].(map[string]any)
	if workenv == nil {
		return "", nil
	}
	profileData, _ := workenv[profile].(map[string]any)
	if profileData == nil {
		return "", nil
	}
	v, _ := profileData[m.Descriptor.Prefix.versionKey()].(string)
	return v, nil
}

// InstallOptions configures a single install call.
type InstallOptions struct {
	DryRun bool
}

// Install downloads, extracts, places, and verifies one version's binary at
// the flat <prefix>_<version> path.
func (m *Manager) Install(ctx context.Context, v string, opts InstallOptions) error {
	target := m.binaryPath(v)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if opts.DryRun {
		m.Log.Info("dry run: would install", "version", v)
		return nil
	}

	if err := os.MkdirAll(m.CacheDir, 0o755); err != nil {
		return wrknverrors.ToolManager("install", string(m.Descriptor.Prefix), err)
	}
	lockPath := filepath.Join(m.CacheDir, fmt.Sprintf(".%s-%s.lock", m.Descriptor.Prefix, v))
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return wrknverrors.ToolManager("install", string(m.Descriptor.Prefix), err)
	}
	defer fl.Unlock()

	if _, err := os.Stat(target); err == nil {
		return nil
	}

	downloadURL, err := m.Descriptor.Source.DownloadURL(v)
	if err != nil {
		return wrknverrors.ToolManager("install", string(m.Descriptor.Prefix), err)
	}
	// tf-family releases ship as .zip on every platform.
	archiveName := fmt.Sprintf("%s_%s.zip", m.Descriptor.Prefix, v)
	archivePath := filepath.Join(m.CacheDir, archiveName)

	if err := m.Fetcher.Fetch(ctx, downloadURL, archivePath, fetch.Options{Log: m.Log}); err != nil {
		return err
	}

	extractDir, err := os.MkdirTemp(m.CacheDir, fmt.Sprintf(".%s_%s_extract-*", m.Descriptor.Prefix, v))
	if err != nil {
		return wrknverrors.ToolManager("install", string(m.Descriptor.Prefix), err)
	}
	defer os.RemoveAll(extractDir)

	if err := archive.Extract(archivePath, extractDir, m.Log); err != nil {
		return err
	}

	binaryName := m.Descriptor.Prefix.canonicalName()
	if m.Platform.IsWindows() {
		binaryName += ".exe"
	}
	srcBinary, err := findBinary(extractDir, binaryName)
	if err != nil {
		return wrknverrors.Extraction("install", string(m.Descriptor.Prefix), err)
	}

	data, err := os.ReadFile(srcBinary)
	if err != nil {
		return wrknverrors.ToolManager("install", string(m.Descriptor.Prefix), err)
	}
	if err := os.WriteFile(target, data, 0o755); err != nil {
		return wrknverrors.ToolManager("install", string(m.Descriptor.Prefix), err)
	}

	if !m.verify(ctx, target, v) {
		debug := listTree(extractDir)
		os.Remove(target)
		return wrknverrors.Verification("install", string(m.Descriptor.Prefix), "binary failed version verification").WithDebug(debug)
	}

	checksumURL, _ := m.Descriptor.Source.ChecksumURL(v)
	info, _ := os.Stat(target)
	var size int64
	if info != nil {
		size = info.Size()
	}
	entry := InstalledEntry{
		Tool:        string(m.Descriptor.Prefix),
		Version:     v,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
		DownloadURL: downloadURL,
		ChecksumURL: checksumURL,
		ArchivePath: archivePath,
		BinaryPath:  target,
		BinarySize:  size,
		Platform:    m.Platform.String(),
	}
	if err := m.recordInstalledEntry(entry); err != nil {
		return err
	}
	return m.updateRecentFile()
}

func findBinary(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("binary %q not found in extracted archive", name)
	}
	return found, nil
}

func (m *Manager) verify(ctx context.Context, binaryPath, v string) bool {
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(vctx, binaryPath, "-version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	if m.Descriptor.ExpectedVersionRe == "" {
		return true
	}
	re, err := regexp.Compile(fmt.Sprintf(m.Descriptor.ExpectedVersionRe, regexp.QuoteMeta(v)))
	if err != nil {
		return false
	}
	return re.Match(out)
}

func (m *Manager) recordInstalledEntry(entry InstalledEntry) error {
	meta, err := m.loadMetadata()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s_%s", m.Descriptor.Prefix, entry.Version)
	meta[key] = entry
	return m.saveMetadata(meta)
}

// Activate sets the active version for a profile, moves v to the front of
// RECENT, and copies this tool's binary for v into projectBinDir rather than
// creating a symlink. The other tf-family tool's active binary is not
// copied by this call.
func (m *Manager) Activate(v, profile, projectBinDir string) error {
	meta, err := m.loadMetadata()
	if err != nil {
		return err
	}
	workenv, _ := meta["workenv"].(map[string]any)
	if workenv == nil {
		workenv = map[string]any{}
	}
	profileData, _ := workenv[profile].(map[string]any)
	if profileData == nil {
		profileData = map[string]any{}
	}
	profileData[m.Descriptor.Prefix.versionKey()] = v
	workenv[profile] = profileData
	meta["workenv"] = workenv
	if err := m.saveMetadata(meta); err != nil {
		return err
	}
	if err := m.updateRecentFileActive(v); err != nil {
		return err
	}

	if projectBinDir == "" {
		return nil
	}
	// terraform copies out as "hctf", opentofu stays "tofu".
	targetName := "tofu"
	if m.Descriptor.Prefix == Terraform {
		targetName = "hctf"
	}
	if m.Platform.IsWindows() {
		targetName += ".exe"
	}
	if err := os.MkdirAll(projectBinDir, 0o755); err != nil {
		return wrknverrors.ToolManager("activate", string(m.Descriptor.Prefix), err)
	}
	data, err := os.ReadFile(m.binaryPath(v))
	if err != nil {
		return wrknverrors.ToolManager("activate", string(m.Descriptor.Prefix), err)
	}
	return os.WriteFile(filepath.Join(projectBinDir, targetName), data, 0o755)
}

// ActivateGlobal copies version v's binary into ~/.local/bin (or the
// windows equivalent) under the canonical system name.
func (m *Manager) ActivateGlobal(v, localBinDir string) error {
	data, err := os.ReadFile(m.binaryPath(v))
	if err != nil {
		return wrknverrors.ToolManager("activate_global", string(m.Descriptor.Prefix), err)
	}
	if err := os.MkdirAll(localBinDir, 0o755); err != nil {
		return wrknverrors.ToolManager("activate_global", string(m.Descriptor.Prefix), err)
	}
	name := m.Descriptor.Prefix.canonicalName()
	if m.Platform.IsWindows() {
		name += ".exe"
	}
	if err := os.WriteFile(filepath.Join(localBinDir, name), data, 0o755); err != nil {
		return wrknverrors.ToolManager("activate_global", string(m.Descriptor.Prefix), err)
	}

	meta, err := m.loadMetadata()
	if err != nil {
		return err
	}
	global, _ := meta["global"].(map[string]any)
	if global == nil {
		global = map[string]any{}
	}
	global[m.Descriptor.Prefix.versionKey()] = v
	meta["global"] = global
	return m.saveMetadata(meta)
}

func (m *Manager) updateRecentFile() error {
	versions, err := m.InstalledVersions()
	if err != nil {
		return err
	}
	recent, err := m.readRecent()
	if err != nil {
		return err
	}
	key := m.recentKey()
	if len(versions) == 0 {
		delete(recent, key)
	} else {
		n := len(versions)
		if n > 5 {
			n = 5
		}
		recent[key] = versions[:n]
	}
	return m.writeRecent(recent)
}

func (m *Manager) updateRecentFileActive(v string) error {
	recent, err := m.readRecent()
	if err != nil {
		return err
	}
	key := m.recentKey()
	current := recent[key]
	filtered := current[:0:0]
	for _, existing := range current {
		if existing != v {
			filtered = append(filtered, existing)
		}
	}
	filtered = append([]string{v}, filtered...)
	if len(filtered) > 5 {
		filtered = filtered[:5]
	}
	recent[key] = filtered
	return m.writeRecent(recent)
}

func (m *Manager) recentKey() string {
	if m.Descriptor.Prefix == OpenTofu {
		return "opentofu"
	}
	return string(m.Descriptor.Prefix)
}

func (m *Manager) readRecent() (map[string][]string, error) {
	data, err := os.ReadFile(m.recentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, wrknverrors.ToolManager("read_recent", string(m.Descriptor.Prefix), err)
	}
	var recent map[string][]string
	if err := json.Unmarshal(data, &recent); err != nil {
		return map[string][]string{}, nil
	}
	return recent, nil
}

func (m *Manager) writeRecent(recent map[string][]string) error {
	if err := os.MkdirAll(m.VersionsRoot, 0o755); err != nil {
		return wrknverrors.ToolManager("write_recent", string(m.Descriptor.Prefix), err)
	}
	data, err := json.Marshal(recent)
	if err != nil {
		return wrknverrors.ToolManager("write_recent", string(m.Descriptor.Prefix), err)
	}
	return os.WriteFile(m.recentPath(), data, 0o644)
}

// Remove deletes the version's binary, its ledger entry, and refreshes
// RECENT.
func (m *Manager) Remove(v string) error {
	if err := os.Remove(m.binaryPath(v)); err != nil && !os.IsNotExist(err) {
		return wrknverrors.ToolManager("remove", string(m.Descriptor.Prefix), err)
	}
	meta, err := m.loadMetadata()
	if err != nil {
		return err
	}
	delete(meta, fmt.Sprintf("%s_%s", m.Descriptor.Prefix, v))
	if err := m.saveMetadata(meta); err != nil {
		return err
	}
	return m.updateRecentFile()
}

// listTree renders a recursive directory listing of root for attachment to a
// VerificationError's Debug field.
func listTree(root string) string {
	var b strings.Builder
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fmt.Fprintf(&b, "%s: %v\n", path, err)
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if info.IsDir() {
			fmt.Fprintf(&b, "%s/\n", rel)
			return nil
		}
		fmt.Fprintf(&b, "%s (%d bytes, mode %s)\n", rel, info.Size(), info.Mode())
		return nil
	})
	return b.String()
}
