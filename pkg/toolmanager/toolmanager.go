// Package toolmanager implements the generic, per-version-directory tool
// manager. Install layout is <install_root>/<tool-id>/<version>/bin/<executable>.
// Each tool-id is driven by a Descriptor rather than a hand-written Go type,
// so adding a tool is a matter of data, not code.
package toolmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gofrs/flock"

	"github.com/wrknv/wrknv/pkg/archive"
	"github.com/wrknv/wrknv/pkg/fetch"
	"github.com/wrknv/wrknv/pkg/platform"
	"github.com/wrknv/wrknv/pkg/source"
	"github.com/wrknv/wrknv/pkg/wlog"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// Descriptor is the constant, per-tool-id shape: upstream catalog (whose
// Source builds the download and checksum URLs), archive binary name, and
// verification command.
type Descriptor struct {
	ToolID              string
	Source              source.Source
	ArchiveBinaryName   string // name of the executable inside the archive, e.g. "terraform"
	TargetBinaryName    string // name it should have on disk, e.g. "ibmtf" (often == ArchiveBinaryName)
	VersionArgs         []string
	ExpectedVersionRe   string // regexp template; %s is replaced with the requested version
	CreateSymlinks      bool
	VerifyChecksums     bool
	CleanOnFailure      bool
	UseCache            bool
	// CacheTTL bounds how long a cached archive is trusted before it is
	// re-fetched, even when UseCache is true. Zero means no expiry.
	CacheTTL time.Duration
	// GoStyleGoDir handles the Go-archive quirk: the archive contains a
	// top-level go/ tree that must be moved as a unit, with a bin/ symlink
	// to go/bin/go rather than a flat bin/<exe>.
	GoStyleGoDir bool
	// RecursiveBinarySearch handles UV: the binary may sit anywhere in the
	// extracted tree rather than at a fixed path.
	RecursiveBinarySearch bool
}

// InstalledRecord is the persisted metadata for one installed version.
type InstalledRecord struct {
	ToolID        string             `json:"tool_id"`
	Version       string             `json:"version"`
	InstalledAt   time.Time          `json:"installed_at"`
	DownloadURL   string             `json:"download_url"`
	ChecksumURL   string             `json:"checksum_url,omitempty"`
	ArchivePath   string             `json:"archive_path,omitempty"`
	BinaryPath    string             `json:"binary_path"`
	BinarySize    int64              `json:"binary_size"`
	BinarySHA256  string             `json:"binary_sha256"`
	Platform      string             `json:"platform"`
	ManagerVersion string            `json:"manager_version"`
}

// Manager is a generic per-version-directory tool manager for one tool-id.
type Manager struct {
	Descriptor     Descriptor
	InstallRoot    string // <install_root>
	CacheDir       string // <install_root>/../cache
	Platform       platform.Descriptor
	Fetcher        *fetch.Fetcher
	Log            logr.Logger
	ManagerVersion string
}

// New constructs a Manager for one tool-id.
func New(desc Descriptor, installRoot, cacheDir string, plat platform.Descriptor, fetcher *fetch.Fetcher, log logr.Logger) *Manager {
	return &Manager{
		Descriptor:     desc,
		InstallRoot:    installRoot,
		CacheDir:       cacheDir,
		Platform:       plat,
		Fetcher:        fetcher,
		Log:            wlog.OrDiscard(log).WithValues("tool", desc.ToolID),
		ManagerVersion: "dev",
	}
}

func (m *Manager) toolDir() string {
	return filepath.Join(m.InstallRoot, m.Descriptor.ToolID)
}

func (m *Manager) versionDir(version string) string {
	return filepath.Join(m.toolDir(), version)
}

func (m *Manager) binDir(version string) string {
	return filepath.Join(m.versionDir(version), "bin")
}

func (m *Manager) binaryPath(version string) string {
	name := m.Platform.BinName(m.Descriptor.TargetBinaryName)
	return filepath.Join(m.binDir(version), name)
}

func (m *Manager) recordPath(version string) string {
	return filepath.Join(m.versionDir(version), ".installed.json")
}

// BinaryPath returns the installed executable's path for version, whether or
// not it is actually installed yet.
func (m *Manager) BinaryPath(version string) string {
	return m.binaryPath(version)
}

var semverish = regexp.MustCompile(`^v?\d+\.\d+\.\d+`)

// AvailableVersions delegates to the release source.
func (m *Manager) AvailableVersions(ctx context.Context, includePrereleases bool) ([]string, error) {
	return m.Descriptor.Source.ListVersions(ctx, includePrereleases)
}

// InstalledVersions scans the install directory for version subdirectories.
func (m *Manager) InstalledVersions() ([]string, error) {
	entries, err := os.ReadDir(m.toolDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrknverrors.ToolManager("installed_versions", m.Descriptor.ToolID, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && semverish.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsInstalled reports whether the target binary for version already exists.
func (m *Manager) IsInstalled(version string) bool {
	_, err := os.Stat(m.binaryPath(version))
	return err == nil
}

// InstallOptions configures a single install call.
type InstallOptions struct {
	DryRun bool
}

// Install performs the idempotent install flow: check already-installed,
// acquire a per-version lock, download, extract, verify, and record.
func (m *Manager) Install(ctx context.Context, version string, opts InstallOptions) error {
	// Step i: already installed → nothing to do (caller re-registers active elsewhere).
	if m.IsInstalled(version) {
		m.Log.V(1).Info("already installed", "version", version)
		return nil
	}

	if opts.DryRun {
		m.Log.Info("dry run: would install", "version", version)
		return nil
	}

	// Filesystem-level marker serializes concurrent installs of the same
	// (tool-id, version).
	lockPath := filepath.Join(m.CacheDir, fmt.Sprintf(".%s-%s.lock", m.Descriptor.ToolID, version))
	if err := os.MkdirAll(m.CacheDir, 0o755); err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	defer fl.Unlock()

	if m.IsInstalled(version) {
		return nil // another process finished the install while we waited
	}

	if err := m.install(ctx, version); err != nil {
		if m.Descriptor.CleanOnFailure {
			os.RemoveAll(m.versionDir(version))
		}
		return err
	}
	return nil
}

func (m *Manager) install(ctx context.Context, version string) error {
	// Step ii: compute download URL and cache path.
	downloadURL, err := m.Descriptor.Source.DownloadURL(version)
	if err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	archiveName := fmt.Sprintf("%s-%s%s", m.Descriptor.ToolID, version, m.Platform.ArchiveExtension)
	archivePath := filepath.Join(m.CacheDir, archiveName)

	// Step iii: reuse cache, else fetch.
	needFetch := true
	if m.Descriptor.UseCache {
		if info, err := os.Stat(archivePath); err == nil {
			if m.Descriptor.CacheTTL <= 0 || time.Since(info.ModTime()) < m.Descriptor.CacheTTL {
				needFetch = false
			}
		}
	}
	if needFetch {
		if err := os.MkdirAll(m.CacheDir, 0o755); err != nil {
			return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
		}
		if err := m.Fetcher.Fetch(ctx, downloadURL, archivePath, fetch.Options{Log: m.Log}); err != nil {
			return err
		}
	}

	// Step iv: checksum verification.
	if m.Descriptor.VerifyChecksums {
		if checksumURL, ok := m.Descriptor.Source.ChecksumURL(version); ok {
			body, err := m.Fetcher.Get(ctx, checksumURL, nil)
			if err != nil {
				return err
			}
			sum, found := fetch.ParseChecksumFile(string(body), archiveName)
			if found {
				if err := fetch.VerifyFile(archivePath, fetch.Checksum{Algorithm: fetch.SHA256, Value: sum}); err != nil {
					os.Remove(archivePath)
					return wrknverrors.Integrity("install", m.Descriptor.ToolID, err.Error())
				}
			}
		}
	}

	// Step v: extract to scratch, locate binary, relocate to target path.
	scratch, err := os.MkdirTemp(m.CacheDir, fmt.Sprintf(".%s-%s-extract-*", m.Descriptor.ToolID, version))
	if err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	defer os.RemoveAll(scratch)

	if err := archive.Extract(archivePath, scratch, m.Log); err != nil {
		return err
	}

	srcBinary, err := m.locateExtractedBinary(scratch)
	if err != nil {
		return wrknverrors.Extraction("install", m.Descriptor.ToolID, err)
	}

	binDir := m.binDir(version)
	if m.Descriptor.GoStyleGoDir {
		if err := m.installGoDir(scratch, version); err != nil {
			return err
		}
	} else {
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
		}
		if err := copyFile(srcBinary, m.binaryPath(version), 0o755); err != nil {
			return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
		}
	}

	// Step vi: verify.
	if ok, err := m.verifyBinary(ctx, version); !ok {
		verr := wrknverrors.Verification("install", m.Descriptor.ToolID, fmt.Sprintf("verification failed: %v", err))
		return verr.WithDebug(listTree(scratch))
	}

	// Step vii: write installed-version record.
	binaryPath := m.binaryPath(version)
	sum, size, err := sha256File(binaryPath)
	if err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	checksumURL, _ := m.Descriptor.Source.ChecksumURL(version)
	record := InstalledRecord{
		ToolID:         m.Descriptor.ToolID,
		Version:        version,
		InstalledAt:    time.Now().UTC(),
		DownloadURL:    downloadURL,
		ChecksumURL:    checksumURL,
		ArchivePath:    archivePath,
		BinaryPath:     binaryPath,
		BinarySize:     size,
		BinarySHA256:   sum,
		Platform:       m.Platform.String(),
		ManagerVersion: m.ManagerVersion,
	}
	if err := m.writeRecord(version, record); err != nil {
		return err
	}

	// Step viii: symlink/copy shim.
	if m.Descriptor.CreateSymlinks {
		if err := m.createShim(version); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) locateExtractedBinary(root string) (string, error) {
	target := m.Platform.BinName(m.Descriptor.ArchiveBinaryName)
	if !m.Descriptor.RecursiveBinarySearch {
		direct := filepath.Join(root, target)
		if _, err := os.Stat(direct); err == nil {
			return direct, nil
		}
		direct = filepath.Join(root, "bin", target)
		if _, err := os.Stat(direct); err == nil {
			return direct, nil
		}
	}

	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return err
		}
		if !d.IsDir() && d.Name() == target {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("binary %q not found in extracted archive", target)
	}
	return found, nil
}

// installGoDir moves the extracted go/ tree as a unit and symlinks bin/go to
// go/bin/go, the Go-archive-specific layout quirk.
func (m *Manager) installGoDir(scratch, version string) error {
	goDirSrc := filepath.Join(scratch, "go")
	if _, err := os.Stat(goDirSrc); err != nil {
		return wrknverrors.Extraction("install", m.Descriptor.ToolID, fmt.Errorf("expected go/ directory in archive: %w", err))
	}
	dest := filepath.Join(m.versionDir(version), "go")
	if err := os.MkdirAll(m.versionDir(version), 0o755); err != nil {
		return err
	}
	if err := os.Rename(goDirSrc, dest); err != nil {
		return err
	}
	if err := os.MkdirAll(m.binDir(version), 0o755); err != nil {
		return err
	}
	goBin := m.Platform.BinName("go")
	linkTarget := filepath.Join("..", "go", "bin", goBin)
	linkPath := filepath.Join(m.binDir(version), goBin)
	if m.Platform.IsWindows() {
		return copyFile(filepath.Join(dest, "bin", goBin), linkPath, 0o755)
	}
	os.Remove(linkPath)
	return os.Symlink(linkTarget, linkPath)
}

func (m *Manager) verifyBinary(ctx context.Context, version string) (bool, error) {
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(vctx, m.binaryPath(version), m.Descriptor.VersionArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("%w: %s", err, output)
	}
	if m.Descriptor.ExpectedVersionRe == "" {
		return true, nil
	}
	re, err := regexp.Compile(fmt.Sprintf(m.Descriptor.ExpectedVersionRe, regexp.QuoteMeta(version)))
	if err != nil {
		return false, err
	}
	if !re.Match(output) {
		return false, fmt.Errorf("output %q does not match expected pattern", output)
	}
	return true, nil
}

func (m *Manager) writeRecord(version string, record InstalledRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	if err := os.WriteFile(m.recordPath(version), data, 0o644); err != nil {
		return wrknverrors.ToolManager("install", m.Descriptor.ToolID, err)
	}
	return nil
}

func (m *Manager) createShim(version string) error {
	shimDir := filepath.Join(m.InstallRoot, "bin")
	if err := os.MkdirAll(shimDir, 0o755); err != nil {
		return err
	}
	name := m.Platform.BinName(m.Descriptor.TargetBinaryName)
	shimPath := filepath.Join(shimDir, name)
	src := m.binaryPath(version)

	if m.Platform.IsWindows() {
		return copyFile(src, shimPath, 0o755)
	}
	os.Remove(shimPath)
	return os.Symlink(src, shimPath)
}

// Remove deletes the per-version install subtree.
func (m *Manager) Remove(version string) error {
	return os.RemoveAll(m.versionDir(version))
}

// Verify re-runs the post-install verification step for an already-installed
// version.
func (m *Manager) Verify(ctx context.Context, version string) bool {
	ok, _ := m.verifyBinary(ctx, version)
	return ok
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}

func sha256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), info.Size(), nil
}

// listTree renders a recursive directory listing of root for attachment to a
// VerificationError's Debug field, so a human can see what actually landed
// in the extracted tree without needing to reproduce the failure.
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
