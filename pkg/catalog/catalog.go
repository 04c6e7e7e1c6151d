// Package catalog is the built-in table mapping a manifest's tool-id
// strings to the descriptors pkg/toolmanager and pkg/tfmanager need to
// actually resolve and install something, for tool-ids this module ships
// support for out of the box.
package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/wrknv/wrknv/pkg/fetch"
	"github.com/wrknv/wrknv/pkg/lockfile"
	"github.com/wrknv/wrknv/pkg/platform"
	"github.com/wrknv/wrknv/pkg/source"
	"github.com/wrknv/wrknv/pkg/tfmanager"
	"github.com/wrknv/wrknv/pkg/toolmanager"
)

// goExt returns the Go release archive extension for a platform.
func goExt(p platform.Descriptor) string {
	if p.IsWindows() {
		return "zip"
	}
	return "tar.gz"
}

// GenericDescriptor builds a toolmanager.Descriptor for one of the non-tf
// tool-ids this module recognizes, or reports ok=false for an unknown id.
func GenericDescriptor(toolID string, plat platform.Descriptor, fetcher *fetch.Fetcher) (toolmanager.Descriptor, bool) {
	switch toolID {
	case "go", "golang":
		goPlatform := fmt.Sprintf("%s-%s", plat.OS, plat.Arch)
		return toolmanager.Descriptor{
			ToolID: toolID,
			Source: &source.GoSource{
				Fetcher:  fetcher,
				IndexURL: "https://go.dev/dl/?mode=json",
				Platform: goPlatform,
				Ext:      goExt(plat),
			},
			ArchiveBinaryName: "go",
			TargetBinaryName:  plat.BinName("go"),
			VersionArgs:       []string{"version"},
			ExpectedVersionRe: `go%s`,
			VerifyChecksums:   true,
			UseCache:          true,
			GoStyleGoDir:      true,
		}, true
	case "uv":
		return toolmanager.Descriptor{
			ToolID: toolID,
			Source: &source.GitHubSource{
				Fetcher:             fetcher,
				Owner:               "astral-sh",
				Repo:                "uv",
				ArchiveURLTemplate:  "https://github.com/astral-sh/uv/releases/download/%[1]s/uv-%[2]s.%[3]s",
				ChecksumURLTemplate: "https://github.com/astral-sh/uv/releases/download/%[1]s/uv-%[2]s.%[3]s.sha256",
				Platform:            uvPlatformTriple(plat),
				Ext:                 uvExt(plat),
			},
			ArchiveBinaryName:     "uv",
			TargetBinaryName:      plat.BinName("uv"),
			VersionArgs:           []string{"--version"},
			ExpectedVersionRe:     `uv %s`,
			VerifyChecksums:       true,
			UseCache:              true,
			RecursiveBinarySearch: true,
		}, true
	default:
		return toolmanager.Descriptor{}, false
	}
}

func uvExt(p platform.Descriptor) string {
	if p.IsWindows() {
		return "zip"
	}
	return "tar.gz"
}

// uvPlatformTriple maps this module's platform descriptor to astral-sh/uv's
// release-asset target triple naming.
func uvPlatformTriple(p platform.Descriptor) string {
	arch := string(p.Arch)
	if arch == "amd64" {
		arch = "x86_64"
	} else if arch == "arm64" {
		arch = "aarch64"
	}
	switch {
	case p.IsWindows():
		return arch + "-pc-windows-msvc"
	case p.OS == "darwin":
		return arch + "-apple-darwin"
	default:
		return arch + "-unknown-linux-gnu"
	}
}

// TFDescriptor builds a tfmanager.Descriptor for "terraform" or "opentofu",
// or reports ok=false for any other tool-id.
func TFDescriptor(toolID string, plat platform.Descriptor, fetcher *fetch.Fetcher) (tfmanager.Descriptor, bool) {
	platformKey := fmt.Sprintf("%s_%s", plat.OS, plat.Arch)
	switch toolID {
	case "terraform":
		return tfmanager.Descriptor{
			Prefix: tfmanager.Terraform,
			Source: &source.HashiCorpSource{
				Fetcher:             fetcher,
				Product:             "terraform",
				IndexURL:            "https://releases.hashicorp.com/terraform/index.json",
				ArchiveURLTemplate:  "https://releases.hashicorp.com/terraform/%[1]s/terraform_%[1]s_%[3]s.zip",
				ChecksumURLTemplate: "https://releases.hashicorp.com/terraform/%[1]s/terraform_%[1]s_SHA256SUMS",
				Platform:            platformKey,
			},
			ExpectedVersionRe: `Terraform v%s`,
		}, true
	case "opentofu", "tofu":
		return tfmanager.Descriptor{
			Prefix: tfmanager.OpenTofu,
			Source: &source.GitHubSource{
				Fetcher:             fetcher,
				Owner:               "opentofu",
				Repo:                "opentofu",
				ArchiveURLTemplate:  "https://github.com/opentofu/opentofu/releases/download/v%[1]s/tofu_%[1]s_%[2]s.%[3]s",
				ChecksumURLTemplate: "https://github.com/opentofu/opentofu/releases/download/v%[1]s/tofu_%[1]s_SHA256SUMS",
				Platform:            platformKey,
				Ext:                 "zip",
			},
			ExpectedVersionRe: `OpenTofu v%s`,
		}, true
	default:
		return tfmanager.Descriptor{}, false
	}
}

// IsTFFamily reports whether toolID belongs under pkg/tfmanager rather than
// the generic pkg/toolmanager.
func IsTFFamily(toolID string) bool {
	switch toolID {
	case "terraform", "opentofu", "tofu":
		return true
	default:
		return false
	}
}

// genericInstaller adapts *toolmanager.Manager to lockfile.Installer.
type genericInstaller struct{ mgr *toolmanager.Manager }

func (g genericInstaller) Install(version string, dryRun bool) error {
	return g.mgr.Install(context.Background(), version, toolmanager.InstallOptions{DryRun: dryRun})
}

// tfInstaller adapts *tfmanager.Manager to lockfile.Installer.
type tfInstaller struct{ mgr *tfmanager.Manager }

func (t tfInstaller) Install(version string, dryRun bool) error {
	return t.mgr.Install(context.Background(), version, tfmanager.InstallOptions{DryRun: dryRun})
}

// CacheOptions carries the manifest's workenv cache settings (§3 data model)
// down into a tool's Descriptor, overriding its per-tool UseCache default.
type CacheOptions struct {
	// Disable forces UseCache off regardless of the tool's own default,
	// honoring workenv.use_cache = false.
	Disable bool
	// TTL bounds how long a cached archive is trusted before re-fetch.
	// Zero means no expiry. Honors workenv.cache_ttl.
	TTL time.Duration
}

// GenericManager builds a ready-to-use *toolmanager.Manager for toolID rooted
// at installRoot/cacheDir, or reports ok=false for an unknown id.
func GenericManager(toolID, installRoot, cacheDir string, plat platform.Descriptor, fetcher *fetch.Fetcher, log logr.Logger, cache CacheOptions) (*toolmanager.Manager, bool) {
	desc, ok := GenericDescriptor(toolID, plat, fetcher)
	if !ok {
		return nil, false
	}
	if cache.Disable {
		desc.UseCache = false
	}
	desc.CacheTTL = cache.TTL
	return toolmanager.New(desc, installRoot, cacheDir, plat, fetcher, log), true
}

// TFManager builds a ready-to-use *tfmanager.Manager for toolID rooted at
// versionsRoot/cacheDir, or reports ok=false for an unknown id.
func TFManager(toolID, versionsRoot, cacheDir string, plat platform.Descriptor, fetcher *fetch.Fetcher, log logr.Logger) (*tfmanager.Manager, bool) {
	desc, ok := TFDescriptor(toolID, plat, fetcher)
	if !ok {
		return nil, false
	}
	return tfmanager.New(desc, versionsRoot, cacheDir, plat, fetcher, log), true
}

// InstallerFor resolves toolID to a lockfile.Installer backed by whichever
// manager family owns it, rooting on-disk state under projectRoot/.wrknv.
func InstallerFor(toolID, projectRoot string, plat platform.Descriptor, fetcher *fetch.Fetcher, log logr.Logger, cache CacheOptions) (lockfile.Installer, error) {
	toolsRoot := filepath.Join(projectRoot, ".wrknv", "tools")
	cacheDir := filepath.Join(projectRoot, ".wrknv", "cache")

	if IsTFFamily(toolID) {
		mgr, ok := TFManager(toolID, filepath.Join(toolsRoot, "terraform-family"), cacheDir, plat, fetcher, log)
		if !ok {
			return nil, fmt.Errorf("no tf-family catalog entry for %q", toolID)
		}
		return tfInstaller{mgr}, nil
	}

	mgr, ok := GenericManager(toolID, toolsRoot, cacheDir, plat, fetcher, log, cache)
	if !ok {
		return nil, fmt.Errorf("no catalog entry for tool %q", toolID)
	}
	return genericInstaller{mgr}, nil
}

// VersionLister builds a lockfile.VersionLister that resolves each tool-id
// to its catalog release source.
func VersionLister(plat platform.Descriptor, fetcher *fetch.Fetcher) lockfile.VersionLister {
	return func(toolID string, includePrereleases bool) ([]string, error) {
		if IsTFFamily(toolID) {
			desc, ok := TFDescriptor(toolID, plat, fetcher)
			if !ok {
				return nil, fmt.Errorf("no tf-family catalog entry for %q", toolID)
			}
			return desc.Source.ListVersions(context.Background(), includePrereleases)
		}
		desc, ok := GenericDescriptor(toolID, plat, fetcher)
		if !ok {
			return nil, fmt.Errorf("no catalog entry for tool %q", toolID)
		}
		return desc.Source.ListVersions(context.Background(), includePrereleases)
	}
}
