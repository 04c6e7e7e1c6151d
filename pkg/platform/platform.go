// Package platform provides the canonical (os, arch) probe used throughout
// wrknv to name archives, pick extensions, and select verification commands.
package platform

import "runtime"

// OS is one of the three supported operating systems.
type OS string

const (
	Linux   OS = "linux"
	Darwin  OS = "darwin"
	Windows OS = "windows"
)

// Arch is one of the two supported architectures.
type Arch string

const (
	AMD64 Arch = "amd64"
	ARM64 Arch = "arm64"
)

// Descriptor is the resolved platform: its OS/Arch pair plus the derived
// archive and executable extensions for that pair.
type Descriptor struct {
	OS                  OS
	Arch                Arch
	Unsupported         bool
	ArchiveExtension    string
	ExecutableExtension string
}

// String renders the canonical "<os>-<arch>" platform string.
func (d Descriptor) String() string {
	return string(d.OS) + "-" + string(d.Arch)
}

// normalizeArch maps host machine architecture strings onto the two
// supported values; anything else passes through flagged unsupported.
func normalizeArch(raw string) (Arch, bool) {
	switch raw {
	case "x86_64", "amd64":
		return AMD64, true
	case "arm64", "aarch64":
		return ARM64, true
	default:
		return Arch(raw), false
	}
}

func normalizeOS(raw string) (OS, bool) {
	switch raw {
	case "linux", "darwin", "windows":
		return OS(raw), true
	default:
		return OS(raw), false
	}
}

// Current returns the platform descriptor for the host running wrknv.
func Current() Descriptor {
	return Detect(runtime.GOOS, runtime.GOARCH)
}

// Detect builds a Descriptor from raw GOOS/GOARCH-style strings, applying the
// same normalization Current uses. Exposed so callers (and tests) can probe
// platforms other than the host's.
func Detect(rawOS, rawArch string) Descriptor {
	os, osOK := normalizeOS(rawOS)
	arch, archOK := normalizeArch(rawArch)

	d := Descriptor{
		OS:          os,
		Arch:        arch,
		Unsupported: !osOK || !archOK,
	}

	if os == Windows {
		d.ArchiveExtension = ".zip"
		d.ExecutableExtension = ".exe"
	} else {
		d.ArchiveExtension = ".tar.gz"
		d.ExecutableExtension = ""
	}

	return d
}

// IsWindows reports whether the descriptor is for Windows.
func (d Descriptor) IsWindows() bool { return d.OS == Windows }

// IsUnix reports whether the descriptor is for a Unix-like OS.
func (d Descriptor) IsUnix() bool { return d.OS != Windows }

// BinName appends the platform's executable extension to a bare binary name.
func (d Descriptor) BinName(name string) string {
	return name + d.ExecutableExtension
}
