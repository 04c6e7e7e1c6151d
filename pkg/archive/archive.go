// Package archive implements a safe archive extractor for
// tar/tar.gz/tar.xz/zip, with path-traversal rejection validated before any
// entry is written to disk. Every format, including .tar.xz via
// github.com/ulikunitz/xz, shares one safe code path instead of shelling out
// to a subprocess with its own traversal semantics.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ulikunitz/xz"

	"github.com/wrknv/wrknv/pkg/wlog"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// Format identifies an inferred archive type.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
	FormatTarXz Format = "tar.xz"
)

// DetectFormat infers an archive's format from its filename extension.
func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	default:
		return "", fmt.Errorf("unrecognized archive extension: %s", path)
	}
}

// entry is a validated-safe extraction target.
type entry struct {
	targetPath string
	mode       os.FileMode
	isDir      bool
	linkTarget string
	isSymlink  bool
}

// Extract extracts archivePath into destination. Every entry's resolved
// target path is validated to lie within destination before any entry is
// written; a single violation aborts the whole extraction with
// UnsafePathError and writes nothing.
func Extract(archivePath, destination string, log logr.Logger) error {
	log = wlog.OrDiscard(log)
	format, err := DetectFormat(archivePath)
	if err != nil {
		return wrknverrors.Extraction("extract", archivePath, err)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(destination), ".wrknv-extract-*")
	if err != nil {
		return wrknverrors.Extraction("extract", archivePath, err)
	}
	succeeded := false
	defer func() {
		if !succeeded {
			os.RemoveAll(scratch)
		}
	}()

	switch format {
	case FormatZip:
		if err := extractZip(archivePath, scratch, log); err != nil {
			return err
		}
	case FormatTar, FormatTarGz, FormatTarXz:
		if err := extractTar(archivePath, scratch, format, log); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return wrknverrors.Extraction("extract", archivePath, err)
	}
	if err := os.RemoveAll(destination); err != nil {
		return wrknverrors.Extraction("extract", archivePath, err)
	}
	if err := os.Rename(scratch, destination); err != nil {
		return wrknverrors.Extraction("extract", archivePath, err)
	}
	succeeded = true
	return nil
}

func validateTarget(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	return target, nil
}

func extractZip(archivePath, destDir string, log logr.Logger) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return wrknverrors.Extraction("extract_zip", archivePath, err)
	}
	defer r.Close()

	entries := make([]entry, 0, len(r.File))
	for _, f := range r.File {
		target, err := validateTarget(destDir, f.Name)
		if err != nil {
			return wrknverrors.UnsafePath("extract_zip", archivePath, f.Name)
		}
		entries = append(entries, entry{targetPath: target, mode: f.Mode(), isDir: f.FileInfo().IsDir()})
	}

	for i, e := range entries {
		if e.isDir {
			if err := os.MkdirAll(e.targetPath, 0o755); err != nil {
				return wrknverrors.Extraction("extract_zip", archivePath, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(e.targetPath), 0o755); err != nil {
			return wrknverrors.Extraction("extract_zip", archivePath, err)
		}
		rc, err := r.File[i].Open()
		if err != nil {
			return wrknverrors.Extraction("extract_zip", archivePath, err)
		}
		out, err := os.OpenFile(e.targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, e.mode.Perm())
		if err != nil {
			rc.Close()
			return wrknverrors.Extraction("extract_zip", archivePath, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return wrknverrors.Extraction("extract_zip", archivePath, copyErr)
		}
	}
	return nil
}

func extractTar(archivePath, destDir string, format Format, log logr.Logger) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return wrknverrors.Extraction("extract_tar", archivePath, err)
	}
	defer f.Close()

	var reader io.Reader = f
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return wrknverrors.Extraction("extract_tar", archivePath, err)
		}
		defer gz.Close()
		reader = gz
	case FormatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return wrknverrors.Extraction("extract_tar", archivePath, err)
		}
		reader = xr
	}

	tr := tar.NewReader(reader)

	// Pass 1: read and validate every entry, buffering regular-file content,
	// before writing anything. A traversal anywhere in the archive aborts
	// here with nothing on disk.
	type pending struct {
		entry entry
		data  []byte
	}
	var plan []pending
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return wrknverrors.Extraction("extract_tar", archivePath, err)
		}
		target, verr := validateTarget(destDir, hdr.Name)
		if verr != nil {
			return wrknverrors.UnsafePath("extract_tar", archivePath, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			plan = append(plan, pending{entry: entry{targetPath: target, isDir: true}})
		case tar.TypeReg:
			buf, err := io.ReadAll(tr)
			if err != nil {
				return wrknverrors.Extraction("extract_tar", archivePath, err)
			}
			plan = append(plan, pending{entry: entry{targetPath: target, mode: os.FileMode(hdr.Mode)}, data: buf})
		case tar.TypeSymlink:
			plan = append(plan, pending{entry: entry{targetPath: target, isSymlink: true, linkTarget: hdr.Linkname}})
		default:
			log.V(1).Info("skipping unsupported tar entry type", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	// Pass 2: every path validated, now write.
	for _, p := range plan {
		switch {
		case p.entry.isDir:
			if err := os.MkdirAll(p.entry.targetPath, 0o755); err != nil {
				return wrknverrors.Extraction("extract_tar", archivePath, err)
			}
		case p.entry.isSymlink:
			if err := os.MkdirAll(filepath.Dir(p.entry.targetPath), 0o755); err != nil {
				return wrknverrors.Extraction("extract_tar", archivePath, err)
			}
			if err := os.Symlink(p.entry.linkTarget, p.entry.targetPath); err != nil {
				return wrknverrors.Extraction("extract_tar", archivePath, err)
			}
		default:
			if err := writeBuffered(p.entry, p.data); err != nil {
				return wrknverrors.Extraction("extract_tar", archivePath, err)
			}
		}
	}
	return nil
}

// writeBuffered writes a regular file's already-read contents, preserving
// the archive's permission bits on unix; windows ignores the execute bit in
// favor of the platform's executable-extension convention.
func writeBuffered(e entry, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(e.targetPath), 0o755); err != nil {
		return err
	}
	mode := e.mode.Perm()
	if mode == 0 {
		mode = 0o644
	}
	return os.WriteFile(e.targetPath, data, mode)
}
