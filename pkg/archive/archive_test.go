package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

func logrDiscard() logr.Logger { return logr.Discard() }

func writeTarGz(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()
	for name, data := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(data))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
}

func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	defer zw.Close()
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
}

func TestExtractTarGzHappyPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "uv.tar.gz")
	writeTarGz(t, archivePath, map[string][]byte{"uv": []byte("#!/bin/sh\necho uv\n")})

	dest := filepath.Join(dir, "out")
	require.NoError(t, Extract(archivePath, dest, logrDiscard()))

	data, err := os.ReadFile(filepath.Join(dest, "uv"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho uv\n", string(data))
}

// A zip entry naming a path outside the destination aborts the whole
// extraction instead of writing outside the destination directory.
func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, map[string][]byte{"../evil.txt": []byte("pwned")})

	dest := filepath.Join(dir, "out")
	err := Extract(archivePath, dest, logrDiscard())
	require.Error(t, err)
	assert.True(t, wrknverrors.Is(err, wrknverrors.KindUnsafePath))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractTarGzRejectsTraversalBeforeWritingAnyEntry(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archivePath, map[string][]byte{
		"safe.txt":       []byte("ok"),
		"../../evil.txt": []byte("pwned"),
	})

	dest := filepath.Join(dir, "out")
	err := Extract(archivePath, dest, logrDiscard())
	require.Error(t, err)
	assert.True(t, wrknverrors.Is(err, wrknverrors.KindUnsafePath))
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"x.zip":     FormatZip,
		"x.tar":     FormatTar,
		"x.tar.gz":  FormatTarGz,
		"x.tgz":     FormatTarGz,
		"x.tar.xz":  FormatTarXz,
	}
	for name, want := range cases {
		got, err := DetectFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := DetectFormat("x.rar")
	assert.Error(t, err)
}
