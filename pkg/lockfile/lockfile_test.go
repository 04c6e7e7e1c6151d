package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrknv/wrknv/pkg/config"
)

const manifest = `
project_name = "demo"
version = "0.1.0"
tools.uv = "0.5.0"
tools.go = ["1.22.*", "1.21.*"]

[profiles.ci]
go = "1.22.*"
`

func loadDemoConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(manifest))
	require.NoError(t, err)
	return cfg
}

func TestFingerprintIsStableAndTwelveHex(t *testing.T) {
	cfg := loadDemoConfig(t)
	fp1 := Fingerprint(cfg)
	fp2 := Fingerprint(cfg)
	assert.Len(t, fp1, 12)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintIgnoresTaskDefinitions(t *testing.T) {
	cfg := loadDemoConfig(t)
	fp1 := Fingerprint(cfg)

	cfg2, err := config.Parse([]byte(manifest + "\n[tasks.test]\nrun = \"echo hi\"\n"))
	require.NoError(t, err)
	fp2 := Fingerprint(cfg2)

	assert.Equal(t, fp1, fp2)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	eng := New(filepath.Join(dir, "wrknv.lock"), "test-manager", logr.Discard())
	cfg := loadDemoConfig(t)
	lf := Generate(cfg, "test-manager")
	lf.ResolvedTools["uv"] = ResolvedTool{Name: "uv", Version: "0.5.0", ResolvedFrom: "0.5.0"}

	require.NoError(t, eng.Save(lf))

	loaded := eng.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, lf.ConfigChecksum, loaded.ConfigChecksum)
	assert.Equal(t, "0.5.0", loaded.ResolvedTools["uv"].Version)
}

func TestLoadReturnsNilOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	eng := New(filepath.Join(dir, "missing.lock"), "test-manager", logr.Discard())
	assert.Nil(t, eng.Load())
}

func TestIsValidDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	eng := New(filepath.Join(dir, "wrknv.lock"), "test-manager", logr.Discard())
	cfg := loadDemoConfig(t)
	lf := Generate(cfg, "test-manager")
	require.NoError(t, eng.Save(lf))

	assert.True(t, eng.IsValid(cfg))

	cfg2, err := config.Parse([]byte("tools.extra = \"1.0.0\"\n" + manifest))
	require.NoError(t, err)
	assert.False(t, eng.IsValid(cfg2))
}

func TestResolveAndLockExpandsMatrixAndScalar(t *testing.T) {
	dir := t.TempDir()
	eng := New(filepath.Join(dir, "wrknv.lock"), "test-manager", logr.Discard())
	cfg := loadDemoConfig(t)

	lister := func(toolID string, includePrereleases bool) ([]string, error) {
		switch toolID {
		case "uv":
			return []string{"0.5.0", "0.4.0"}, nil
		case "go":
			return []string{"1.22.5", "1.22.4", "1.21.9"}, nil
		}
		return nil, nil
	}

	lf := eng.ResolveAndLock(cfg, lister)
	assert.Equal(t, "0.5.0", lf.ResolvedTools["uv"].Version)
	assert.Equal(t, "1.22.5", lf.ResolvedTools["go@1.22.5"].Version)
	assert.Equal(t, "1.21.9", lf.ResolvedTools["go@1.21.9"].Version)
	_, hasBareGo := lf.ResolvedTools["go"]
	assert.False(t, hasBareGo)
}

type fakeInstaller struct{ calls *[]string }

func (f *fakeInstaller) Install(version string, dryRun bool) error {
	*f.calls = append(*f.calls, version)
	return nil
}

func TestSyncFromLockSkipsMatrixKeysAndInstallsScalars(t *testing.T) {
	lf := &Lockfile{ResolvedTools: map[string]ResolvedTool{
		"uv":        {Name: "uv", Version: "0.5.0"},
		"go@1.22.5": {Name: "go", Version: "1.22.5"},
	}}
	eng := New("unused", "test-manager", logr.Discard())

	var calls []string
	installerFor := func(toolID string) (Installer, error) {
		return &fakeInstaller{calls: &calls}, nil
	}

	result := eng.SyncFromLock(lf, installerFor)
	assert.Equal(t, 1, result.Installed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"0.5.0"}, calls)
}
