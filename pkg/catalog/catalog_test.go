package catalog

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrknv/wrknv/pkg/fetch"
	"github.com/wrknv/wrknv/pkg/platform"
	"github.com/wrknv/wrknv/pkg/tfmanager"
)

func TestGenericDescriptorKnownTools(t *testing.T) {
	plat := platform.Descriptor{OS: "linux", Arch: "amd64"}
	fetcher := fetch.New(logr.Discard())

	desc, ok := GenericDescriptor("go", plat, fetcher)
	require.True(t, ok)
	assert.Equal(t, "go", desc.ToolID)
	assert.True(t, desc.GoStyleGoDir)
	assert.True(t, desc.VerifyChecksums)

	desc, ok = GenericDescriptor("uv", plat, fetcher)
	require.True(t, ok)
	assert.Equal(t, "uv", desc.ToolID)
	assert.True(t, desc.RecursiveBinarySearch)
}

func TestGenericDescriptorUnknownTool(t *testing.T) {
	_, ok := GenericDescriptor("nonexistent", platform.Descriptor{}, fetch.New(logr.Discard()))
	assert.False(t, ok)
}

func TestTFDescriptorTerraformAndOpenTofu(t *testing.T) {
	plat := platform.Descriptor{OS: "darwin", Arch: "arm64"}
	fetcher := fetch.New(logr.Discard())

	desc, ok := TFDescriptor("terraform", plat, fetcher)
	require.True(t, ok)
	assert.Equal(t, tfmanager.Terraform, desc.Prefix)

	desc, ok = TFDescriptor("opentofu", plat, fetcher)
	require.True(t, ok)
	assert.Equal(t, tfmanager.OpenTofu, desc.Prefix)

	_, ok = TFDescriptor("not-a-tf-tool", plat, fetcher)
	assert.False(t, ok)
}

func TestIsTFFamily(t *testing.T) {
	assert.True(t, IsTFFamily("terraform"))
	assert.True(t, IsTFFamily("opentofu"))
	assert.True(t, IsTFFamily("tofu"))
	assert.False(t, IsTFFamily("go"))
	assert.False(t, IsTFFamily("uv"))
}

func TestUvPlatformTriple(t *testing.T) {
	assert.Equal(t, "x86_64-unknown-linux-gnu", uvPlatformTriple(platform.Descriptor{OS: "linux", Arch: "amd64"}))
	assert.Equal(t, "aarch64-apple-darwin", uvPlatformTriple(platform.Descriptor{OS: "darwin", Arch: "arm64"}))
}

func TestGenericManagerAndTFManagerUnknownToolReportsFalse(t *testing.T) {
	fetcher := fetch.New(logr.Discard())
	plat := platform.Current()

	_, ok := GenericManager("nope", t.TempDir(), t.TempDir(), plat, fetcher, logr.Discard(), CacheOptions{})
	assert.False(t, ok)

	_, ok = TFManager("nope", t.TempDir(), t.TempDir(), plat, fetcher, logr.Discard())
	assert.False(t, ok)
}

func TestInstallerForRoutesToolFamilies(t *testing.T) {
	fetcher := fetch.New(logr.Discard())
	plat := platform.Current()
	projectRoot := t.TempDir()

	installer, err := InstallerFor("go", projectRoot, plat, fetcher, logr.Discard(), CacheOptions{})
	require.NoError(t, err)
	assert.NotNil(t, installer)

	installer, err = InstallerFor("terraform", projectRoot, plat, fetcher, logr.Discard(), CacheOptions{})
	require.NoError(t, err)
	assert.NotNil(t, installer)

	_, err = InstallerFor("unknown-tool", projectRoot, plat, fetcher, logr.Discard(), CacheOptions{})
	assert.Error(t, err)
}

func TestVersionListerRoutesToolFamilies(t *testing.T) {
	lister := VersionLister(platform.Current(), fetch.New(logr.Discard()))

	_, err := lister("unknown-tool", false)
	assert.Error(t, err)
}
