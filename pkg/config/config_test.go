package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

const sampleManifest = `
project_name = "demo"
version = "0.1.0"
description = "a sample project"

tools.uv = "0.5.0"
tools.go = ["1.22.*", "1.21.*"]
tools.terraform = { version = "1.9.0", env = { TF_LOG = "INFO" } }

[profiles.ci]
go = "1.22.*"

[workenv]
auto_install = true
use_cache = true
cache_ttl = "24h"
log_level = "INFO"
container_runtime = "docker"

[tasks.test]
run = "go test ./..."

[tasks.test.unit]
fast = "pytest -k fast"
_default = "pytest"

[export]
tasks = ["test"]
`

func TestParseScalarMatrixAndStructToolSpecs(t *testing.T) {
	cfg, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.ProjectName)
	assert.Equal(t, ToolSpecScalar, cfg.Tools["uv"].Kind)
	assert.Equal(t, "0.5.0", cfg.Tools["uv"].Version)

	assert.Equal(t, ToolSpecMatrix, cfg.Tools["go"].Kind)
	assert.ElementsMatch(t, []string{"1.22.*", "1.21.*"}, cfg.Tools["go"].Matrix)

	assert.Equal(t, ToolSpecStruct, cfg.Tools["terraform"].Kind)
	assert.Equal(t, "1.9.0", cfg.Tools["terraform"].Version)
	assert.Equal(t, "INFO", cfg.Tools["terraform"].Env["TF_LOG"])

	assert.Equal(t, "1.22.*", cfg.Profiles["ci"]["go"])
	assert.True(t, cfg.Workenv.AutoInstall)
	assert.Equal(t, "docker", cfg.Workenv.ContainerRuntime)
	assert.Equal(t, []string{"test"}, cfg.Export.Tasks)
}

func TestValidateRejectsBadProjectName(t *testing.T) {
	cfg, err := Parse([]byte(`project_name = "bad name!"`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, wrknverrors.Is(err, wrknverrors.KindConfig))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg, err := Parse([]byte(`
project_name = "demo"
[workenv]
log_level = "TRACE"
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverridesPinsToolVersion(t *testing.T) {
	cfg, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	ApplyEnvOverrides(cfg, []string{"WRKNV_UV_VERSION=0.6.0", "WRKNV_AUTO_INSTALL=off"})

	assert.Equal(t, ToolSpecScalar, cfg.Tools["uv"].Kind)
	assert.Equal(t, "0.6.0", cfg.Tools["uv"].Version)
	assert.False(t, cfg.Workenv.AutoInstall)
}

func TestActiveProfileDefaultsToDefault(t *testing.T) {
	assert.Equal(t, "default", ActiveProfile(nil))
	assert.Equal(t, "ci", ActiveProfile([]string{"PROFILE=ci"}))
}

func TestCacheTTLDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"2w":  2 * 7 * 24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := CacheTTLDuration(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got, raw)
	}
}

func TestCacheTTLDurationRejectsBadFormat(t *testing.T) {
	_, err := CacheTTLDuration("not-a-duration")
	assert.Error(t, err)
}

func TestWorkenvUseCacheDefaultsTrueUnlessDisabled(t *testing.T) {
	cfg, err := Parse([]byte(`
project_name = "demo"
version = "0.1.0"
tools.uv = "0.5.0"
`))
	require.NoError(t, err)
	assert.True(t, cfg.Workenv.UseCache)

	cfg, err = Parse([]byte(`
project_name = "demo"
version = "0.1.0"
tools.uv = "0.5.0"

[workenv]
use_cache = false
`))
	require.NoError(t, err)
	assert.False(t, cfg.Workenv.UseCache)
}
