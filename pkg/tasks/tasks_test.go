package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrknv/wrknv/pkg/config"
)

const manifest = `
project_name = "demo"
version = "0.1.0"

[tasks]
build = "go build ./..."
lint = { run = "golangci-lint run", timeout = 120 }

[tasks.test]
unit = "go test ./..."
_default = "go test ./... -short"

[tasks.test.integration]
fast = "go test -tags=integration -short ./..."
full = { run = "go test -tags=integration ./...", parallel = false }

[export]
tasks = ["build", "test.unit"]
`

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg, err := config.Parse([]byte(manifest))
	require.NoError(t, err)
	reg, err := Parse(cfg.Tasks)
	require.NoError(t, err)
	return reg
}

func TestParseFlattensNestedNamespaces(t *testing.T) {
	reg := loadRegistry(t)
	assert.Contains(t, reg.Tasks, "build")
	assert.Contains(t, reg.Tasks, "test.unit")
	assert.Contains(t, reg.Tasks, "test._default")
	assert.Contains(t, reg.Tasks, "test.integration.fast")
	assert.Contains(t, reg.Tasks, "test.integration.full")
}

func TestParseLeafVariants(t *testing.T) {
	reg := loadRegistry(t)
	assert.False(t, reg.Tasks["build"].IsComposite())
	assert.Equal(t, "go build ./...", reg.Tasks["build"].RunCommand())
	assert.Equal(t, 120, reg.Tasks["lint"].Timeout)
}

func TestResolveExactMatch(t *testing.T) {
	reg := loadRegistry(t)
	task, args, err := reg.Resolve("build", nil)
	require.NoError(t, err)
	assert.Equal(t, "build", task.Name)
	assert.Empty(t, args)
}

func TestResolveColonNormalizesToDot(t *testing.T) {
	reg := loadRegistry(t)
	task, _, err := reg.Resolve("test:unit", nil)
	require.NoError(t, err)
	assert.Equal(t, "test.unit", task.FullName)
}

func TestResolveFallsBackToNamespaceDefault(t *testing.T) {
	reg := loadRegistry(t)
	task, args, err := reg.Resolve("test", []string{"-v"})
	require.NoError(t, err)
	assert.Equal(t, "test._default", task.FullName)
	assert.Equal(t, []string{"-v"}, args)
}

func TestResolveParentPrependsLeafAsArg(t *testing.T) {
	reg := loadRegistry(t)
	task, args, err := reg.Resolve("test.missing", nil)
	require.NoError(t, err)
	assert.Equal(t, "test._default", task.FullName)
	assert.Equal(t, []string{"missing"}, args)
}

func TestResolveWithoutGrandparentTaskIsNotFound(t *testing.T) {
	reg := loadRegistry(t)
	// "test.integration" has no task of its own and no _default, so this
	// must fail through to "not found" rather than misresolving.
	_, _, err := reg.Resolve("test.integration.missing.deep", nil)
	assert.Error(t, err)
}

func TestResolveNotFound(t *testing.T) {
	reg := loadRegistry(t)
	_, _, err := reg.Resolve("nonexistent", nil)
	assert.Error(t, err)
}

func TestExportedTasks(t *testing.T) {
	reg := loadRegistry(t)
	cfg, err := config.Parse([]byte(manifest))
	require.NoError(t, err)
	exported := reg.ExportedTasks(cfg.Export.Tasks)
	names := map[string]bool{}
	for _, t := range exported {
		names[t.FullName] = true
	}
	assert.True(t, names["build"])
	assert.True(t, names["test.unit"])
	assert.Len(t, exported, 2)
}
