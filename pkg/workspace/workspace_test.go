package workspace

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeRepo creates a bare project directory: a .git marker via go-git's
// PlainInit and a .wrknv/config.toml manifest with the given tasks TOML
// fragment embedded.
func makeRepo(t *testing.T, root, name, tasksTOML string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	manifestDir := filepath.Join(dir, ".wrknv")
	require.NoError(t, os.MkdirAll(manifestDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(manifestDir, "config.toml"), []byte(tasksTOML), 0o644))
}

const greetManifest = `project_name = "greet-repo"

[tasks.greet]
run = "echo hello-from-repo"
`

const noTaskManifest = `project_name = "other-repo"

[tasks.build]
run = "echo building"
`

func TestDiscoverFindsRepositoriesWithGitAndManifest(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, root, "alpha", greetManifest)
	makeRepo(t, root, "beta", noTaskManifest)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-repo"), 0o755))

	repos, err := Discover(root, nil, "")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "alpha", repos[0].Name)
	assert.Equal(t, "beta", repos[1].Name)
}

func TestDiscoverAppliesNameFilter(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, root, "pyvider-core", greetManifest)
	makeRepo(t, root, "other", greetManifest)

	repos, err := Discover(root, nil, "pyvider-*")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "pyvider-core", repos[0].Name)
}

func TestRunTaskSequentialSkipsRepoMissingTask(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, root, "alpha", greetManifest)
	makeRepo(t, root, "beta", noTaskManifest)

	o := New(root, logr.Discard())
	o.Stdout = &bytes.Buffer{}

	result, err := o.RunTask(context.Background(), "greet", nil, "", false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.Success())
}

func TestRunTaskSequentialFailFastStopsAfterFirstFailure(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, root, "a-fails", `project_name = "a"
[tasks.run]
run = "exit 1"
`)
	makeRepo(t, root, "b-would-run", `project_name = "b"
[tasks.run]
run = "exit 1"
`)

	o := New(root, logr.Discard())
	o.Stdout = &bytes.Buffer{}

	result, err := o.RunTask(context.Background(), "run", nil, "", false, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRepos)
	assert.Equal(t, 1, result.Failed+result.Skipped+result.Succeeded, "fail-fast stops after the first repo")
}

func TestRunTaskParallelDoesNotCancelSiblingsOnFailure(t *testing.T) {
	root := t.TempDir()
	makeRepo(t, root, "fails", `project_name = "fails"
[tasks.run]
run = "exit 1"
`)
	makeRepo(t, root, "succeeds", `project_name = "succeeds"
[tasks.run]
run = "echo still-ran"
`)

	o := New(root, logr.Discard())
	o.Stdout = &bytes.Buffer{}

	result, err := o.RunTask(context.Background(), "run", nil, "", true, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Succeeded)
	assert.False(t, result.Success())
	assert.Contains(t, result.FailedRepos(), "fails")
	assert.Contains(t, result.SucceededRepos(), "succeeds")
}

func TestRunTaskReturnsEmptyResultWhenNoReposFound(t *testing.T) {
	root := t.TempDir()

	o := New(root, logr.Discard())
	o.Stdout = &bytes.Buffer{}

	result, err := o.RunTask(context.Background(), "run", nil, "", false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalRepos)
	assert.True(t, result.Success())
}
