// Package workspace runs one named task across every repository discovered
// under a root directory, sequentially (with optional fail-fast) or in
// parallel, and aggregates the per-repo results.
//
// VCS-marker detection uses github.com/go-git/go-git/v5's PlainOpen in
// place of a bare os.Stat(".git"), so a git worktree or submodule is
// recognized the same way a plain repository is. Parallel fan-out uses
// golang.org/x/sync/errgroup as a zero-value group, so one repository's
// failure never cancels the others. Parallel runs show per-repo progress
// through github.com/vbauerster/mpb/v8 only when stdout is a terminal;
// otherwise they print no per-repo lines. Sequential runs always print one
// plain line per repo.
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-logr/logr"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/wrknv/wrknv/pkg/config"
	"github.com/wrknv/wrknv/pkg/executor"
	"github.com/wrknv/wrknv/pkg/taskenv"
	"github.com/wrknv/wrknv/pkg/tasks"
	"github.com/wrknv/wrknv/pkg/wlog"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// RepoInfo describes one discovered repository.
type RepoInfo struct {
	Path string
	Name string
}

// Discover finds directories under root that carry both a source-control
// marker and a manifest. patterns defaults to ["*"] when empty; filter, if
// non-empty, is an additional glob applied to repo names.
func Discover(root string, patterns []string, filter string) ([]RepoInfo, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	seen := map[string]bool{}
	var repos []RepoInfo
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid discovery pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			abs, err := filepath.Abs(path)
			if err != nil || seen[abs] {
				continue
			}
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() || abs == mustAbs(root) {
				continue
			}
			if !isRepo(path) {
				continue
			}
			name := filepath.Base(path)
			if filter != "" {
				if ok, _ := filepath.Match(filter, name); !ok {
					continue
				}
			}
			seen[abs] = true
			repos = append(repos, RepoInfo{Path: path, Name: name})
		}
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// isRepo reports whether path has both a source-control marker and a
// project manifest.
func isRepo(path string) bool {
	if _, err := git.PlainOpen(path); err != nil {
		return false
	}
	_, err := os.Stat(config.ManifestPath(path))
	return err == nil
}

// TaskResult is one repository's outcome.
type TaskResult struct {
	RepoName string
	Result   *executor.TaskResult // nil when Skipped
	Skipped  bool
	Err      error
}

// WorkspaceTaskResult aggregates one task run across every discovered repo.
type WorkspaceTaskResult struct {
	TaskName    string
	RepoResults map[string]TaskResult
	TotalRepos  int
	Succeeded   int
	Failed      int
	Skipped     int
	DurationSec float64
}

// Success reports whether every attempted repo succeeded.
func (r *WorkspaceTaskResult) Success() bool { return r.Failed == 0 }

// FailedRepos returns the names of repositories that did not succeed.
func (r *WorkspaceTaskResult) FailedRepos() []string {
	var names []string
	for name, res := range r.RepoResults {
		if res.Skipped || res.Err != nil || (res.Result != nil && !res.Result.Success) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SucceededRepos returns the names of repositories whose task succeeded.
func (r *WorkspaceTaskResult) SucceededRepos() []string {
	var names []string
	for name, res := range r.RepoResults {
		if res.Result != nil && res.Result.Success {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Orchestrator runs a named task across a workspace's repositories.
type Orchestrator struct {
	Root   string
	Stdout io.Writer
	Log    logr.Logger
}

// New builds an Orchestrator rooted at root.
func New(root string, log logr.Logger) *Orchestrator {
	return &Orchestrator{Root: root, Stdout: os.Stdout, Log: wlog.OrDiscard(log)}
}

// RunTask discovers repositories (optionally filtered) and executes
// taskName in each, sequentially or in parallel.
func (o *Orchestrator) RunTask(
	ctx context.Context,
	taskName string,
	patterns []string,
	filter string,
	parallel bool,
	failFast bool,
	env map[string]string,
) (*WorkspaceTaskResult, error) {
	start := time.Now()

	repos, err := Discover(o.Root, patterns, filter)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		o.Log.V(1).Info("no repositories found", "patterns", patterns, "filter", filter)
		return &WorkspaceTaskResult{TaskName: taskName, RepoResults: map[string]TaskResult{}}, nil
	}

	var results []TaskResult
	if parallel {
		results = o.runParallel(ctx, taskName, repos, env)
	} else {
		results = o.runSequential(ctx, taskName, repos, env, failFast)
	}

	agg := &WorkspaceTaskResult{
		TaskName:    taskName,
		RepoResults: map[string]TaskResult{},
		TotalRepos:  len(repos),
		DurationSec: time.Since(start).Seconds(),
	}
	for _, r := range results {
		agg.RepoResults[r.RepoName] = r
		switch {
		case r.Skipped:
			agg.Skipped++
		case r.Err != nil || (r.Result != nil && !r.Result.Success):
			agg.Failed++
		default:
			agg.Succeeded++
		}
	}
	return agg, nil
}

// runOne resolves and executes taskName inside a single repository, with a
// fresh registry and executor scoped to that repository's own manifest.
func (o *Orchestrator) runOne(ctx context.Context, taskName string, repo RepoInfo, env map[string]string) TaskResult {
	cfg, err := config.Load(config.ManifestPath(repo.Path))
	if err != nil {
		return TaskResult{RepoName: repo.Name, Err: fmt.Errorf("load manifest: %w", err)}
	}

	reg, err := tasks.Parse(cfg.Tasks)
	if err != nil {
		return TaskResult{RepoName: repo.Name, Err: fmt.Errorf("parse tasks: %w", err)}
	}

	task, args, err := reg.Resolve(taskName, nil)
	if err != nil {
		o.Log.V(1).Info("task not found, skipping repo", "task", taskName, "repo", repo.Name)
		return TaskResult{RepoName: repo.Name, Skipped: true}
	}

	taskEnv := taskenv.Detect(repo.Path, repo.Name, taskenv.ModeAuto, taskenv.WithLogger(o.Log))
	exec := executor.New(reg, taskEnv, repo.Path, o.Log)
	exec.ExtraEnv = env

	result, err := exec.Run(ctx, task, args, false)
	if err != nil {
		return TaskResult{RepoName: repo.Name, Err: err}
	}
	return TaskResult{RepoName: repo.Name, Result: result}
}

func (o *Orchestrator) runSequential(ctx context.Context, taskName string, repos []RepoInfo, env map[string]string, failFast bool) []TaskResult {
	results := make([]TaskResult, 0, len(repos))
	for _, repo := range repos {
		fmt.Fprintf(o.Stdout, "\n▶ Running %q in %s\n", taskName, repo.Name)
		r := o.runOne(ctx, taskName, repo, env)
		results = append(results, r)

		failed := r.Err != nil || (r.Result != nil && !r.Result.Success)
		if failed {
			fmt.Fprintf(o.Stdout, "✗ %q failed in %s\n", taskName, repo.Name)
			if failFast {
				o.Log.Info("stopping due to fail-fast", "failed_repo", repo.Name)
				break
			}
		} else if !r.Skipped {
			fmt.Fprintf(o.Stdout, "✓ %q succeeded in %s\n", taskName, repo.Name)
		}
	}
	return results
}

// runParallel fans out across every repo concurrently with a zero-value
// errgroup.Group so one repository's failure never cancels the others,
// and reports per-repo progress through mpb when stdout is a terminal.
func (o *Orchestrator) runParallel(ctx context.Context, taskName string, repos []RepoInfo, env map[string]string) []TaskResult {
	results := make([]TaskResult, len(repos))

	bars, progress := o.newProgress(repos)
	defer func() {
		if progress != nil {
			progress.Wait()
		}
	}()

	var g errgroup.Group
	for i, repo := range repos {
		i, repo := i, repo
		g.Go(func() error {
			r := o.runOne(ctx, taskName, repo, env)
			results[i] = r
			if bars != nil {
				finishBar(bars[repo.Name], r)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) newProgress(repos []RepoInfo) (map[string]*mpb.Bar, *mpb.Progress) {
	if !isTerminal(o.Stdout) {
		return nil, nil
	}
	p := mpb.New(mpb.WithOutput(o.Stdout), mpb.WithWidth(40))
	bars := make(map[string]*mpb.Bar, len(repos))
	for _, repo := range repos {
		bars[repo.Name], _ = p.Add(0,
			mpb.SpinnerStyle(spinnerFrames...).Build(),
			mpb.BarFillerClearOnComplete(),
			mpb.PrependDecorators(decor.Name(repo.Name, decor.WC{W: 24, C: decor.DindentRight})),
			mpb.AppendDecorators(decor.OnComplete(decor.Name("running"), "done")),
		)
	}
	return bars, p
}

func finishBar(bar *mpb.Bar, r TaskResult) {
	if bar == nil {
		return
	}
	failed := r.Skipped || r.Err != nil || (r.Result != nil && !r.Result.Success)
	if failed {
		bar.Abort(false)
		return
	}
	bar.SetTotal(1, true)
	bar.SetCurrent(1)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
