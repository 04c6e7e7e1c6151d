// Package executor runs one task, streaming or buffered, with command
// prefixing, PATH merge, process-title formatting, per-task timeout, and
// sequential/parallel composite execution.
//
// Buffered mode writes to caller-supplied buffers instead of
// os.Stdout/os.Stderr and accepts a context so a task timeout can
// SIGTERM/SIGKILL a running external command the same way the streaming
// path does. Streaming mode instead shell-word-splits with
// github.com/mattn/go-shellwords and execs directly, since there's nothing
// to buffer. Parallel composite tasks use golang.org/x/sync/errgroup as a
// zero-value errgroup.Group (no WithContext) so one subtask's failure never
// cancels its siblings.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/mattn/go-shellwords"
	"golang.org/x/sync/errgroup"

	"github.com/wrknv/wrknv/pkg/shell"
	"github.com/wrknv/wrknv/pkg/taskenv"
	"github.com/wrknv/wrknv/pkg/tasks"
	"github.com/wrknv/wrknv/pkg/wlog"
	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// DefaultTimeout is the fallback per-task timeout.
const DefaultTimeout = 300 * time.Second

// killGrace is how long a timed-out subprocess gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// TaskResult is one task run's outcome.
type TaskResult struct {
	Task        *tasks.Task
	Success     bool
	ExitCode    int
	Stdout      string
	Stderr      string
	DurationSec float64
}

// Executor runs tasks from a single registry against one execution
// environment, cached for the lifetime of the runner.
type Executor struct {
	Registry       *tasks.Registry
	Env            *taskenv.Environment
	ProjectDir     string
	DefaultTimeout time.Duration
	Stdout         io.Writer
	Stderr         io.Writer
	Log            logr.Logger

	// ExtraEnv is merged under task.Env, ahead of prepare_environment.
	// Set by callers (e.g. the workspace orchestrator's run_task env
	// parameter) that need to inject variables beneath a task's own.
	ExtraEnv map[string]string
}

// New builds an Executor. env may be nil, in which case prepare_command and
// prepare_environment are no-ops (raw command, inherited environment).
func New(registry *tasks.Registry, env *taskenv.Environment, projectDir string, log logr.Logger) *Executor {
	return &Executor{
		Registry:       registry,
		Env:            env,
		ProjectDir:     projectDir,
		DefaultTimeout: DefaultTimeout,
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		Log:            wlog.OrDiscard(log),
	}
}

// Run executes task, recursing into subtasks for composite tasks.
func (e *Executor) Run(ctx context.Context, task *tasks.Task, args []string, dryRun bool) (*TaskResult, error) {
	if task.IsComposite() {
		if task.Parallel {
			return e.runParallel(ctx, task, dryRun)
		}
		return e.runSequential(ctx, task, dryRun)
	}
	return e.runLeaf(ctx, task, args, dryRun)
}

func (e *Executor) runSequential(ctx context.Context, task *tasks.Task, dryRun bool) (*TaskResult, error) {
	start := time.Now()
	var results []*TaskResult
	for _, ref := range task.RunSubtasks() {
		sub, subArgs, err := e.Registry.Resolve(ref, nil)
		if err != nil {
			return nil, err
		}
		result, err := e.Run(ctx, sub, subArgs, dryRun)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
		if !result.Success {
			break
		}
	}
	return aggregateSequential(task, results, start), nil
}

func (e *Executor) runParallel(ctx context.Context, task *tasks.Task, dryRun bool) (*TaskResult, error) {
	start := time.Now()
	refs := task.RunSubtasks()
	results := make([]*TaskResult, len(refs))

	var group errgroup.Group
	for i, ref := range refs {
		i, ref := i, ref
		group.Go(func() error {
			sub, subArgs, err := e.Registry.Resolve(ref, nil)
			if err != nil {
				results[i] = &TaskResult{
					Task:     &tasks.Task{Name: ref, FullName: ref},
					Success:  false,
					ExitCode: -1,
					Stderr:   err.Error(),
				}
				return nil
			}
			result, err := e.Run(ctx, sub, subArgs, dryRun)
			if err != nil {
				results[i] = &TaskResult{
					Task:     sub,
					Success:  false,
					ExitCode: -1,
					Stderr:   err.Error(),
				}
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = group.Wait() // subtask goroutines never return an error; failures live in results

	return aggregateParallel(task, results, start), nil
}

func aggregateSequential(task *tasks.Task, results []*TaskResult, start time.Time) *TaskResult {
	success := true
	for _, r := range results {
		if !r.Success {
			success = false
			break
		}
	}
	exitCode := 0
	if !success {
		exitCode = 1
	}
	return &TaskResult{
		Task:        task,
		Success:     success,
		ExitCode:    exitCode,
		DurationSec: time.Since(start).Seconds(),
	}
}

func aggregateParallel(task *tasks.Task, results []*TaskResult, start time.Time) *TaskResult {
	success := true
	var failed []string
	var stderrParts []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if !r.Success {
			success = false
			failed = append(failed, r.Task.Name)
		}
	}
	if len(failed) > 0 {
		stderrParts = append(stderrParts, fmt.Sprintf("parallel task %q had %d failure(s): %s\n", task.FullName, len(failed), strings.Join(failed, ", ")))
		for _, r := range results {
			if r != nil && !r.Success && r.Stderr != "" {
				stderrParts = append(stderrParts, fmt.Sprintf("\n--- %s stderr ---\n%s", r.Task.Name, r.Stderr))
			}
		}
	}
	exitCode := 0
	if !success {
		exitCode = 1
	}
	return &TaskResult{
		Task:        task,
		Success:     success,
		ExitCode:    exitCode,
		Stderr:      strings.Join(stderrParts, ""),
		DurationSec: time.Since(start).Seconds(),
	}
}

func (e *Executor) runLeaf(ctx context.Context, task *tasks.Task, args []string, dryRun bool) (*TaskResult, error) {
	start := time.Now()

	// 1. Build the shell-quoted command.
	command := task.RunCommand()
	if len(args) > 0 {
		command = command + " " + shellQuoteJoin(args)
	}

	// 2. Run the command through the execution environment probe, honoring a
	// per-task execution_mode override.
	env := e.Env
	if env != nil && task.ExecutionMode != "" {
		env = env.ForTaskMode(taskenv.Mode(task.ExecutionMode))
	}
	if env != nil {
		command = env.PrepareCommand(command, task.CommandPrefix)
	}

	title := formatProcessTitle(task)

	if dryRun {
		fmt.Fprintf(e.Stdout, "🔨 [dry run] %s: %s\n", title, command)
		return &TaskResult{Task: task, Success: true, ExitCode: 0, DurationSec: time.Since(start).Seconds()}, nil
	}

	// 3. Merge env: executor.env ← task.env, then prepare_environment.
	base := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			base[parts[0]] = parts[1]
		}
	}
	for k, v := range e.ExtraEnv {
		base[k] = v
	}
	for k, v := range task.Env {
		base[k] = v
	}
	if env != nil {
		base = env.PrepareEnvironment(base)
	}

	workDir := e.ProjectDir
	if task.WorkingDir != "" {
		workDir = filepath.Join(e.ProjectDir, task.WorkingDir)
	}

	timeout := e.DefaultTimeout
	if task.Timeout > 0 {
		timeout = time.Duration(task.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	streaming := task.StreamOutput || isTerminal(e.Stdout)

	fmt.Fprintf(e.Stdout, "🔨 Running task: %s\n", title)

	var result *TaskResult
	var err error
	if streaming {
		result, err = e.runStreaming(runCtx, task, command, workDir, base)
	} else {
		result, err = e.runBuffered(runCtx, task, command, workDir, base)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, wrknverrors.TaskTimeout("execute", task.FullName)
	}
	if err != nil {
		return &TaskResult{
			Task: task, Success: false, ExitCode: -1,
			Stderr:      err.Error(),
			DurationSec: time.Since(start).Seconds(),
		}, nil
	}
	result.DurationSec = time.Since(start).Seconds()
	return result, nil
}

// needsNativeShell reports whether command must run under the platform
// shell rather than as a direct exec of its first word: either it contains
// shell syntax go-shellwords doesn't interpret (chaining, redirection,
// expansion, globbing), or its first word is a shell builtin with no
// corresponding binary on PATH.
func needsNativeShell(command, firstWord string) bool {
	if strings.ContainsAny(command, "&|;$`><*") {
		return true
	}
	switch firstWord {
	case "exit", "cd", "export", "source", ".":
		return true
	}
	return false
}

// runStreaming implements step 4's streaming branch: shell-word-split with
// a raw-shell fallback, PYTHONUNBUFFERED=1, output tee'd to e.Stdout while
// also accumulated for the result text.
func (e *Executor) runStreaming(ctx context.Context, task *tasks.Task, command, workDir string, env map[string]string) (*TaskResult, error) {
	words, err := shellwords.Parse(command)
	var cmd *exec.Cmd
	if err != nil || len(words) == 0 || needsNativeShell(command, words[0]) {
		cmd = exec.Command(shellPath(), shellFlag(), command)
	} else {
		cmd = exec.Command(words[0], words[1:]...)
	}
	cmd.Dir = workDir

	env["PYTHONUNBUFFERED"] = "1"
	cmd.Env = envSlice(env)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(e.Stdout, &outBuf)
	cmd.Stderr = io.MultiWriter(e.Stderr, &errBuf)
	cmd.Stdin = os.Stdin

	exitCode, err := runWithGracefulTimeout(ctx, cmd)
	if err != nil && exitCode == -1 {
		return nil, err
	}

	return &TaskResult{
		Task:     task,
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

// runBuffered implements step 4's buffered branch: run the command through
// the portable shell interpreter, capturing both streams without echoing
// them live.
func (e *Executor) runBuffered(ctx context.Context, task *tasks.Task, command, workDir string, env map[string]string) (*TaskResult, error) {
	var outBuf, errBuf bytes.Buffer
	sh := shell.New(workDir, envSlice(env), &outBuf, &errBuf)

	err := sh.ExecuteContext(ctx, command)
	exitCode := exitCodeOf(err)
	if err != nil && exitCode == -1 && ctx.Err() == nil {
		return nil, err
	}

	return &TaskResult{
		Task:     task,
		Success:  exitCode == 0,
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

// runWithGracefulTimeout starts cmd and waits for it, sending SIGTERM then
// SIGKILL after killGrace if ctx expires first.
// Returns the observed exit code, or -1 with a non-nil error if the
// subprocess could never be started or supervised.
func runWithGracefulTimeout(ctx context.Context, cmd *exec.Cmd) (int, error) {
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	done := make(chan error, 1)
	var once sync.Once
	go func() { once.Do(func() { done <- cmd.Wait() }) }()

	select {
	case err := <-done:
		return exitCodeOf(err), nil
	case <-ctx.Done():
		terminate(cmd)
		grace := time.NewTimer(killGrace)
		defer grace.Stop()
		select {
		case err := <-done:
			return exitCodeOf(err), nil
		case <-grace.C:
			_ = cmd.Process.Kill()
			<-done
			return -1, ctx.Err()
		}
	}
}

func terminate(cmd *exec.Cmd) {
	if runtime.GOOS == "windows" {
		_ = cmd.Process.Kill()
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	var shellExit *shell.ExitError
	if errors.As(err, &shellExit) {
		return shellExit.Code
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func shellPath() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	return "/bin/sh"
}

func shellFlag() string {
	if runtime.GOOS == "windows" {
		return "/c"
	}
	return "-c"
}

// isTerminal reports whether w looks like an interactive terminal. Kept on
// stdlib os.FileInfo checks: this is a narrow, single-call predicate with
// no parsing or protocol surface for a third-party library to add value to.
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

// formatProcessTitle renders a task's name for its console output header.
// wrknv has no portable way to rewrite argv[0] of a subprocess without
// platform-specific syscalls no pack library provides, so the formatted
// title labels the task's own output instead of mutating OS process
// metadata.
func formatProcessTitle(task *tasks.Task) string {
	switch task.ProcessTitleFormat {
	case tasks.TitleLeaf:
		parts := strings.Split(task.FullName, ".")
		return parts[len(parts)-1]
	case tasks.TitleAbbreviated:
		parts := strings.Split(task.FullName, ".")
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "..." + parts[len(parts)-1]
	default:
		return task.FullName
	}
}

// shellQuoteJoin shell-quotes each argument and joins with spaces.
func shellQuoteJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
