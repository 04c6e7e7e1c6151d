// Package tasks parses the manifest's tasks tree and resolves a dotted or
// colon-separated task name with the hierarchical "_default" fallback.
package tasks

import (
	"fmt"
	"strings"

	"github.com/wrknv/wrknv/pkg/wrknverrors"
)

// maxDepth is the nesting limit enforced while parsing the tasks table.
const maxDepth = 3

// ProcessTitleFormat controls how a task's name is rendered into the child
// process title.
type ProcessTitleFormat string

const (
	TitleFull        ProcessTitleFormat = "full"
	TitleLeaf        ProcessTitleFormat = "leaf"
	TitleAbbreviated ProcessTitleFormat = "abbreviated"
)

// ExecutionMode mirrors taskenv.Mode at the task-definition level; kept as
// a distinct string type so pkg/tasks has no import dependency on
// pkg/taskenv.
type ExecutionMode string

const (
	ExecAuto   ExecutionMode = "auto"
	ExecRunner ExecutionMode = "runner"
	ExecDirect ExecutionMode = "direct"
	ExecSystem ExecutionMode = "system"
)

// Task is one resolved task definition.
type Task struct {
	Name               string
	FullName           string
	Run                any // string or []string ("is_composite" iff []string)
	Description        string
	Env                map[string]string
	DependsOn          []string
	WorkingDir         string
	IsExported         bool
	Requires           []string
	Timeout            int // seconds, 0 means "use executor default"
	StreamOutput       bool
	ProcessTitleFormat ProcessTitleFormat
	CommandPrefix      *string // nil = unset, pointer-to-"" = explicit no-prefix
	ExecutionMode      ExecutionMode
	Parallel           bool
}

// IsComposite reports whether Run is a list of task references rather than
// a shell command.
func (t *Task) IsComposite() bool {
	_, ok := t.Run.([]string)
	return ok
}

// RunCommand returns Run as a command string; valid only when !IsComposite.
func (t *Task) RunCommand() string {
	s, _ := t.Run.(string)
	return s
}

// RunSubtasks returns Run as the list of subtask references; valid only
// when IsComposite.
func (t *Task) RunSubtasks() []string {
	s, _ := t.Run.([]string)
	return s
}

// Registry holds the parsed task tree for one project directory.
type Registry struct {
	Tasks map[string]*Task
}

// Parse builds a Registry from a manifest's raw tasks table (Config.Tasks).
func Parse(raw map[string]any) (*Registry, error) {
	reg := &Registry{Tasks: map[string]*Task{}}
	if raw == nil {
		return reg, nil
	}
	if err := parseRecursive(raw, reg.Tasks, "", 1); err != nil {
		return nil, err
	}
	return reg, nil
}

func parseRecursive(node map[string]any, out map[string]*Task, namespace string, depth int) error {
	if depth > maxDepth {
		return wrknverrors.Config("parse", "tasks", fmt.Errorf("task nesting too deep (max %d levels)", maxDepth))
	}

	for name, value := range node {
		fullName := name
		if namespace != "" {
			fullName = namespace + "." + name
		}

		if m, ok := value.(map[string]any); ok {
			if _, hasRun := m["run"]; !hasRun {
				if err := parseRecursive(m, out, fullName, depth+1); err != nil {
					return err
				}
				continue
			}
		}

		task, err := parseLeaf(name, fullName, namespace, value)
		if err != nil {
			return wrknverrors.Config("parse", "tasks."+fullName, err)
		}
		if task != nil {
			out[fullName] = task
		}
	}
	return nil
}

func parseLeaf(name, fullName, namespace string, value any) (*Task, error) {
	switch v := value.(type) {
	case string:
		return &Task{
			Name: name, FullName: fullName, Run: v,
			ProcessTitleFormat: TitleFull, ExecutionMode: ExecAuto,
		}, nil

	case []any:
		refs := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("composite task entries must be strings, got %T", elem)
			}
			refs = append(refs, s)
		}
		return &Task{
			Name: name, FullName: fullName, Run: refs,
			ProcessTitleFormat: TitleFull, ExecutionMode: ExecAuto,
		}, nil

	case map[string]any:
		runRaw, ok := v["run"]
		if !ok {
			return nil, nil
		}
		task := &Task{
			Name: name, FullName: fullName,
			ProcessTitleFormat: TitleFull,
			ExecutionMode:      ExecAuto,
		}
		switch r := runRaw.(type) {
		case string:
			task.Run = r
		case []any:
			refs := make([]string, 0, len(r))
			for _, elem := range r {
				s, ok := elem.(string)
				if !ok {
					return nil, fmt.Errorf("composite task entries must be strings, got %T", elem)
				}
				refs = append(refs, s)
			}
			task.Run = refs
		default:
			return nil, fmt.Errorf("run must be a string or list, got %T", runRaw)
		}

		if s, ok := v["description"].(string); ok {
			task.Description = s
		}
		if envRaw, ok := v["env"].(map[string]any); ok {
			task.Env = map[string]string{}
			for k, val := range envRaw {
				if s, ok := val.(string); ok {
					task.Env[k] = s
				}
			}
		}
		if depRaw, ok := v["depends_on"].([]any); ok {
			for _, d := range depRaw {
				if s, ok := d.(string); ok {
					task.DependsOn = append(task.DependsOn, s)
				}
			}
		}
		if s, ok := v["working_dir"].(string); ok {
			task.WorkingDir = s
		}
		if reqRaw, ok := v["requires"].([]any); ok {
			for _, r := range reqRaw {
				if s, ok := r.(string); ok {
					task.Requires = append(task.Requires, s)
				}
			}
		}
		if n, ok := v["timeout"].(int64); ok {
			task.Timeout = int(n)
		} else if f, ok := v["timeout"].(float64); ok {
			task.Timeout = int(f)
		}
		if b, ok := v["stream_output"].(bool); ok {
			task.StreamOutput = b
		}
		if s, ok := v["process_title_format"].(string); ok {
			task.ProcessTitleFormat = ProcessTitleFormat(s)
		}
		if s, ok := v["command_prefix"].(string); ok {
			task.CommandPrefix = &s
		}
		if s, ok := v["execution_mode"].(string); ok {
			task.ExecutionMode = ExecutionMode(s)
		}
		if b, ok := v["parallel"].(bool); ok {
			task.Parallel = b
		}
		return task, nil

	default:
		return nil, fmt.Errorf("unsupported task definition shape: %T", value)
	}
}

// normalizeName accepts ":" as an alternate namespace separator and
// converts it to ".".
func normalizeName(name string) string {
	return strings.ReplaceAll(name, ":", ".")
}

func splitName(full string) []string {
	if full == "" {
		return nil
	}
	return strings.Split(full, ".")
}

func joinName(parts []string) string {
	return strings.Join(parts, ".")
}

// Resolve implements the hierarchical name-to-task fallback.
func (r *Registry) Resolve(name string, args []string) (*Task, []string, error) {
	name = normalizeName(name)
	parts := splitName(name)

	// 1. Exact match.
	if t, ok := r.Tasks[name]; ok {
		return t, args, nil
	}

	// 2. <name>._default.
	if t, ok := r.Tasks[name+"._default"]; ok {
		return t, args, nil
	}

	// 3. Parent full-name, or <parent>._default, prepending the leaf.
	if len(parts) >= 2 {
		parent := joinName(parts[:len(parts)-1])
		leaf := parts[len(parts)-1]
		if t, ok := r.Tasks[parent]; ok {
			return t, append([]string{leaf}, args...), nil
		}
		if t, ok := r.Tasks[parent+"._default"]; ok {
			return t, append([]string{leaf}, args...), nil
		}
	}

	// 4. Grandparent full-name, prepending parent leaf + leaf.
	if len(parts) >= 3 {
		grandparent := joinName(parts[:len(parts)-2])
		if t, ok := r.Tasks[grandparent]; ok {
			prefix := []string{parts[len(parts)-2], parts[len(parts)-1]}
			return t, append(prefix, args...), nil
		}
	}

	return nil, nil, wrknverrors.TaskNotFound(name)
}

// ExportedTasks returns every task whose full name appears in the
// manifest's export.tasks list.
func (r *Registry) ExportedTasks(exportNames []string) []*Task {
	wanted := make(map[string]bool, len(exportNames))
	for _, n := range exportNames {
		wanted[normalizeName(n)] = true
	}
	out := make([]*Task, 0, len(wanted))
	for name, t := range r.Tasks {
		if wanted[name] {
			t.IsExported = true
			out = append(out, t)
		}
	}
	return out
}
