package executor

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/stagehand-ci/stagehand/fault"
)

// Invocation is the runtime context handed to a built-in action.
type Invocation struct {
	// Args are the step's `with:` arguments, already template-resolved.
	Args map[string]string

	// WorkDir is the workspace the pipeline operates in.
	WorkDir string

	// ArtifactDir is where the archive action collects files.
	ArtifactDir string

	// Env is the merged executor+step environment.
	Env map[string]string

	// Deploy is the injected deployment collaborator, nil if none.
	Deploy DeployController

	// Output, when set, receives action output as it is produced.
	Output io.Writer

	// Logger receives action diagnostics.
	Logger *slog.Logger
}

// Arg returns the named argument, or "" when absent.
func (inv Invocation) Arg(name string) string {
	return inv.Args[name]
}

// Action is a built-in step implementation. A returned error marks the step
// Failed; wrap with fault.CodeExecutorFault for errors that mean the action
// could not be attempted at all.
type Action func(ctx context.Context, inv Invocation) (output string, err error)

// Registry resolves built-in action names. It is populated at construction
// and read-only afterwards, so it may be shared by concurrent runs.
type Registry struct {
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// DefaultRegistry returns a registry with the standard actions: echo,
// checkout, archive, and deploy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("echo", echoAction)
	r.Register("checkout", checkoutAction)
	r.Register("archive", archiveAction)
	r.Register("deploy", deployAction)
	return r
}

// Register binds a name to an action, replacing any existing binding.
func (r *Registry) Register(name string, action Action) {
	r.actions[name] = action
}

// Resolve looks up an action by name.
func (r *Registry) Resolve(name string) (Action, bool) {
	action, ok := r.actions[name]
	return action, ok
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeploymentSpec is the desired state handed to the deploy collaborator:
// which process should be running, how to start it, and where its output
// goes. Process lifecycle management itself stays outside the orchestrator.
type DeploymentSpec struct {
	Process      string
	StartCommand string
	LogPath      string
}

// DeployController applies a desired deployment state. Implementations live
// outside this module; the deploy built-in only forwards the spec.
type DeployController interface {
	Apply(ctx context.Context, spec DeploymentSpec) error
}

// echoAction writes its message argument to the step output.
func echoAction(_ context.Context, inv Invocation) (string, error) {
	msg, ok := inv.Args["message"]
	if !ok {
		return "", fault.New(fault.CodeExecutionFailed, "echo: message argument is required")
	}
	line := msg + "\n"
	if inv.Output != nil {
		fmt.Fprint(inv.Output, line)
	}
	return line, nil
}

// archiveAction copies workspace files matching the `paths` glob(s) into the
// artifact directory, recording each file's detected content type. Matching
// nothing is a failure, mirroring how artifact collection is normally
// expected to produce something.
func archiveAction(_ context.Context, inv Invocation) (string, error) {
	raw := inv.Arg("paths")
	if raw == "" {
		return "", fault.New(fault.CodeExecutionFailed, "archive: paths argument is required")
	}

	var matches []string
	fsys := os.DirFS(inv.WorkDir)
	for _, pattern := range splitList(raw) {
		found, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return "", fault.Wrap(err, fault.CodeExecutionFailed, "archive: bad pattern %q", pattern)
		}
		matches = append(matches, found...)
	}
	sort.Strings(matches)
	matches = dedupe(matches)

	if len(matches) == 0 {
		return "", fault.New(fault.CodeExecutionFailed, "archive: no files matched %q", raw)
	}

	var out strings.Builder
	for _, rel := range matches {
		src := filepath.Join(inv.WorkDir, filepath.FromSlash(rel))
		dst := filepath.Join(inv.ArtifactDir, filepath.FromSlash(rel))
		if err := copyFile(src, dst); err != nil {
			return out.String(), fault.Wrap(err, fault.CodeExecutionFailed, "archive: copying %s", rel)
		}
		mime, err := mimetype.DetectFile(src)
		kind := "application/octet-stream"
		if err == nil {
			kind = mime.String()
		}
		fmt.Fprintf(&out, "archived %s (%s)\n", rel, kind)
	}
	if inv.Output != nil {
		fmt.Fprint(inv.Output, out.String())
	}
	return out.String(), nil
}

// deployAction forwards desired state to the injected DeployController.
func deployAction(ctx context.Context, inv Invocation) (string, error) {
	if inv.Deploy == nil {
		return "", fault.New(fault.CodeExecutorFault, "deploy: no deployment controller configured")
	}
	spec := DeploymentSpec{
		Process:      inv.Arg("process"),
		StartCommand: inv.Arg("start"),
		LogPath:      inv.Arg("log"),
	}
	if spec.Process == "" || spec.StartCommand == "" {
		return "", fault.New(fault.CodeExecutionFailed, "deploy: process and start arguments are required")
	}
	if err := inv.Deploy.Apply(ctx, spec); err != nil {
		return "", fault.Wrap(err, fault.CodeExecutionFailed, "deploy: applying desired state for %s", spec.Process)
	}
	line := fmt.Sprintf("deployed %s\n", spec.Process)
	if inv.Output != nil {
		fmt.Fprint(inv.Output, line)
	}
	return line, nil
}

// splitList splits a comma-separated argument list, trimming whitespace.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for _, s := range sorted {
		if len(out) == 0 || s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	mode := info.Mode() & fs.ModePerm

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
