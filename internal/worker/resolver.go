// Package worker implements the worker side of the function runtime: the
// command loop a spawned worker process runs, function discovery and loading,
// and the bounded per-project executor used for asynchronous dispatch.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// Handler executes one loaded function.
type Handler interface {
	Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Resolver discovers and loads the functions of a project directory.
// ExecResolver is the production implementation; tests use MockResolver.
type Resolver interface {
	// Discover scans the project directory and returns every function it
	// contains, in registered (not yet loaded) state.
	Discover(projectDir string) ([]domain.Function, error)
	// Load turns a discovered function into a callable handler.
	Load(projectDir string, fn domain.Function) (Handler, error)
}

// ─── ExecResolver ───────────────────────────────────────────────────────────

// runnerSnippet is handed to the project interpreter with -c. It imports the
// function module by path, reads the JSON payload from stdin, calls the entry
// point, and prints the JSON result to stdout.
const runnerSnippet = `import importlib.util, json, sys
spec = importlib.util.spec_from_file_location("fn", sys.argv[1])
mod = importlib.util.module_from_spec(spec)
spec.loader.exec_module(mod)
entry = getattr(mod, sys.argv[2])
payload = json.load(sys.stdin) if not sys.stdin.isatty() else None
print(json.dumps(entry(payload)))
`

// ExecResolver resolves functions as Python source files run through the
// project's provisioned interpreter. Files whose names start with "_" or
// "test_" are skipped.
type ExecResolver struct {
	// Interpreter is the absolute path of the project's Python binary.
	Interpreter string
	// InvokeTimeout bounds a single handler run. Zero means no deadline.
	InvokeTimeout time.Duration
}

func (r *ExecResolver) Discover(projectDir string) ([]domain.Function, error) {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return nil, fmt.Errorf("scan project dir: %w", err)
	}
	var fns []domain.Function
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".py") {
			continue
		}
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, "test_") {
			continue
		}
		fns = append(fns, domain.Function{
			Name:      strings.TrimSuffix(name, ".py"),
			FilePath:  filepath.Join(projectDir, name),
			Entry:     domain.DefaultEntry,
			Status:    domain.FunctionRegistered,
			UpdatedAt: time.Now().UTC(),
		})
	}
	return fns, nil
}

func (r *ExecResolver) Load(projectDir string, fn domain.Function) (Handler, error) {
	if _, err := os.Stat(fn.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrFunctionNotFound, fn.Name)
	}
	// Cheap textual check so a missing entry point fails at load time
	// instead of on the first invocation.
	src, err := os.ReadFile(fn.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fn.FilePath, err)
	}
	entry := fn.Entry
	if entry == "" {
		entry = domain.DefaultEntry
	}
	if !bytes.Contains(src, []byte("def "+entry)) {
		return nil, fmt.Errorf("%w: %s has no %q", domain.ErrNoEntryPoint, fn.Name, entry)
	}
	return &execHandler{
		interpreter: r.Interpreter,
		filePath:    fn.FilePath,
		entry:       entry,
		dir:         projectDir,
		timeout:     r.InvokeTimeout,
	}, nil
}

type execHandler struct {
	interpreter string
	filePath    string
	entry       string
	dir         string
	timeout     time.Duration
}

func (h *execHandler) Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, h.interpreter, "-c", runnerSnippet, h.filePath, h.entry)
	cmd.Dir = h.dir
	if payload == nil {
		payload = json.RawMessage("null")
	}
	cmd.Stdin = bytes.NewReader(payload)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("run %s: %s", h.entry, msg)
	}
	result := bytes.TrimSpace(out.Bytes())
	if len(result) == 0 {
		result = []byte("null")
	}
	if !json.Valid(result) {
		return nil, fmt.Errorf("run %s: non-JSON result", h.entry)
	}
	return json.RawMessage(result), nil
}
