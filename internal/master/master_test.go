package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
	"github.com/cirrus-faas/cirrus/internal/infra/provision"
	"github.com/cirrus-faas/cirrus/internal/registry"
	"github.com/cirrus-faas/cirrus/internal/worker"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeCatalog struct {
	mu        sync.Mutex
	projects  map[string]domain.Project
	functions map[string][]domain.Function
	history   map[string][]domain.DeployEvent
}

func newFakeCatalog(projects ...string) *fakeCatalog {
	c := &fakeCatalog{
		projects:  make(map[string]domain.Project),
		functions: make(map[string][]domain.Function),
		history:   make(map[string][]domain.DeployEvent),
	}
	for _, p := range projects {
		c.projects[p] = domain.Project{Name: p}
	}
	return c
}

func (c *fakeCatalog) UpsertProject(p domain.Project) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects[p.Name] = p
	return nil
}

func (c *fakeCatalog) DeleteProject(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.projects[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrProjectNotFound, name)
	}
	delete(c.projects, name)
	delete(c.functions, name)
	return nil
}

func (c *fakeCatalog) GetProject(name string) (domain.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.projects[name]
	if !ok {
		return domain.Project{}, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, name)
	}
	return p, nil
}

func (c *fakeCatalog) ListProjects() ([]domain.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Project
	for _, p := range c.projects {
		out = append(out, p)
	}
	return out, nil
}

func (c *fakeCatalog) ReplaceProjectFunctions(project string, fns []domain.Function) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functions[project] = fns
	return nil
}

func (c *fakeCatalog) ListFunctions(project string) ([]domain.Function, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.functions[project], nil
}

func (c *fakeCatalog) RecordDeploy(project string, functionCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[project] = append(c.history[project], domain.DeployEvent{
		Project:       project,
		DeployedAt:    time.Now(),
		FunctionCount: functionCount,
	})
	return nil
}

func (c *fakeCatalog) DeployHistory(project string, limit int) ([]domain.DeployEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history[project], nil
}

// flakyFactory wraps a real factory and can be told to refuse spawns.
type flakyFactory struct {
	inner   registry.Factory
	mu      sync.Mutex
	refuse  bool
	spawned int
}

func (f *flakyFactory) Spawn(spec registry.ProcessSpec) (registry.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return nil, errors.New("spawn refused")
	}
	f.spawned++
	return f.inner.Spawn(spec)
}

func (f *flakyFactory) setRefuse(v bool) {
	f.mu.Lock()
	f.refuse = v
	f.mu.Unlock()
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	reg     *registry.Registry
	master  *Master
	pm      *ProjectManager
	catalog *fakeCatalog
	factory *flakyFactory
}

func newHarness(t *testing.T, projects ...string) *harness {
	t.Helper()
	local := &worker.LocalFactory{
		Config: func(spec registry.ProcessSpec) worker.Config {
			return worker.Config{
				ProjectName: spec.Project,
				ProjectDir:  t.TempDir(),
				Resolver:    worker.NewMockResolver(),
			}
		},
	}
	factory := &flakyFactory{inner: local}
	reg := registry.New(factory)
	catalog := newFakeCatalog(projects...)
	specFor := func(p string) registry.ProcessSpec { return registry.ProcessSpec{Project: p} }
	pm := NewProjectManager(reg, catalog, provision.NoopProvisioner{}, &worker.ExecResolver{}, t.TempDir(), specFor)

	cfg := Config{
		ReadyTimeout: 2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
	m := New(reg, cfg, pm, nil, specFor)
	t.Cleanup(func() { m.Stop(context.Background()) })
	return &harness{reg: reg, master: m, pm: pm, catalog: catalog, factory: factory}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestMaster_StartStop(t *testing.T) {
	h := newHarness(t, "demo")

	if got := h.master.State(); got != StateInitializing {
		t.Fatalf("initial state = %s, want %s", got, StateInitializing)
	}
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := h.master.State(); got != StateRunning {
		t.Fatalf("state after Start() = %s, want %s", got, StateRunning)
	}
	if !h.reg.CheckProcessStatus("demo") {
		t.Fatal("demo worker should be live after Start()")
	}

	h.master.Stop(context.Background())
	if got := h.master.State(); got != StateStopped {
		t.Fatalf("state after Stop() = %s, want %s", got, StateStopped)
	}
	if h.reg.CheckProcessStatus("demo") {
		t.Fatal("no worker should survive Stop()")
	}
}

func TestMaster_StartSkipsFailedProjects(t *testing.T) {
	h := newHarness(t, "demo")
	h.factory.setRefuse(true)

	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v (project failures must not be fatal)", err)
	}
	if got := h.master.State(); got != StateRunning {
		t.Fatalf("state = %s, want %s", got, StateRunning)
	}
}

// stubAPI is a scriptable APIServer for lifecycle tests.
type stubAPI struct {
	startErr  error
	ready     bool
	mu        sync.Mutex
	shutdowns int
}

func (s *stubAPI) Start() error { return s.startErr }
func (s *stubAPI) Ready() bool  { return s.ready }
func (s *stubAPI) Shutdown(context.Context) error {
	s.mu.Lock()
	s.shutdowns++
	s.mu.Unlock()
	return nil
}
func (s *stubAPI) shutdownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdowns
}

func TestMaster_StartAbortsWhenAPIStartFails(t *testing.T) {
	h := newHarness(t, "demo")
	api := &stubAPI{startErr: errors.New("port in use")}
	h.master.SetAPIServer(api)

	if err := h.master.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the api cannot start")
	}
	if got := h.master.State(); got != StateStopped {
		t.Fatalf("state = %s, want %s after aborted startup", got, StateStopped)
	}
}

func TestMaster_StartAbortsWhenAPINeverReady(t *testing.T) {
	h := newHarness(t, "demo")
	api := &stubAPI{} // starts fine, never reports ready
	h.master.SetAPIServer(api)
	h.master.cfg.APIReadyTimeout = 100 * time.Millisecond

	err := h.master.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ready") {
		t.Fatalf("Start() = %v, want readiness failure", err)
	}
	if got := h.master.State(); got != StateStopped {
		t.Fatalf("state = %s, want %s after aborted startup", got, StateStopped)
	}
	if api.shutdownCount() == 0 {
		t.Fatal("aborted startup should shut the api down")
	}
}

// ─── Invocation ─────────────────────────────────────────────────────────────

func TestExecuteFunction_Success(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	result, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("ExecuteFunction() error: %v", err)
	}
	if string(result) != `{"k":"v"}` {
		t.Fatalf("result = %s", result)
	}
}

func TestExecuteFunction_HandlerError(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	_, err := h.master.ExecuteFunction(context.Background(), "demo", "boom", nil)
	if err == nil || !strings.Contains(err.Error(), "demo/boom") {
		t.Fatalf("ExecuteFunction() = %v, want function error with context", err)
	}
}

func TestExecuteFunction_RestartsDeadWorker(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	h.reg.TerminateProcess("demo")
	if h.reg.CheckProcessStatus("demo") {
		t.Fatal("worker should be down")
	}

	result, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", json.RawMessage(`1`))
	if err != nil {
		t.Fatalf("ExecuteFunction() after worker death = %v, want transparent restart", err)
	}
	if string(result) != `1` {
		t.Fatalf("result = %s", result)
	}
}

func TestExecuteFunction_UnavailableWhenRestartFails(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	h.reg.TerminateProcess("demo")
	h.factory.setRefuse(true)

	_, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", nil)
	if !errors.Is(err, domain.ErrProjectUnavailable) {
		t.Fatalf("ExecuteFunction() = %v, want ErrProjectUnavailable", err)
	}
}

func TestExecuteFunction_SerializesPerProject(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Concurrent invocations against one project must pair responses
	// correctly despite the uncorrelated wire protocol.
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]int{"n": n})
			result, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", payload)
			if err != nil {
				errs <- err
				return
			}
			if string(result) != string(payload) {
				errs <- fmt.Errorf("invocation %d got %s", n, result)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExecuteFunction_TimedOutResponseNeverReachesNextCall(t *testing.T) {
	h := newHarness(t, "demo")
	h.master.cfg.InvokeTimeout = 50 * time.Millisecond
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The sleep outlives the invoke deadline, so its response arrives
	// after the caller has given up.
	_, err := h.master.ExecuteFunction(context.Background(), "demo", "sleep", json.RawMessage(`{"ms":400}`))
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("ExecuteFunction(sleep) = %v, want timeout", err)
	}

	// The next invocation must get its own result, not the sleep's.
	result, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", json.RawMessage(`{"who":"echo"}`))
	if err != nil {
		t.Fatalf("ExecuteFunction(echo) after timeout = %v", err)
	}
	if string(result) != `{"who":"echo"}` {
		t.Fatalf("result = %s, want the echo payload, not a leftover response", result)
	}
}

func TestExecuteFunction_CancelledCallDiscardsWorker(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.master.ExecuteFunction(ctx, "demo", "sleep", json.RawMessage(`{"ms":400}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ExecuteFunction() = %v, want context deadline", err)
	}

	result, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", json.RawMessage(`{"n":7}`))
	if err != nil {
		t.Fatalf("ExecuteFunction(echo) after cancel = %v", err)
	}
	if string(result) != `{"n":7}` {
		t.Fatalf("result = %s, want the echo payload, not a leftover response", result)
	}
}

func TestDeleteProject_DropsInvocationMutex(t *testing.T) {
	h := newHarness(t, "demo")
	if err := h.master.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := h.master.ExecuteFunction(context.Background(), "demo", "echo", nil); err != nil {
		t.Fatalf("ExecuteFunction() error: %v", err)
	}
	h.master.mu.Lock()
	_, cached := h.master.invokeMu["demo"]
	h.master.mu.Unlock()
	if !cached {
		t.Fatal("invocation mutex should be cached after a call")
	}

	if err := h.pm.DeleteProject("demo"); err != nil {
		t.Fatalf("DeleteProject() error: %v", err)
	}
	h.master.mu.Lock()
	_, cached = h.master.invokeMu["demo"]
	h.master.mu.Unlock()
	if cached {
		t.Fatal("deleting a project should drop its invocation mutex")
	}
}

// ─── Project manager ────────────────────────────────────────────────────────

func newPMHarness(t *testing.T) (*ProjectManager, *fakeCatalog, string, *registry.Registry) {
	t.Helper()
	projectsDir := t.TempDir()
	local := &worker.LocalFactory{
		Config: func(spec registry.ProcessSpec) worker.Config {
			return worker.Config{
				ProjectName: spec.Project,
				ProjectDir:  filepath.Join(projectsDir, spec.Project),
				Resolver:    worker.NewMockResolver(),
			}
		},
	}
	reg := registry.New(local)
	catalog := newFakeCatalog()
	specFor := func(p string) registry.ProcessSpec { return registry.ProcessSpec{Project: p} }
	pm := NewProjectManager(reg, catalog, provision.NoopProvisioner{}, &worker.ExecResolver{}, projectsDir, specFor)
	t.Cleanup(reg.CleanupResources)
	return pm, catalog, projectsDir, reg
}

func writeProject(t *testing.T, projectsDir, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(projectsDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for file, src := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(src), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
}

func TestDeployProject_ScansAndRecords(t *testing.T) {
	pm, catalog, projectsDir, _ := newPMHarness(t)
	writeProject(t, projectsDir, "imgproc", map[string]string{
		"resize.py": "def main(payload):\n    return payload\n",
		"rotate.py": "def handle(payload):\n    return payload\n",
		"functions.toml": "[functions.rotate]\n" +
			"entry = \"handle\"\n" +
			"description = \"Rotate an image.\"\n",
	})

	fns, err := pm.DeployProject(context.Background(), "imgproc")
	if err != nil {
		t.Fatalf("DeployProject() error: %v", err)
	}
	if len(fns) != 2 {
		t.Fatalf("DeployProject() found %d functions, want 2", len(fns))
	}

	byName := map[string]domain.Function{}
	for _, fn := range fns {
		byName[fn.Name] = fn
	}
	if byName["resize"].Entry != "main" {
		t.Errorf("resize entry = %q, want main", byName["resize"].Entry)
	}
	if byName["rotate"].Entry != "handle" {
		t.Errorf("rotate entry = %q, want manifest override", byName["rotate"].Entry)
	}
	if byName["rotate"].Description != "Rotate an image." {
		t.Errorf("rotate description = %q", byName["rotate"].Description)
	}

	if _, err := catalog.GetProject("imgproc"); err != nil {
		t.Fatalf("project should be in the catalog: %v", err)
	}
	hist, _ := catalog.DeployHistory("imgproc", 10)
	if len(hist) != 1 || hist[0].FunctionCount != 2 {
		t.Fatalf("deploy history = %+v", hist)
	}
}

func TestDeployProject_MissingDir(t *testing.T) {
	pm, _, _, _ := newPMHarness(t)
	if _, err := pm.DeployProject(context.Background(), "ghost"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("DeployProject() = %v, want ErrProjectNotFound", err)
	}
}

func TestDeleteProject_RemovesEverything(t *testing.T) {
	pm, catalog, projectsDir, reg := newPMHarness(t)
	writeProject(t, projectsDir, "imgproc", map[string]string{
		"resize.py": "def main(payload):\n    return payload\n",
	})
	if _, err := pm.DeployProject(context.Background(), "imgproc"); err != nil {
		t.Fatalf("DeployProject() error: %v", err)
	}

	if err := pm.DeleteProject("imgproc"); err != nil {
		t.Fatalf("DeleteProject() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(projectsDir, "imgproc")); !os.IsNotExist(err) {
		t.Fatal("project dir should be removed")
	}
	if _, err := catalog.GetProject("imgproc"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("catalog lookup = %v, want ErrProjectNotFound", err)
	}
	if reg.CheckProcessStatus("imgproc") {
		t.Fatal("worker should be stopped")
	}
}

func TestDeleteFunction_RefreshesProjection(t *testing.T) {
	pm, catalog, projectsDir, _ := newPMHarness(t)
	writeProject(t, projectsDir, "imgproc", map[string]string{
		"resize.py": "def main(payload):\n    return payload\n",
		"rotate.py": "def main(payload):\n    return payload\n",
	})
	if _, err := pm.DeployProject(context.Background(), "imgproc"); err != nil {
		t.Fatalf("DeployProject() error: %v", err)
	}

	if err := pm.DeleteFunction("imgproc", "rotate"); err != nil {
		t.Fatalf("DeleteFunction() error: %v", err)
	}
	fns, _ := catalog.ListFunctions("imgproc")
	if len(fns) != 1 || fns[0].Name != "resize" {
		t.Fatalf("remaining functions = %+v, want only resize", fns)
	}

	if err := pm.DeleteFunction("imgproc", "rotate"); !errors.Is(err, domain.ErrFunctionNotFound) {
		t.Fatalf("second delete = %v, want ErrFunctionNotFound", err)
	}
}

func TestLoadManifest_Malformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, manifestFile), []byte("not = [valid"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := loadManifest(dir); err == nil {
		t.Fatal("loadManifest() should reject a malformed file")
	}
}

func TestLoadManifest_MissingIsEmpty(t *testing.T) {
	m, err := loadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("loadManifest() error: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("manifest = %v, want empty", m)
	}
}
