package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
	"github.com/cirrus-faas/cirrus/internal/infra/provision"
	"github.com/cirrus-faas/cirrus/internal/infra/taskstore"
	"github.com/cirrus-faas/cirrus/internal/master"
	"github.com/cirrus-faas/cirrus/internal/registry"
	"github.com/cirrus-faas/cirrus/internal/task"
	"github.com/cirrus-faas/cirrus/internal/worker"
)

// fakeCatalog is the minimal in-memory catalog the API stack needs.
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
		c.projects[p] = domain.Project{Name: p, DeployedAt: time.Now()}
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

func (c *fakeCatalog) RecordDeploy(project string, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[project] = append(c.history[project], domain.DeployEvent{Project: project, FunctionCount: n})
	return nil
}

func (c *fakeCatalog) DeployHistory(project string, limit int) ([]domain.DeployEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history[project], nil
}

func newTestServer(t *testing.T) *httptest.Server {
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
	reg := registry.New(local)
	catalog := newFakeCatalog("demo")
	specFor := func(p string) registry.ProcessSpec { return registry.ProcessSpec{Project: p} }
	pm := master.NewProjectManager(reg, catalog, provision.NoopProvisioner{}, &worker.ExecResolver{}, t.TempDir(), specFor)

	m := master.New(reg, master.Config{
		ReadyTimeout: 2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}, pm, nil, specFor)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("master.Start() error: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })

	store, err := taskstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("taskstore.New() error: %v", err)
	}
	tm := task.NewManager(reg, store, m, task.DefaultConfig())

	srv := NewServer("127.0.0.1:0", m, pm, tm)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ─── Endpoints ──────────────────────────────────────────────────────────────

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status error: %v", err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["state"] != master.StateRunning {
		t.Fatalf("state = %q, want running", body["state"])
	}
}

func TestHealthEndpoint_NoChecker(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInvoke_Success(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(
		ts.URL+"/api/v1/projects/demo/functions/echo/invoke",
		"application/json",
		strings.NewReader(`{"msg":"hi"}`),
	)
	if err != nil {
		t.Fatalf("POST invoke error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Result json.RawMessage `json:"result"`
	}
	decodeBody(t, resp, &body)
	if string(body.Result) != `{"msg":"hi"}` {
		t.Fatalf("result = %s", body.Result)
	}
}

func TestInvoke_InvalidPayload(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(
		ts.URL+"/api/v1/projects/demo/functions/echo/invoke",
		"application/json",
		strings.NewReader(`{not json`),
	)
	if err != nil {
		t.Fatalf("POST invoke error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInvoke_HandlerErrorIsServerError(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/projects/demo/functions/boom/invoke", "application/json", nil)
	if err != nil {
		t.Fatalf("POST invoke error: %v", err)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(body.Error.Message, "demo/boom") {
		t.Fatalf("error message = %q", body.Error.Message)
	}
}

func TestListFunctions_UnknownProject(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/projects/ghost/functions")
	if err != nil {
		t.Fatalf("GET functions error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// ─── Tasks over HTTP ────────────────────────────────────────────────────────

func postTask(t *testing.T, ts *httptest.Server, project, function, payload string) *http.Response {
	t.Helper()
	body := map[string]json.RawMessage{
		"project":  json.RawMessage(`"` + project + `"`),
		"function": json.RawMessage(`"` + function + `"`),
	}
	if payload != "" {
		body["payload"] = json.RawMessage(payload)
	}
	data, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /tasks error: %v", err)
	}
	return resp
}

func TestTasks_CreateGetAndDedup(t *testing.T) {
	ts := newTestServer(t)

	// A slow task so the duplicate lands while the first is active.
	resp := postTask(t, ts, "demo", "sleep", `{"ms":400}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202", resp.StatusCode)
	}
	var created struct {
		Task     domain.Task `json:"task"`
		Existing bool        `json:"existing"`
	}
	decodeBody(t, resp, &created)
	if created.Existing || created.Task.TaskID == "" {
		t.Fatalf("created = %+v", created)
	}

	dup := postTask(t, ts, "demo", "sleep", `{"ms":400}`)
	if dup.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", dup.StatusCode)
	}
	var dupBody struct {
		Task     domain.Task `json:"task"`
		Existing bool        `json:"existing"`
	}
	decodeBody(t, dup, &dupBody)
	if !dupBody.Existing || dupBody.Task.TaskID != created.Task.TaskID {
		t.Fatalf("duplicate = %+v", dupBody)
	}

	// Poll until the task completes.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/v1/tasks/" + created.Task.TaskID)
		if err != nil {
			t.Fatalf("GET task error: %v", err)
		}
		var got domain.Task
		decodeBody(t, resp, &got)
		if got.Status == domain.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stuck in %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTasks_CreateValidation(t *testing.T) {
	ts := newTestServer(t)
	resp := postTask(t, ts, "demo", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTasks_GetMissing(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/tasks/demo_echo_missing")
	if err != nil {
		t.Fatalf("GET task error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTasks_CancelTerminalConflicts(t *testing.T) {
	ts := newTestServer(t)

	resp := postTask(t, ts, "demo", "echo", `1`)
	var created struct {
		Task domain.Task `json:"task"`
	}
	decodeBody(t, resp, &created)

	// Wait for completion, then cancel.
	deadline := time.Now().Add(3 * time.Second)
	for {
		r, err := http.Get(ts.URL + "/api/v1/tasks/" + created.Task.TaskID)
		if err != nil {
			t.Fatalf("GET task error: %v", err)
		}
		var got domain.Task
		decodeBody(t, r, &got)
		if got.Status == domain.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stuck in %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/tasks/"+created.Task.TaskID, nil)
	cancelResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE task error: %v", err)
	}
	cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel status = %d, want 409", cancelResp.StatusCode)
	}
}
