package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

func (f HandlerFunc) Invoke(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// MockResolver serves a fixed in-memory function table. Tests use it to run
// the full worker loop without touching the filesystem or an interpreter.
type MockResolver struct {
	// Handlers maps function name to behavior. Nil means the default set.
	Handlers map[string]Handler
	// DiscoverErr, when set, fails discovery to simulate a broken project.
	DiscoverErr error
	// LoadErr maps function names whose load should fail.
	LoadErr map[string]error
}

// NewMockResolver returns a resolver with the default function set:
// echo returns its payload, boom always fails, sleep waits for the
// duration given in {"ms": n} then echoes.
func NewMockResolver() *MockResolver {
	return &MockResolver{Handlers: map[string]Handler{
		"echo": HandlerFunc(func(_ context.Context, p json.RawMessage) (json.RawMessage, error) {
			if p == nil {
				return json.RawMessage("null"), nil
			}
			return p, nil
		}),
		"boom": HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}),
		"sleep": HandlerFunc(func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
			var req struct {
				Ms int `json:"ms"`
			}
			_ = json.Unmarshal(p, &req)
			select {
			case <-time.After(time.Duration(req.Ms) * time.Millisecond):
				return p, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	}}
}

func (m *MockResolver) Discover(string) ([]domain.Function, error) {
	if m.DiscoverErr != nil {
		return nil, m.DiscoverErr
	}
	fns := make([]domain.Function, 0, len(m.Handlers))
	for name := range m.Handlers {
		fns = append(fns, domain.Function{
			Name:   name,
			Entry:  domain.DefaultEntry,
			Status: domain.FunctionRegistered,
		})
	}
	return fns, nil
}

func (m *MockResolver) Load(_ string, fn domain.Function) (Handler, error) {
	if err, ok := m.LoadErr[fn.Name]; ok {
		return nil, err
	}
	h, ok := m.Handlers[fn.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFunctionNotFound, fn.Name)
	}
	return h, nil
}
