package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	server, tool, status string
	attempts             int
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (o *recordingObserver) ObserveMCPCall(server, tool, status string, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, recordedCall{server, tool, status, attempts})
}

func toolServer(tools ...Tool) *fakeTransport {
	f := newServerTransport(Capabilities{Tools: &ListChangedCapability{}})
	f.handle("tools/list", func(json.RawMessage) (any, error) {
		return ListToolsResult{Tools: tools}, nil
	})
	return f
}

func newTestRegistry(t *testing.T, transports map[string]*fakeTransport, configs []*ServerConfig, opts RegistryOptions) *Registry {
	t.Helper()
	opts.NewTransport = func(cfg *ServerConfig, _ *slog.Logger) (Transport, error) {
		f, ok := transports[cfg.ID]
		if !ok {
			return nil, errors.New("no transport for " + cfg.ID)
		}
		return f, nil
	}
	r := NewRegistry(configs, opts)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func stdioConfig(id string) *ServerConfig {
	return &ServerConfig{ID: id, Command: "srv-" + id, RetryDelay: time.Millisecond}
}

func TestRegistryFirstServerWinsCollision(t *testing.T) {
	first := toolServer(Tool{Name: "search", Description: "first"}, Tool{Name: "a"})
	second := toolServer(Tool{Name: "search", Description: "second"}, Tool{Name: "b"})
	first.handle("tools/call", func(json.RawMessage) (any, error) {
		return ToolCallResult{Content: []Content{{Type: "text", Text: "from first"}}}, nil
	})

	r := newTestRegistry(t,
		map[string]*fakeTransport{"one": first, "two": second},
		[]*ServerConfig{stdioConfig("one"), stdioConfig("two")},
		RegistryOptions{})

	tools := r.Tools()
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Server+"/"+tool.Name)
	}
	want := []string{"one/search", "one/a", "two/b"}
	if len(names) != len(want) {
		t.Fatalf("tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tools[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	result, err := r.CallTool(context.Background(), "search", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.Content[0].Text != "from first" {
		t.Errorf("routed to wrong server: %+v", result)
	}
	if second.callCount("tools/call") != 0 {
		t.Error("second server should not be called")
	}
}

func TestRegistryAllowList(t *testing.T) {
	srv := toolServer(Tool{Name: "read"}, Tool{Name: "write"}, Tool{Name: "delete"})
	cfg := stdioConfig("fs")
	cfg.AllowedTools = []string{"read", "write"}

	r := newTestRegistry(t, map[string]*fakeTransport{"fs": srv}, []*ServerConfig{cfg}, RegistryOptions{})

	if len(r.Tools()) != 2 {
		t.Errorf("tools = %v, want 2", r.Tools())
	}
	if _, _, ok := r.FindTool("delete"); ok {
		t.Error("filtered tool should not be found")
	}
	if _, err := r.CallTool(context.Background(), "delete", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("CallTool() error = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryExcludesFailedServers(t *testing.T) {
	good := toolServer(Tool{Name: "ok"})
	bad := newFakeTransport()
	bad.handle("initialize", func(json.RawMessage) (any, error) {
		return nil, errors.New("handshake exploded")
	})

	var mu sync.Mutex
	var initialized []string
	r := newTestRegistry(t,
		map[string]*fakeTransport{"good": good, "bad": bad},
		[]*ServerConfig{stdioConfig("bad"), stdioConfig("good"), stdioConfig("missing")},
		RegistryOptions{OnServerInitialized: func(cfg *ServerConfig) {
			mu.Lock()
			defer mu.Unlock()
			initialized = append(initialized, cfg.ID)
		}})

	if len(r.Tools()) != 1 {
		t.Errorf("tools = %v, want only the good server's", r.Tools())
	}
	if bad.closes() != 1 {
		t.Errorf("failed server closed %d times, want 1", bad.closes())
	}
	if len(initialized) != 1 || initialized[0] != "good" {
		t.Errorf("initialized = %v, want [good]", initialized)
	}
	if _, err := r.Session("bad"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("Session(bad) error = %v, want ErrServerNotFound", err)
	}
	if len(r.Sessions()) != 1 {
		t.Errorf("Sessions() = %d, want 1", len(r.Sessions()))
	}

	status := r.Status()
	if len(status) != 3 {
		t.Fatalf("Status() len = %d", len(status))
	}
	if status[0].ID != "bad" || status[0].Ready || status[0].Error == "" {
		t.Errorf("bad status = %+v", status[0])
	}
	if status[1].ID != "good" || !status[1].Ready || status[1].Tools != 1 {
		t.Errorf("good status = %+v", status[1])
	}
	if status[2].Error == "" {
		t.Errorf("missing status = %+v", status[2])
	}
}

func TestRegistrySkipsDisabledAndRejectsDuplicates(t *testing.T) {
	cfg := stdioConfig("off")
	cfg.Disabled = true
	r := newTestRegistry(t, map[string]*fakeTransport{}, []*ServerConfig{cfg}, RegistryOptions{})
	if st := r.Status(); len(st) != 1 || !st[0].Disabled || st[0].Error != "" {
		t.Errorf("status = %+v", st)
	}

	dup := NewRegistry([]*ServerConfig{stdioConfig("x"), stdioConfig("x")}, RegistryOptions{})
	if err := dup.Start(context.Background()); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestRegistryCallToolUsesServerRetries(t *testing.T) {
	srv := toolServer(Tool{Name: "flaky"})
	srv.handle("tools/call", func(json.RawMessage) (any, error) {
		return nil, errors.New("dropped stream")
	})
	cfg := stdioConfig("s")
	cfg.Retries = 2
	observer := &recordingObserver{}

	r := newTestRegistry(t, map[string]*fakeTransport{"s": srv}, []*ServerConfig{cfg}, RegistryOptions{Observer: observer})

	_, err := r.CallTool(context.Background(), "flaky", nil)
	var callErr *ToolCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("CallTool() error = %v, want ToolCallError", err)
	}
	if callErr.Server != "s" || callErr.Tool != "flaky" {
		t.Errorf("ToolCallError = %+v", callErr)
	}
	if got := srv.callCount("tools/call"); got != 2 {
		t.Errorf("tools/call called %d times, want 2", got)
	}
	if len(observer.calls) != 1 || observer.calls[0].status != "error" || observer.calls[0].attempts != 2 {
		t.Errorf("observed = %+v", observer.calls)
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	srv := toolServer(Tool{Name: "search", InputSchema: schema})
	srv.handle("tools/call", func(json.RawMessage) (any, error) {
		return ToolCallResult{Content: []Content{{Type: "text", Text: "hit"}}}, nil
	})
	observer := &recordingObserver{}

	r := newTestRegistry(t, map[string]*fakeTransport{"s": srv}, []*ServerConfig{stdioConfig("s")},
		RegistryOptions{ValidateArguments: true, Observer: observer})

	if _, err := r.CallTool(context.Background(), "search", json.RawMessage(`{}`)); err == nil {
		t.Error("expected validation error for missing q")
	}
	if srv.callCount("tools/call") != 0 {
		t.Error("invalid call reached the server")
	}
	if _, err := r.CallTool(context.Background(), "search", json.RawMessage(`{"q":"go"}`)); err != nil {
		t.Errorf("CallTool() error = %v", err)
	}

	var statuses []string
	for _, c := range observer.calls {
		statuses = append(statuses, c.status)
	}
	sort.Strings(statuses)
	if len(statuses) != 2 || statuses[0] != "invalid" || statuses[1] != "success" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestRegistryShutdown(t *testing.T) {
	a := toolServer(Tool{Name: "a"})
	b := toolServer(Tool{Name: "b"})
	r := NewRegistry([]*ServerConfig{stdioConfig("a"), stdioConfig("b")}, RegistryOptions{
		NewTransport: func(cfg *ServerConfig, _ *slog.Logger) (Transport, error) {
			if cfg.ID == "a" {
				return a, nil
			}
			return b, nil
		},
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if a.closes() != 1 || b.closes() != 1 {
		t.Errorf("closes = %d, %d; want 1, 1", a.closes(), b.closes())
	}
	if len(r.Tools()) != 0 || len(r.Sessions()) != 0 {
		t.Error("registry not emptied by Shutdown")
	}
}
