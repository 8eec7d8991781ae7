package mcp

import (
	"context"
	"encoding/json"
	"sync"
)

type handlerFunc func(params json.RawMessage) (any, error)

// fakeTransport answers calls from per-method handlers.
type fakeTransport struct {
	mu            sync.Mutex
	handlers      map[string]handlerFunc
	calls         []string
	params        []json.RawMessage
	notifications []string
	connected     bool
	connectErr    error
	closeCount    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]handlerFunc)}
}

// newServerTransport returns a fake that completes the handshake with the
// given capabilities.
func newServerTransport(caps Capabilities) *fakeTransport {
	f := newFakeTransport()
	f.handle("initialize", func(json.RawMessage) (any, error) {
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    caps,
			ServerInfo:      Implementation{Name: "fake", Version: "1.0"},
			Instructions:    "be nice",
		}, nil
	})
	return f
}

func (f *fakeTransport) handle(method string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	f.connected = false
	return nil
}

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.params = append(f.params, raw)
	h, ok := f.handlers[method]
	f.mu.Unlock()
	if !ok {
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: "method not found: " + method}
	}
	result, err := h(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (f *fakeTransport) Notify(ctx context.Context, method string, params any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, method)
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeTransport) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func strPtr(s string) *string { return &s }
