package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SessionHeader carries the server-assigned session id.
const SessionHeader = "Mcp-Session-Id"

// StreamableHTTPTransport implements the streamable HTTP transport: every
// message is POSTed to one endpoint and the reply arrives either as a JSON
// body or as a server-sent event stream.
type StreamableHTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	sessionMu sync.RWMutex
	sessionID string

	nextID    atomic.Int64
	connected atomic.Bool
	closeOnce sync.Once
}

// NewStreamableHTTPTransport creates a new streamable HTTP transport.
func NewStreamableHTTPTransport(cfg *ServerConfig, logger *slog.Logger) *StreamableHTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &StreamableHTTPTransport{
		config: cfg,
		logger: logger.With("mcp_server", cfg.ID, "transport", "streamable_http"),
		client: &http.Client{Timeout: timeout},
	}
}

// Connect marks the transport usable. The HTTP exchange itself starts with
// the first Call.
func (t *StreamableHTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for streamable HTTP transport")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.connected.Store(true)
	t.logger.Info("HTTP transport ready", "url", t.config.URL)
	return nil
}

// SessionID returns the session id assigned by the server, or "" before
// the server assigned one.
func (t *StreamableHTTPTransport) SessionID() string {
	t.sessionMu.RLock()
	defer t.sessionMu.RUnlock()
	return t.sessionID
}

// Close terminates the server session with a DELETE when one was assigned.
func (t *StreamableHTTPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		id := t.SessionID()
		if id == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, t.config.URL, nil)
		if reqErr != nil {
			err = reqErr
			return
		}
		t.setHeaders(req)
		resp, doErr := t.client.Do(req)
		if doErr != nil {
			t.logger.Debug("session termination failed", "error", doErr)
			return
		}
		resp.Body.Close()
		// 405 means the server does not support explicit termination.
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
			t.logger.Debug("session termination rejected", "status", resp.StatusCode)
		}
	})
	return err
}

// Call sends a request and waits for a response.
func (t *StreamableHTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrTransportClosed
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	var err error
	if req.Params, err = marshalParams(params); err != nil {
		return nil, err
	}

	resp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp *JSONRPCResponse
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		rpcResp, err = t.readEventStream(resp.Body, id)
	} else {
		rpcResp = &JSONRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpcResp)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify sends a notification (no response expected).
func (t *StreamableHTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrTransportClosed
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	var err error
	if notif.Params, err = marshalParams(params); err != nil {
		return err
	}

	resp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: HTTP %d", method, resp.StatusCode)
	}
	return nil
}

// Connected returns whether the transport is connected.
func (t *StreamableHTTPTransport) Connected() bool {
	return t.connected.Load()
}

func (t *StreamableHTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if id := resp.Header.Get(SessionHeader); id != "" {
		t.sessionMu.Lock()
		if t.sessionID != id {
			t.logger.Debug("session assigned", "session_id", id)
		}
		t.sessionID = id
		t.sessionMu.Unlock()
	}
	return resp, nil
}

func (t *StreamableHTTPTransport) setHeaders(req *http.Request) {
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if id := t.SessionID(); id != "" {
		req.Header.Set(SessionHeader, id)
	}
}

// readEventStream consumes SSE events until the response for id arrives.
// Other messages on the stream are logged and skipped.
func (t *StreamableHTTPTransport) readEventStream(body io.Reader, id int64) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var data strings.Builder
	flush := func() (*JSONRPCResponse, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var msg struct {
			JSONRPCResponse
			Method string `json:"method"`
		}
		if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
			t.logger.Debug("ignoring malformed event", "error", err)
			return nil, false
		}
		if msg.Method != "" {
			t.logger.Debug("server message", "method", msg.Method)
			return nil, false
		}
		if got, ok := responseID(msg.ID); !ok || got != id {
			return nil, false
		}
		resp := msg.JSONRPCResponse
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("event stream ended without response %d", id)
}
