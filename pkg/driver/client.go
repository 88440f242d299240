package driver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
)

// State is the connection lifecycle state of the widget-tree session.
type State int32

const (
	// StateDisconnected means no session is active.
	StateDisconnected State = iota
	// StateDiscovering means an endpoint lookup is in progress.
	StateDiscovering
	// StateConnecting means the socket handshake is in progress.
	StateConnecting
	// StateConnected means calls can be issued.
	StateConnected
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Discoverer finds a runtime service endpoint URI.
type Discoverer interface {
	Discover(ctx context.Context) (string, error)
}

// Config configures the widget-tree client.
type Config struct {
	// ScreenshotDir is where screenshot captures are written.
	ScreenshotDir string
	// DialTimeout bounds the socket handshake. Zero means 10s.
	DialTimeout time.Duration
}

// Client is the widget-tree adapter: one persistent JSON-RPC session to
// the runtime service. Calls pipeline freely over the socket (correlation
// is per request id), so no lock is held during a round trip; only the
// id counter and the in-flight map are protected.
//
// The client never reconnects on its own: a call while disconnected fails
// with a not-connected error, because re-discovery may be required first
// and cannot happen transparently mid-call.
type Client struct {
	cfg Config

	mu        sync.Mutex // session lifecycle (conn, isolateID)
	conn      *websocket.Conn
	isolateID string
	uri       string

	state int32 // atomic State

	writeMu sync.Mutex // the socket allows one concurrent writer

	pendingMu sync.Mutex
	pending   map[string]pendingCall

	nextID int64 // atomic
}

// pendingCall is one in-flight request: the socket it was written to and
// the channel its waiter blocks on. Recording the socket lets teardown of
// one session fail only its own waiters.
type pendingCall struct {
	conn *websocket.Conn
	ch   chan callResult
}

// callResult resolves a waiter with either a decoded response or a typed
// failure injected by teardown.
type callResult struct {
	resp *rpcResponse
	err  *core.AutomationError
}

// driverSupported lists operations the widget tree can serve. Gestures the
// extension has no primitive for (double tap, long press, directional
// swipe) and focused-field erase stay on the accessibility layer.
var driverSupported = map[core.Operation]bool{
	core.OpTap:              true,
	core.OpEnterText:        true,
	core.OpAssertVisible:    true,
	core.OpAssertNotVisible: true,
	core.OpGetText:          true,
	core.OpDumpTree:         true,
	core.OpScreenshot:       true,
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = filepath.Join(os.TempDir(), "flutterctl", "screenshots")
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[string]pendingCall),
	}
}

// Kind implements core.Backend.
func (c *Client) Kind() core.BackendKind { return core.BackendWidgetTree }

// Supports implements core.Backend.
func (c *Client) Supports(op core.Operation) bool { return driverSupported[op] }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Client) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// URI returns the endpoint of the active session, "" when disconnected.
func (c *Client) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uri
}

// DiscoverAndConnect runs endpoint discovery and connects to the result.
func (c *Client) DiscoverAndConnect(ctx context.Context, d Discoverer) error {
	c.setState(StateDiscovering)
	uri, err := d.Discover(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	logger.Info("runtime service discovered at %s", uri)
	return c.Connect(ctx, uri)
}

// Connect opens the session: socket handshake, isolate lookup, and a check
// that the automation extension is loaded. Connecting while connected
// performs an implicit disconnect first. The URI's token path segment is
// preserved verbatim; a handshake the endpoint refuses for a missing or
// wrong token surfaces as an auth rejection, which needs re-discovery
// rather than a plain retry.
func (c *Client) Connect(ctx context.Context, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.disconnectLocked()
	}
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	wsURL := WSURL(uri)
	logger.Debug("dialing %s", wsURL)

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return core.ErrAuthRejected.
				WithMessage(fmt.Sprintf("endpoint rejected handshake with %d: check the token path segment in %q", resp.StatusCode, uri)).
				WithBackend(core.BackendWidgetTree)
		}
		return core.ErrProcess.
			WithMessage(fmt.Sprintf("cannot connect to %s", wsURL)).
			WithCause(err).
			WithBackend(core.BackendWidgetTree)
	}

	c.conn = conn
	c.uri = uri
	go c.readLoop(conn)

	if err := c.handshakeLocked(ctx, conn); err != nil {
		c.disconnectLocked()
		return err
	}

	c.setState(StateConnected)
	logger.Info("widget-tree session connected (isolate %s)", c.isolateID)
	return nil
}

// handshakeLocked finds the main isolate and verifies the automation
// extension is available on it. Runs with c.mu held, so the socket is
// passed in rather than read back through the lifecycle lock.
func (c *Client) handshakeLocked(ctx context.Context, conn *websocket.Conn) error {
	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	vm, err := c.rawCall(hsCtx, conn, "getVM", nil)
	if err != nil {
		return err
	}
	isolates, _ := vm["isolates"].([]interface{})
	if len(isolates) == 0 {
		return core.ErrProcess.
			WithMessage("runtime service reports no isolates").
			WithBackend(core.BackendWidgetTree)
	}
	c.isolateID = ""
	for _, raw := range isolates {
		iso, _ := raw.(map[string]interface{})
		id, _ := iso["id"].(string)
		name, _ := iso["name"].(string)
		if strings.Contains(strings.ToLower(name), "main") || len(isolates) == 1 {
			c.isolateID = id
			break
		}
	}
	if c.isolateID == "" {
		iso, _ := isolates[0].(map[string]interface{})
		c.isolateID, _ = iso["id"].(string)
	}

	info, err := c.rawCall(hsCtx, conn, "getIsolate", map[string]interface{}{"isolateId": c.isolateID})
	if err != nil {
		return err
	}
	extensions, _ := info["extensionRPCs"].([]interface{})
	for _, ext := range extensions {
		if ext == driverExtension {
			return nil
		}
	}
	return core.ErrProcess.
		WithMessage("automation extension not enabled on the target app").
		WithBackend(core.BackendWidgetTree)
}

// Disconnect tears the session down. Part of the guaranteed teardown path
// on process shutdown. Safe to call when already disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return nil
}

func (c *Client) disconnectLocked() {
	if conn := c.conn; conn != nil {
		// Resolve waiters before closing: the close wakes the read loop,
		// which would otherwise race to fail them as a connection loss.
		c.failPending(conn, core.ErrNotConnected.WithMessage("session closed").WithBackend(core.BackendWidgetTree))
		_ = conn.Close()
		c.conn = nil
	}
	c.uri = ""
	c.isolateID = ""
	c.setState(StateDisconnected)
}

// failPending resolves waiters on the given socket with err and removes
// them from the map. The error reaches the waiter as-is, so its taxonomy
// kind survives teardown. A nil conn fails every waiter.
func (c *Client) failPending(conn *websocket.Conn, err *core.AutomationError) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, p := range c.pending {
		if conn != nil && p.conn != conn {
			continue
		}
		select {
		case p.ch <- callResult{err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

// readLoop dispatches inbound messages to waiters by id. Unsolicited and
// unmatched messages are dropped; late replies to abandoned calls land
// here and are reconciled by discarding.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Fail this socket's waiters before touching the lifecycle
			// lock: Connect may be holding it while waiting on one of them.
			c.failPending(conn, core.ErrProcess.WithMessage("connection lost").WithBackend(core.BackendWidgetTree))
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.setState(StateDisconnected)
			}
			c.mu.Unlock()
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			logger.Debug("ignoring undecodable message: %v", err)
			continue
		}
		id := resp.id()
		if id == "" {
			// Service event or stream notification.
			continue
		}
		c.pendingMu.Lock()
		p, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if !ok {
			logger.Debug("discarding late response id=%s", id)
			continue
		}
		p.ch <- callResult{resp: &resp}
	}
}

// rawCall issues one correlated request over conn and waits for its reply
// or the context deadline. A deadline abandons the waiter; the eventual
// reply is discarded by the read loop. The socket comes in as a parameter
// so callers already holding the lifecycle lock can issue calls.
func (c *Client) rawCall(ctx context.Context, conn *websocket.Conn, method string, params map[string]interface{}) (map[string]interface{}, error) {
	if conn == nil {
		return nil, core.ErrNotConnected.WithBackend(core.BackendWidgetTree)
	}

	id := strconv.FormatInt(atomic.AddInt64(&c.nextID, 1), 10)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	ch := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[id] = pendingCall{conn: conn, ch: ch}
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, core.ErrProcess.
			WithMessage("socket write failed").
			WithCause(err).
			WithBackend(core.BackendWidgetTree)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return decodeResult(r.resp)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, core.ErrTimeout.
			WithMessage(fmt.Sprintf("%s: no response before deadline", method)).
			WithBackend(core.BackendWidgetTree)
	}
}

// driverCall wraps a command for the automation extension on the main
// isolate. The extension expects its timeout in microseconds.
func (c *Client) driverCall(ctx context.Context, command string, params map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	if c.State() != StateConnected {
		return nil, core.ErrNotConnected.WithBackend(core.BackendWidgetTree)
	}
	c.mu.Lock()
	conn := c.conn
	isolateID := c.isolateID
	c.mu.Unlock()

	merged := map[string]interface{}{
		"isolateId": isolateID,
		"command":   command,
		"timeout":   strconv.FormatInt(timeout.Microseconds(), 10),
	}
	for k, v := range params {
		merged[k] = v
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.rawCall(callCtx, conn, driverExtension, merged)
}

// Run implements core.Backend.
func (c *Client) Run(ctx context.Context, req *core.AutomationRequest) (*core.Payload, error) {
	if !c.Supports(req.Operation) {
		return nil, core.ErrValidation.WithMessage(
			fmt.Sprintf("widget tree does not support %q", req.Operation))
	}

	switch req.Operation {
	case core.OpTap:
		finder, err := encodeFinder(req.Finder)
		if err != nil {
			return nil, err
		}
		_, err = c.driverCall(ctx, "tap", finder, req.Timeout)
		return emptyPayload(err)

	case core.OpEnterText:
		if req.Finder != (core.Finder{}) {
			finder, err := encodeFinder(req.Finder)
			if err != nil {
				return nil, err
			}
			if _, err := c.driverCall(ctx, "tap", finder, req.Timeout); err != nil {
				return nil, err
			}
		}
		_, err := c.driverCall(ctx, "enter_text", map[string]interface{}{"text": req.Text}, req.Timeout)
		return emptyPayload(err)

	case core.OpAssertVisible:
		finder, err := encodeExistenceFinder(req.Finder)
		if err != nil {
			return nil, err
		}
		_, err = c.driverCall(ctx, "waitFor", finder, req.Timeout)
		return emptyPayload(err)

	case core.OpAssertNotVisible:
		finder, err := encodeExistenceFinder(req.Finder)
		if err != nil {
			return nil, err
		}
		_, err = c.driverCall(ctx, "waitForAbsent", finder, req.Timeout)
		return emptyPayload(err)

	case core.OpGetText:
		finder, err := encodeFinder(req.Finder)
		if err != nil {
			return nil, err
		}
		result, err := c.driverCall(ctx, "get_text", finder, req.Timeout)
		if err != nil {
			return nil, err
		}
		text, ok := result["response"].(string)
		if !ok {
			if text, ok = result["text"].(string); !ok {
				return nil, core.ErrParse.
					WithMessage("get_text response carries no text").
					WithBackend(core.BackendWidgetTree)
			}
		}
		return &core.Payload{Text: text}, nil

	case core.OpDumpTree:
		result, err := c.driverCall(ctx, "get_render_tree", nil, req.Timeout)
		if err != nil {
			return nil, err
		}
		tree, err := json.Marshal(result)
		if err != nil {
			return nil, core.ErrParse.WithMessage("unencodable tree snapshot").WithCause(err)
		}
		return &core.Payload{Tree: string(tree)}, nil

	case core.OpScreenshot:
		result, err := c.driverCall(ctx, "screenshot", nil, req.Timeout)
		if err != nil {
			return nil, err
		}
		return c.writeScreenshot(result)

	default:
		return nil, core.ErrValidation.WithMessage(
			fmt.Sprintf("widget tree does not support %q", req.Operation))
	}
}

func emptyPayload(err error) (*core.Payload, error) {
	if err != nil {
		return nil, err
	}
	return &core.Payload{}, nil
}

// writeScreenshot decodes the base64 capture and writes it to disk.
func (c *Client) writeScreenshot(result map[string]interface{}) (*core.Payload, error) {
	encoded, ok := result["screenshot"].(string)
	if !ok {
		return nil, core.ErrParse.
			WithMessage("screenshot response carries no image data").
			WithBackend(core.BackendWidgetTree)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, core.ErrParse.
			WithMessage("screenshot data is not valid base64").
			WithCause(err).
			WithBackend(core.BackendWidgetTree)
	}
	if err := os.MkdirAll(c.cfg.ScreenshotDir, 0o755); err != nil {
		return nil, core.ErrProcess.WithMessage("cannot create screenshot dir").WithCause(err)
	}
	path := filepath.Join(c.cfg.ScreenshotDir, fmt.Sprintf("screenshot_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, core.ErrProcess.WithMessage("cannot write screenshot").WithCause(err)
	}
	return &core.Payload{ScreenshotPath: path}, nil
}
