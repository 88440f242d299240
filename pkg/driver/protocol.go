// Package driver talks to a running application's widget tree through the
// runtime service: a JSON-RPC protocol over one persistent WebSocket, with
// request/response correlation by id.
package driver

import (
	"encoding/json"
	"strings"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// driverExtension is the RPC method exposed by the app-side automation
// extension. Its presence on the main isolate is verified at connect time.
const driverExtension = "ext.flutter.driver"

// rpcRequest is one outbound JSON-RPC message. Ids are strictly increasing
// integers rendered as strings, echoed verbatim by the remote endpoint.
type rpcRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// rpcResponse is one inbound message. Messages without an id (service
// events, stream notifications) are unsolicited and ignored.
type rpcResponse struct {
	ID     json.RawMessage        `json:"id"`
	Result map[string]interface{} `json:"result"`
	Error  *rpcError              `json:"error"`
}

type rpcError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

// id returns the response id as a plain string, or "" when absent.
func (r *rpcResponse) id() string {
	if len(r.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.ID))
}

// decodeResult extracts the driver-level outcome from a response. The
// extension reports its own failures inside result rather than as JSON-RPC
// errors, so both layers are checked.
func decodeResult(resp *rpcResponse) (map[string]interface{}, error) {
	if resp.Error != nil {
		msg := resp.Error.Message
		if detail, ok := resp.Error.Data["details"].(string); ok && detail != "" {
			msg = msg + ": " + detail
		}
		return nil, mapDriverError(msg)
	}
	if isErr, _ := resp.Result["isError"].(bool); isErr {
		msg, _ := resp.Result["response"].(string)
		if msg == "" {
			return nil, core.ErrParse.
				WithMessage("driver error without a response message").
				WithBackend(core.BackendWidgetTree)
		}
		return nil, mapDriverError(msg)
	}
	return resp.Result, nil
}

// mapDriverError folds the extension's free-text failure messages onto the
// closed error taxonomy. An ambiguous match is kept distinct from
// not-found: the engine must never silently pick one of several matches.
func mapDriverError(msg string) *core.AutomationError {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "too many elements"),
		strings.Contains(lower, "matched more than one"):
		return core.ErrAmbiguousMatch.WithMessage(msg).WithBackend(core.BackendWidgetTree)
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"):
		return core.ErrTimeout.WithMessage(msg).WithBackend(core.BackendWidgetTree)
	case strings.Contains(lower, "no matching"),
		strings.Contains(lower, "was not found"),
		strings.Contains(lower, "found nothing"),
		strings.Contains(lower, "zero widgets"):
		return core.ErrElementNotFound.WithMessage(msg).WithBackend(core.BackendWidgetTree)
	default:
		return core.ErrProcess.WithMessage(msg).WithBackend(core.BackendWidgetTree)
	}
}

// WSURL converts a discovered runtime service URI to its WebSocket form.
// The auth-token path segment is preserved verbatim: dropping it makes the
// remote endpoint reject the handshake.
func WSURL(uri string) string {
	ws := strings.Replace(uri, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	if !strings.HasSuffix(ws, "/") {
		ws += "/"
	}
	return ws + "ws"
}
