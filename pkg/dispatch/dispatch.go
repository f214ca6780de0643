// Package dispatch implements the RPC dispatch contract the request
// executor calls out through: a JSON-RPC 2.0 envelope over
// HTTP, plus an in-memory mock used by tests and the flowctl "run" command's
// dry-run mode. Grounded on the teacher's pkg/stdlib http.* connectors,
// which use fasthttp (pulled in transitively through gofiber/fiber) as the
// wire client rather than net/http.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Request is the JSON-RPC 2.0 envelope the request executor builds.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  types.Value `json:"params"`
	ID      int64       `json:"id"`
}

// Func is the caller-supplied dispatch contract: invoke method with params
// and return its result, or an error. A *types.JsonRpcRequestError returned
// here propagates unwrapped; any other error is wrapped in ExecutionError by
// the request executor.
type Func func(ctx context.Context, req Request) (types.Value, error)

// rpcEnvelope is the wire shape of a JSON-RPC 2.0 request.
type rpcEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// rpcReply is the wire shape of a JSON-RPC 2.0 response.
type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int64           `json:"id"`
}

type rpcError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HTTPClient dispatches requests as JSON-RPC 2.0 POSTs against a single
// endpoint, using fasthttp for the transport.
type HTTPClient struct {
	Endpoint string
	Client   *fasthttp.Client
	Timeout  time.Duration
}

// NewHTTPClient creates a client posting JSON-RPC envelopes to endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		Endpoint: endpoint,
		Client:   &fasthttp.Client{Name: "flowengine-dispatch"},
		Timeout:  30 * time.Second,
	}
}

// Dispatch implements Func: POSTs the envelope and decodes the reply. An
// error-shaped reply is surfaced as *types.JsonRpcRequestError.
func (c *HTTPClient) Dispatch(ctx context.Context, req Request) (types.Value, error) {
	body, err := json.Marshal(rpcEnvelope{
		JSONRPC: req.JSONRPC,
		Method:  req.Method,
		Params:  req.Params.ToGoValue(),
		ID:      req.ID,
	})
	if err != nil {
		return types.Null, fmt.Errorf("dispatch: encoding request: %w", err)
	}

	httpReq := fasthttp.AcquireRequest()
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(httpReq)
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(c.Endpoint)
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.SetContentType("application/json")
	httpReq.SetBody(body)

	timeout := c.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := c.Client.DoTimeout(httpReq, httpResp, timeout); err != nil {
		return types.Null, fmt.Errorf("dispatch: %w", err)
	}

	var reply rpcReply
	if err := json.Unmarshal(httpResp.Body(), &reply); err != nil {
		return types.Null, fmt.Errorf("dispatch: decoding reply: %w", err)
	}
	if reply.Error != nil {
		var data types.Value = types.Null
		if len(reply.Error.Data) > 0 {
			var raw interface{}
			if err := json.Unmarshal(reply.Error.Data, &raw); err == nil {
				data = types.ValueFromJSON(raw)
			}
		}
		return types.Null, types.NewJsonRpcRequestError(reply.Error.Code, reply.Error.Message, data)
	}
	var raw interface{}
	if len(reply.Result) > 0 {
		if err := json.Unmarshal(reply.Result, &raw); err != nil {
			return types.Null, fmt.Errorf("dispatch: decoding result: %w", err)
		}
	}
	return types.ValueFromJSON(raw), nil
}

// Handler answers one method for the Mock dispatcher.
type Handler func(ctx context.Context, params types.Value) (types.Value, error)

// Mock is an in-memory dispatcher keyed by method name, for tests and
// flowctl's offline "run" mode. Safe for concurrent registration and calls.
type Mock struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	calls    []Request
}

// NewMock creates an empty Mock dispatcher.
func NewMock() *Mock {
	return &Mock{handlers: map[string]Handler{}}
}

// On registers handler for method, replacing any prior registration.
func (m *Mock) On(method string, handler Handler) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
	return m
}

// Calls returns every request seen so far, in call order.
func (m *Mock) Calls() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Request{}, m.calls...)
}

// Dispatch implements Func by looking up method in the registered handlers.
func (m *Mock) Dispatch(ctx context.Context, req Request) (types.Value, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	handler, ok := m.handlers[req.Method]
	m.mu.Unlock()
	if !ok {
		return types.Null, types.NewJsonRpcRequestError(-32601, fmt.Sprintf("method not found: %s", req.Method), types.Null)
	}
	return handler(ctx, req.Params)
}
