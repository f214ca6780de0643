package stepexec

import (
	"context"
	"errors"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// RequestExecutor dispatches an RPC call through the caller-supplied
// dispatch function.
type RequestExecutor struct{}

func (RequestExecutor) CanExecute(step *flowast.Step) bool {
	return step.Type == flowast.StepRequest && step.Request != nil
}

func (RequestExecutor) Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	req := step.Request
	if req.Method == "" {
		return nil, types.NewValidationError("request step %q: method must be a non-empty string", step.Name)
	}
	params := types.ValueFromJSON(req.Params)
	switch params.Type() {
	case types.TypeMap, types.TypeList, types.TypeNull:
	default:
		return nil, types.NewValidationError("request step %q: params must be a mapping, list, or null, got %s", step.Name, params.Type())
	}

	resolved, err := ec.Eval.Resolve(params, scope)
	if err != nil {
		return nil, err
	}

	id := ec.NextRequestID()
	resp, err := ec.Dispatch(ctx, dispatch.Request{JSONRPC: "2.0", Method: req.Method, Params: resolved, ID: id})
	if err != nil {
		var rpcErr *types.JsonRpcRequestError
		if errors.As(err, &rpcErr) {
			return nil, err
		}
		if types.CodeOf(err) != "" {
			return nil, err
		}
		return nil, types.NewNetworkError(err, "request step %q: dispatch failed", step.Name)
	}

	meta := map[string]interface{}{
		"method":    req.Method,
		"requestId": id,
		"timestamp": time.Now().UnixMilli(),
	}
	if responseHasError(resp) {
		meta["hasError"] = true
	}
	return &flowast.StepResult{Type: flowast.StepRequest, Result: resp, HasResult: true, Metadata: meta}, nil
}

// responseHasError reports whether resp is an object carrying a non-null
// "error" field -- the JSON-RPC-shaped error response the request executor
// records but does not itself raise.
func responseHasError(resp types.Value) bool {
	if resp.Type() != types.TypeMap {
		return false
	}
	v, ok := resp.AsMap().Get("error")
	return ok && !v.IsNull()
}
