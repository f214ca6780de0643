package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/flowstore"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

const simpleFlowYAML = `
name: simple
steps:
  - name: s1
    stop:
      endWorkflow: false
`

func newTestServer() *Server {
	mock := dispatch.NewMock()
	return New(flowstore.New(), mock.Dispatch, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateFlowSuccess(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "simple", body["name"])
	assert.Equal(t, float64(1), body["revision"])
}

func TestCreateFlowMissingSource(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestCreateFlowInvalidDocument(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: "not: [valid"})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestCreateFlowDuplicateNameConflicts(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	resp := doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	assert.Equal(t, 409, resp.StatusCode)
}

func TestGetFlowNotFound(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodGet, "/v1/flows/nope", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestListFlowsReturnsAllCreated(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	resp := doJSON(t, srv, http.MethodGet, "/v1/flows", nil)
	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	flows, ok := body["flows"].([]interface{})
	require.True(t, ok)
	assert.Len(t, flows, 1)
}

func TestUpdateFlowNotFoundForUnknownName(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPut, "/v1/flows/nope", createFlowRequest{Source: simpleFlowYAML})
	assert.Equal(t, 404, resp.StatusCode)
}

func TestUpdateFlowBumpsRevision(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	resp := doJSON(t, srv, http.MethodPut, "/v1/flows/simple", createFlowRequest{Source: simpleFlowYAML})
	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["revision"])
}

func TestDeleteFlowSuccessAndNotFound(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})

	resp := doJSON(t, srv, http.MethodDelete, "/v1/flows/simple", nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodDelete, "/v1/flows/simple", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestFlowGraphReturnsMermaidText(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	resp := doJSON(t, srv, http.MethodGet, "/v1/flows/simple/graph", nil)
	assert.Equal(t, 200, resp.StatusCode)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "s1")
}

func TestFlowGraphNotFound(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodGet, "/v1/flows/nope/graph", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestCreateRunNotFoundForUnknownFlow(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPost, "/v1/flows/nope/runs", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestCreateRunExecutesToCompletion(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})

	resp := doJSON(t, srv, http.MethodPost, "/v1/flows/simple/runs", nil)
	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	runID, ok := body["id"].(string)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		r := doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID, nil)
		b := decodeBody(t, r)
		return b["state"] == string(flowstore.RunStateSucceed)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodGet, "/v1/runs/nonexistent", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestListRunsForFlow(t *testing.T) {
	srv := newTestServer()
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: simpleFlowYAML})
	doJSON(t, srv, http.MethodPost, "/v1/flows/simple/runs", nil)

	resp := doJSON(t, srv, http.MethodGet, "/v1/flows/simple/runs", nil)
	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	runs, ok := body["runs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, runs, 1)
}

func TestPauseRunNoActiveExecutor(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPost, "/v1/runs/nonexistent/pause", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestPauseResumeRunLifecycle(t *testing.T) {
	const twoStepFlowYAML = `
name: twostep
steps:
  - name: s1
    request:
      method: step1
      params: {}
  - name: s2
    request:
      method: step2
      params: {}
`
	mock := dispatch.NewMock()
	srv := New(flowstore.New(), mock.Dispatch, nil)
	doJSON(t, srv, http.MethodPost, "/v1/flows", createFlowRequest{Source: twoStepFlowYAML})

	// The store allocates run IDs sequentially starting at run-1; this is the
	// first run created against this fresh store, so the ID is known ahead
	// of time and the step1 handler can pause the run it belongs to without
	// a race against the run-creation response.
	const runID = "run-1"
	mock.On("step1", func(ctx context.Context, params types.Value) (types.Value, error) {
		if ar, ok := srv.getActive(runID); ok {
			ar.executor.Pause()
		}
		return types.Null, nil
	})
	mock.On("step2", func(ctx context.Context, params types.Value) (types.Value, error) {
		return types.Null, nil
	})

	resp := doJSON(t, srv, http.MethodPost, "/v1/flows/twostep/runs", nil)
	body := decodeBody(t, resp)
	require.Equal(t, runID, body["id"])

	require.Eventually(t, func() bool {
		r := doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID, nil)
		b := decodeBody(t, r)
		return b["state"] == string(flowstore.RunStatePaused)
	}, 2*time.Second, 10*time.Millisecond)

	resumeResp := doJSON(t, srv, http.MethodPost, "/v1/runs/"+runID+"/resume", nil)
	assert.Equal(t, 200, resumeResp.StatusCode)

	require.Eventually(t, func() bool {
		r := doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID, nil)
		b := decodeBody(t, r)
		return b["state"] == string(flowstore.RunStateSucceed)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryRunNoActiveExecutor(t *testing.T) {
	srv := newTestServer()
	resp := doJSON(t, srv, http.MethodPost, "/v1/runs/nonexistent/retry", nil)
	assert.Equal(t, 404, resp.StatusCode)
}
