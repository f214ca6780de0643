// Package api implements the REST management surface for flow documents and
// their runs. Grounded on the teacher's pkg/api/api.go: a *fiber.App wrapping
// a resource store, one handler method per route, fiber.Map{error:{code,
// message, status}} error envelopes, and a background goroutine per
// asynchronous run -- generalized from GCW's projects/locations/workflows
// resource hierarchy to this domain's flat flow/run hierarchy, and extended
// with a live event stream (gorilla/websocket, absent from the teacher) plus
// pause/resume/retry run control.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lemonberrylabs/flowengine/pkg/depresolver"
	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/events"
	"github.com/lemonberrylabs/flowengine/pkg/flowexec"
	"github.com/lemonberrylabs/flowengine/pkg/flowparser"
	"github.com/lemonberrylabs/flowengine/pkg/flowstore"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Server is the flow management API: flow CRUD, run lifecycle control, and
// a live event stream.
type Server struct {
	app      *fiber.App
	store    *flowstore.Store
	dispatch dispatch.Func
	logger   *zap.Logger

	mu      sync.Mutex
	active  map[string]*activeRun // run id -> live executor + subscriber fan-out
	upgrade websocket.Upgrader
}

// activeRun tracks one in-flight or completed run's executor so pause/
// resume/retry and the event stream can reach it after createRun returns.
type activeRun struct {
	mu          sync.Mutex
	executor    *flowexec.Executor
	subscribers []chan events.Event
}

func (a *activeRun) broadcast(ev events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (a *activeRun) subscribe() chan events.Event {
	ch := make(chan events.Event, 64)
	a.mu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.mu.Unlock()
	return ch
}

func (a *activeRun) unsubscribe(ch chan events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.subscribers {
		if s == ch {
			a.subscribers = append(a.subscribers[:i], a.subscribers[i+1:]...)
			break
		}
	}
	close(ch)
}

// New creates a flow management API server backed by store, dispatching
// request steps through dispatchFn. logger may be nil.
func New(store *flowstore.Store, dispatchFn dispatch.Func, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		store:    store,
		dispatch: dispatchFn,
		logger:   logger,
		active:   map[string]*activeRun{},
		upgrade:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	app.Use(adaptor.HTTPMiddleware(corsMiddleware.Handler))

	app.Post("/v1/flows", srv.createFlow)
	app.Get("/v1/flows", srv.listFlows)
	app.Get("/v1/flows/:name", srv.getFlow)
	app.Put("/v1/flows/:name", srv.updateFlow)
	app.Delete("/v1/flows/:name", srv.deleteFlow)
	app.Get("/v1/flows/:name/graph", srv.flowGraph)

	app.Post("/v1/flows/:name/runs", srv.createRun)
	app.Get("/v1/flows/:name/runs", srv.listRunsForFlow)
	app.Get("/v1/runs/:id", srv.getRun)
	app.Post("/v1/runs/:id/pause", srv.pauseRun)
	app.Post("/v1/runs/:id/resume", srv.resumeRun)
	app.Post("/v1/runs/:id/retry", srv.retryRun)
	app.Get("/v1/runs/:id/events", adaptor.HTTPHandlerFunc(srv.streamRunEvents))

	srv.app = app
	return srv
}

// Listen starts the HTTP server on addr.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

// App returns the underlying Fiber app, for testing with fiber's test
// utilities.
func (s *Server) App() *fiber.App { return s.app }

func errJSON(c *fiber.Ctx, status int, gcwStatus, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    status,
			"message": message,
			"status":  gcwStatus,
		},
	})
}

// --- Flow handlers ---

type createFlowRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func flowToJSON(rec *flowstore.FlowRecord) fiber.Map {
	return fiber.Map{
		"name":       rec.Name,
		"revision":   rec.Revision,
		"createTime": rec.CreateTime.Format(time.RFC3339),
		"updateTime": rec.UpdateTime.Format(time.RFC3339),
		"stepCount":  len(rec.Flow.Steps),
	}
}

func (s *Server) createFlow(c *fiber.Ctx) error {
	var req createFlowRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Source == "" {
		return errJSON(c, 400, "INVALID_ARGUMENT", "source is required")
	}

	flow, err := flowparser.Parse([]byte(req.Source))
	if err != nil {
		return errJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid flow document: %v", err))
	}
	if req.Name != "" {
		flow.Name = req.Name
	}

	rec, err := s.store.CreateFlow([]byte(req.Source), flow)
	if err != nil {
		if _, ok := err.(*flowstore.ErrAlreadyExists); ok {
			return errJSON(c, 409, "ALREADY_EXISTS", err.Error())
		}
		return errJSON(c, 500, "INTERNAL", err.Error())
	}
	return c.Status(200).JSON(flowToJSON(rec))
}

func (s *Server) getFlow(c *fiber.Ctx) error {
	rec, err := s.store.GetFlow(c.Params("name"))
	if err != nil {
		return errJSON(c, 404, "NOT_FOUND", err.Error())
	}
	return c.JSON(flowToJSON(rec))
}

func (s *Server) listFlows(c *fiber.Ctx) error {
	recs := s.store.ListFlows()
	items := make([]fiber.Map, len(recs))
	for i, rec := range recs {
		items[i] = flowToJSON(rec)
	}
	return c.JSON(fiber.Map{"flows": items})
}

func (s *Server) updateFlow(c *fiber.Ctx) error {
	var req createFlowRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.Source == "" {
		return errJSON(c, 400, "INVALID_ARGUMENT", "source is required")
	}
	flow, err := flowparser.Parse([]byte(req.Source))
	if err != nil {
		return errJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid flow document: %v", err))
	}
	flow.Name = c.Params("name")
	if _, err := s.store.GetFlow(flow.Name); err != nil {
		return errJSON(c, 404, "NOT_FOUND", err.Error())
	}
	rec := s.store.UpsertFlow([]byte(req.Source), flow)
	return c.JSON(flowToJSON(rec))
}

func (s *Server) deleteFlow(c *fiber.Ctx) error {
	if err := s.store.DeleteFlow(c.Params("name")); err != nil {
		return errJSON(c, 404, "NOT_FOUND", err.Error())
	}
	return c.JSON(fiber.Map{"name": c.Params("name"), "deleted": true})
}

func (s *Server) flowGraph(c *fiber.Ctx) error {
	rec, err := s.store.GetFlow(c.Params("name"))
	if err != nil {
		return errJSON(c, 404, "NOT_FOUND", err.Error())
	}
	graph, err := depresolver.Build(rec.Flow)
	if err != nil {
		return errJSON(c, 500, "INTERNAL", err.Error())
	}
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	return c.SendString(graph.GetMermaidDiagram())
}

// --- Run handlers ---

type createRunRequest struct {
	Context map[string]interface{} `json:"context"`
}

func runToJSON(rec *flowstore.RunRecord) fiber.Map {
	m := fiber.Map{
		"id":         rec.ID,
		"flow":       rec.FlowName,
		"state":      rec.State,
		"createTime": rec.CreateTime.Format(time.RFC3339),
		"updateTime": rec.UpdateTime.Format(time.RFC3339),
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	if rec.Results != nil {
		results := map[string]interface{}{}
		for name, r := range rec.Results {
			results[name] = r.ToValue().ToGoValue()
		}
		m["results"] = results
	}
	return m
}

func (s *Server) createRun(c *fiber.Ctx) error {
	flowName := c.Params("name")
	rec, err := s.store.GetFlow(flowName)
	if err != nil {
		return errJSON(c, 404, "NOT_FOUND", err.Error())
	}

	var req createRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
		}
	}

	flow := rec.Flow
	if req.Context != nil {
		flowCopy := *flow
		flowCopy.Context = req.Context
		flow = &flowCopy
	}

	executor, err := flowexec.New(flow, s.dispatch, s.logger, events.DefaultOptions())
	if err != nil {
		return errJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("failed to build executor: %v", err))
	}

	run := s.store.CreateRun(flowName)
	ar := &activeRun{executor: executor}
	s.mu.Lock()
	s.active[run.ID] = ar
	s.mu.Unlock()

	executor.Subscribe(ar.broadcast)
	_ = s.store.UpdateRun(run.ID, func(r *flowstore.RunRecord) { r.State = flowstore.RunStateRunning })

	go s.runFlow(run.ID, executor)

	return c.Status(200).JSON(runToJSON(run))
}

func (s *Server) runFlow(runID string, executor *flowexec.Executor) {
	results, err := executor.Execute(flowexec.ExecuteOptions{})
	_ = s.store.UpdateRun(runID, func(r *flowstore.RunRecord) {
		r.Results = results
		r.EndTime = time.Now()
		switch {
		case err == nil:
			r.State = flowstore.RunStateSucceed
		case types.CodeOf(err) == types.CodeStateError:
			r.State = flowstore.RunStatePaused
			r.Error = err.Error()
		default:
			r.State = flowstore.RunStateFailed
			r.Error = err.Error()
		}
	})
}

func (s *Server) getRun(c *fiber.Ctx) error {
	rec, err := s.store.GetRun(c.Params("id"))
	if err != nil {
		return errJSON(c, 404, "NOT_FOUND", err.Error())
	}
	return c.JSON(runToJSON(rec))
}

func (s *Server) listRunsForFlow(c *fiber.Ctx) error {
	recs := s.store.ListRuns(c.Params("name"))
	items := make([]fiber.Map, len(recs))
	for i, rec := range recs {
		items[i] = runToJSON(rec)
	}
	return c.JSON(fiber.Map{"runs": items})
}

func (s *Server) getActive(id string) (*activeRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ar, ok := s.active[id]
	return ar, ok
}

func (s *Server) pauseRun(c *fiber.Ctx) error {
	ar, ok := s.getActive(c.Params("id"))
	if !ok {
		return errJSON(c, 404, "NOT_FOUND", "no active executor for run")
	}
	ar.executor.Pause()
	return c.JSON(fiber.Map{"id": c.Params("id"), "paused": true})
}

func (s *Server) resumeRun(c *fiber.Ctx) error {
	id := c.Params("id")
	ar, ok := s.getActive(id)
	if !ok {
		return errJSON(c, 404, "NOT_FOUND", "no active executor for run")
	}
	_ = s.store.UpdateRun(id, func(r *flowstore.RunRecord) { r.State = flowstore.RunStateRunning })
	go func() {
		results, err := ar.executor.Resume(flowexec.ExecuteOptions{})
		_ = s.store.UpdateRun(id, func(r *flowstore.RunRecord) {
			r.Results = results
			r.EndTime = time.Now()
			if err != nil {
				r.State = flowstore.RunStateFailed
				r.Error = err.Error()
			} else {
				r.State = flowstore.RunStateSucceed
			}
		})
	}()
	return c.JSON(fiber.Map{"id": id, "resuming": true})
}

func (s *Server) retryRun(c *fiber.Ctx) error {
	id := c.Params("id")
	ar, ok := s.getActive(id)
	if !ok {
		return errJSON(c, 404, "NOT_FOUND", "no active executor for run")
	}
	go func() {
		results, err := ar.executor.Retry(flowexec.ExecuteOptions{})
		_ = s.store.UpdateRun(id, func(r *flowstore.RunRecord) {
			r.Results = results
			r.EndTime = time.Now()
			if err != nil {
				r.State = flowstore.RunStateFailed
				r.Error = err.Error()
			} else {
				r.State = flowstore.RunStateSucceed
			}
		})
	}()
	return c.JSON(fiber.Map{"id": id, "retrying": true})
}

// streamRunEvents upgrades to a websocket connection and relays every event
// the run's executor emits, for live dashboards (adapted with gorilla/
// websocket, which the teacher's GCW emulator has no analogue for).
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		id = lastPathSegment(r.URL.Path, "events")
	}
	ar, ok := s.getActive(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := ar.subscribe()
	defer ar.unsubscribe(ch)

	for ev := range ch {
		payload, err := json.Marshal(eventToJSON(ev))
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// lastPathSegment extracts the run id from a path like /v1/runs/<id>/events
// when the parent mux didn't populate PathValue (fiber's adaptor routes by
// its own :id param, not net/http's 1.22 pattern matching).
func lastPathSegment(path, suffix string) string {
	path = path[:len(path)-len("/"+suffix)]
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func eventToJSON(ev events.Event) fiber.Map {
	m := fiber.Map{"name": ev.Name, "timestamp": ev.Timestamp}
	if ev.Flow != "" {
		m["flow"] = ev.Flow
	}
	if ev.Step != "" {
		m["step"] = ev.Step
	}
	if ev.StepType != "" {
		m["stepType"] = ev.StepType
	}
	if ev.CorrelationID != "" {
		m["correlationId"] = ev.CorrelationID
	}
	if ev.Duration != 0 {
		m["duration"] = ev.Duration
	}
	if ev.Reason != "" {
		m["reason"] = ev.Reason
	}
	if ev.Attempt != 0 {
		m["attempt"] = ev.Attempt
	}
	if ev.Err != nil {
		m["error"] = ev.Err.Error()
	}
	if ev.HasResult {
		m["result"] = ev.Result.ToGoValue()
	}
	if len(ev.OrderedSteps) > 0 {
		m["orderedSteps"] = ev.OrderedSteps
	}
	return m
}
