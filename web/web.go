// Package web provides the dashboard UI: flow and run listings, a run's
// step timeline, and its dependency graph. Grounded on the teacher's
// web/web.go: a Handler wrapping the store plus a template.FuncMap of small
// display helpers (timeAgo/stateClass/stateIcon/truncate/...), one render
// method executing a named template into the response, one handler method
// per page, routes mounted via a Register(app) method. The teacher embeds
// its templates with go:embed; this package inlines the template strings
// instead, since the retrieval pack that grounded this rewrite carried no
// HTML assets to embed.
package web

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/flowengine/pkg/depresolver"
	"github.com/lemonberrylabs/flowengine/pkg/flowstore"
)

// Handler serves the dashboard pages.
type Handler struct {
	store   *flowstore.Store
	funcMap template.FuncMap
}

// pageData wraps page-specific data with fields every layout needs.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a dashboard handler backed by store.
func New(s *flowstore.Store) *Handler {
	return &Handler{
		store: s,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"duration":   duration,
			"stateClass": stateClass,
			"stateIcon":  stateIcon,
			"truncate":   truncate,
			"hasPrefix":  strings.HasPrefix,
		},
	}
}

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>flowengine dashboard</title>
<style>
body{font-family:system-ui,sans-serif;margin:0;background:#0f1115;color:#d8dce3}
nav{display:flex;gap:1.5rem;padding:.75rem 1.5rem;background:#161a21;border-bottom:1px solid #262b36}
nav a{color:#9aa4b2;text-decoration:none}
nav a.active{color:#fff;font-weight:600}
main{padding:1.5rem}
table{width:100%;border-collapse:collapse}
th,td{text-align:left;padding:.4rem .6rem;border-bottom:1px solid #262b36}
.state-succeeded{color:#3ecf8e}
.state-failed{color:#f36;}
.state-running{color:#5ab4ff}
.state-paused{color:#f5c542}
.state-pending{color:#9aa4b2}
pre{background:#161a21;padding:1rem;overflow:auto;border-radius:6px}
</style>
</head>
<body>
<nav>
<a href="/ui" class="{{if eq .NavActive "dashboard"}}active{{end}}">dashboard</a>
<a href="/ui/flows" class="{{if eq .NavActive "flows"}}active{{end}}">flows</a>
<a href="/ui/runs" class="{{if eq .NavActive "runs"}}active{{end}}">runs</a>
</nav>
<main>
{{template "body" .}}
</main>
</body>
</html>{{end}}`

const dashboardTemplate = `{{define "body"}}
<h1>dashboard</h1>
<p>{{len .Data.Flows}} flow(s) registered, {{.Data.RunCount}} run(s) recorded.</p>
<h2>flows</h2>
<table><tr><th>name</th><th>revision</th><th>steps</th><th>updated</th></tr>
{{range .Data.Flows}}<tr><td><a href="/ui/flows/{{.Name}}">{{.Name}}</a></td><td>{{.Revision}}</td><td>{{len .Flow.Steps}}</td><td>{{timeAgo .UpdateTime}}</td></tr>{{end}}
</table>
{{end}}`

const flowListTemplate = `{{define "body"}}
<h1>flows</h1>
<table><tr><th>name</th><th>revision</th><th>steps</th><th>created</th></tr>
{{range .Data}}<tr><td><a href="/ui/flows/{{.Name}}">{{.Name}}</a></td><td>{{.Revision}}</td><td>{{len .Flow.Steps}}</td><td>{{formatTime .CreateTime}}</td></tr>{{end}}
</table>
{{end}}`

const flowDetailTemplate = `{{define "body"}}
<h1>{{.Data.Flow.Name}}</h1>
<p>{{.Data.Flow.Description}}</p>
<h2>steps</h2>
<table><tr><th>name</th><th>type</th></tr>
{{range .Data.Flow.Steps}}<tr><td>{{.Name}}</td><td>{{.Type}}</td></tr>{{end}}
</table>
<h2>dependency graph</h2>
<pre>{{.Data.Mermaid}}</pre>
<h2>runs</h2>
<table><tr><th>id</th><th>state</th><th>created</th></tr>
{{range .Data.Runs}}<tr><td><a href="/ui/runs/{{.ID}}">{{.ID}}</a></td><td class="state-{{stateClass (printf "%v" .State)}}">{{.State}}</td><td>{{timeAgo .CreateTime}}</td></tr>{{end}}
</table>
<form method="post" action="/v1/flows/{{.Data.Flow.Name}}/runs" onsubmit="return false">
<button onclick="fetch(this.form.action,{method:'POST'}).then(()=>location.reload())">start run</button>
</form>
{{end}}`

const runListTemplate = `{{define "body"}}
<h1>runs</h1>
<table><tr><th>id</th><th>flow</th><th>state</th><th>created</th></tr>
{{range .Data}}<tr><td><a href="/ui/runs/{{.ID}}">{{.ID}}</a></td><td>{{.FlowName}}</td><td class="state-{{stateClass (printf "%v" .State)}}">{{.State}}</td><td>{{timeAgo .CreateTime}}</td></tr>{{end}}
</table>
{{end}}`

const runDetailTemplate = `{{define "body"}}
<h1>run {{.Data.Run.ID}}</h1>
<p>flow: <a href="/ui/flows/{{.Data.Run.FlowName}}">{{.Data.Run.FlowName}}</a></p>
<p>state: <span class="state-{{stateClass (printf "%v" .Data.Run.State)}}">{{.Data.Run.State}}</span></p>
<p>duration: {{duration .Data.Run.CreateTime .Data.Run.EndTime}}</p>
{{if .Data.Run.Error}}<pre>{{.Data.Run.Error}}</pre>{{end}}
<h2>step results</h2>
<table><tr><th>step</th><th>type</th><th>result</th></tr>
{{range $name, $res := .Data.Run.Results}}<tr><td>{{$name}}</td><td>{{$res.Type}}</td><td><pre>{{truncate (printf "%v" $res.Result) 200}}</pre></td></tr>{{end}}
</table>
{{end}}`

// Register mounts the dashboard's routes on app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/flows", h.flowList)
	app.Get("/ui/flows/:name", h.flowDetail)
	app.Get("/ui/runs", h.runList)
	app.Get("/ui/runs/:id", h.runDetail)
	app.Get("/", func(c *fiber.Ctx) error { return c.Redirect("/ui") })
}

func (h *Handler) render(c *fiber.Ctx, page, body, navActive string, data interface{}) error {
	tmpl := template.Must(template.New("layout").Funcs(h.funcMap).Parse(layoutTemplate))
	tmpl = template.Must(tmpl.Parse(body))

	pd := pageData{NavActive: navActive, Data: data}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", pd); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}
	c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

func (h *Handler) dashboard(c *fiber.Ctx) error {
	flows := h.store.ListFlows()
	runCount := len(h.store.ListRuns(""))
	return h.render(c, "dashboard", dashboardTemplate, "dashboard", struct {
		Flows    []*flowstore.FlowRecord
		RunCount int
	}{flows, runCount})
}

func (h *Handler) flowList(c *fiber.Ctx) error {
	return h.render(c, "flows", flowListTemplate, "flows", h.store.ListFlows())
}

func (h *Handler) flowDetail(c *fiber.Ctx) error {
	rec, err := h.store.GetFlow(c.Params("name"))
	if err != nil {
		return c.Status(404).SendString(err.Error())
	}
	mermaid := ""
	if graph, err := depresolver.Build(rec.Flow); err == nil {
		mermaid = graph.GetMermaidDiagram()
	}
	return h.render(c, "flow", flowDetailTemplate, "flows", struct {
		Flow    *flowstore.FlowRecord
		Mermaid string
		Runs    []*flowstore.RunRecord
	}{rec, mermaid, h.store.ListRuns(rec.Name)})
}

func (h *Handler) runList(c *fiber.Ctx) error {
	return h.render(c, "runs", runListTemplate, "runs", h.store.ListRuns(""))
}

func (h *Handler) runDetail(c *fiber.Ctx) error {
	rec, err := h.store.GetRun(c.Params("id"))
	if err != nil {
		return c.Status(404).SendString(err.Error())
	}
	return h.render(c, "run", runDetailTemplate, "runs", struct {
		Run *flowstore.RunRecord
	}{rec})
}

// --- display helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func duration(start, end time.Time) string {
	if start.IsZero() {
		return "-"
	}
	if end.IsZero() {
		return time.Since(start).Round(time.Millisecond).String()
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func stateClass(state string) string {
	return strings.ToLower(state)
}

func stateIcon(state string) template.HTML {
	switch strings.ToUpper(state) {
	case "SUCCEEDED", "COMPLETED":
		return "✓"
	case "FAILED":
		return "✗"
	case "RUNNING":
		return "▶"
	case "PAUSED":
		return "⏸"
	default:
		return "○"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
