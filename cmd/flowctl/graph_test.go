package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphFlowYAML = `
name: graph-flow
steps:
  - name: step1
    request:
      method: svc.one
      params: {}
  - name: step2
    request:
      method: svc.two
      params:
        v: ${step1.result.v}
`

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestRunGraphPrintsMermaidDiagram(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graphFlowYAML), 0o644))

	cmd := newGraphCmd()
	var err error
	out := captureStdout(t, func() {
		err = runGraph(cmd, []string{path})
	})
	require.NoError(t, err)
	assert.Contains(t, out, "step1")
	assert.Contains(t, out, "step2")
}

func TestRunGraphMissingFileErrors(t *testing.T) {
	cmd := newGraphCmd()
	err := runGraph(cmd, []string{filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestRunGraphInvalidFlowErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	cmd := newGraphCmd()
	err := runGraph(cmd, []string{path})
	require.Error(t, err)
}
