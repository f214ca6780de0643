package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServeCmdDeclaresExpectedFlags(t *testing.T) {
	cmd := newServeCmd()
	for _, name := range []string{"host", "port", "watch-dir", "dispatch-url"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "expected flag %q", name)
	}
}

func TestNewLoggerProducesDevelopmentAndProductionLoggers(t *testing.T) {
	dev, err := newLogger(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := newLogger(false)
	require.NoError(t, err)
	require.NotNil(t, prod)
}
