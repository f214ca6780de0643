package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["run"])
	assert.True(t, names["graph"])
}

func TestNewRootCmdHasVersionAndPersistentFlags(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, version, root.Version)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))
}
