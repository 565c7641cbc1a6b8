package main

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	resetFlags()
	output, err := captureOutput(t, runVersion)
	require.NoError(t, err)
	assertContains(t, output, []string{"poolctl " + version, runtime.Version()})

	jsonOut = true
	defer resetFlags()
	output, err = captureOutput(t, runVersion)
	require.NoError(t, err)
	assertJSON(t, output)
	assert.Contains(t, output, `"version": "`+version+`"`)
}

func TestRootVersionMatchesVersionCommand(t *testing.T) {
	assert.Equal(t, version, rootCmd.Version)
}
