package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaic/internal/orchestrator"
	"mosaic/internal/resilience"
)

func TestParseMode(t *testing.T) {
	m, err := parseMode("conservative")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeConservative, m)

	m, err = parseMode("")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeStandard, m)

	m, err = parseMode("NoSubCalls")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeNoSubcalls, m)

	_, err = parseMode("aggressive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestParseFormat(t *testing.T) {
	f, err := parseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, resilience.FormatJSON, f)

	f, err = parseFormat("")
	require.NoError(t, err)
	assert.Equal(t, resilience.FormatText, f)

	_, err = parseFormat("xml")
	require.Error(t, err)
}

func TestCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["cache"])

	sub := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["stats"])
	assert.True(t, sub["clear"])
	assert.True(t, sub["compact"])
}
