package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpstudio/agp/internal/settings"
)

func TestPickOneShotProvider_PrefersGemini(t *testing.T) {
	name, err := pickOneShotProvider(map[string]settings.Provider{
		"gemini": {Command: "gemini", OneShotFlag: "-p"},
		"mock":   {Command: "mock-agent", OneShotFlag: "-p"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini", name)
}

func TestPickOneShotProvider_SkipsProvidersWithoutFlag(t *testing.T) {
	name, err := pickOneShotProvider(map[string]settings.Provider{
		"gemini": {Command: "gemini"},
		"mock":   {Command: "mock-agent", OneShotFlag: "-p"},
		"zeta":   {Command: "zeta", OneShotFlag: "-p"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mock", name)
}

func TestPickOneShotProvider_NoneConfigured(t *testing.T) {
	_, err := pickOneShotProvider(map[string]settings.Provider{
		"gemini": {Command: "gemini"},
	})
	require.Error(t, err)
}
