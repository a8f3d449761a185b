package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/config"
	"strix/internal/logging"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "version")
}

func TestExpandHome(t *testing.T) {
	home, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".strix"), expandHome("~/.strix"))
	assert.Equal(t, "/var/lib/strix", expandHome("/var/lib/strix"))
}

func TestBuildSystemRouterWithoutFallback(t *testing.T) {
	caller := buildSystemRouter(config.LLMConfig{
		Primary: config.ProviderConfig{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			APIKey:  "sk-test",
			Model:   "gpt-4o",
		},
	}, logging.Nop())
	require.NotNil(t, caller)
	assert.Equal(t, "gpt-4o", caller.ModelName())
}

func TestOpenVectorStoreDefaultsToMemory(t *testing.T) {
	store, err := openVectorStore(config.MilvusConfig{}, logging.Nop())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())
}
