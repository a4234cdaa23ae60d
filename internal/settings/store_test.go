package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpstudio/agp/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	return NewFileStore(path, newTestLogger(t))
}

func TestFileStore_LoadMissingReturnsDefaults(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, 8765, loaded.Bridges.UnityBridgePort)
	assert.Equal(t, 8766, loaded.Bridges.BlenderBridgePort)
	assert.Equal(t, 8767, loaded.Bridges.MCPAdapterPort)
	assert.Equal(t, 4, loaded.Agents.MaxCallsPerTurn)
	assert.Equal(t, AdapterOwnershipAgentRunnerOnly, loaded.Agents.AdapterOwnership)
	assert.Contains(t, loaded.Providers, "gemini")
}

func TestFileStore_SaveThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	s := Defaults()
	s.Executables.Engine = "/opt/unity/Editor/Unity"
	s.Executables.Modeler = "/usr/bin/blender"
	s.Bridges.UnityBridgePort = 9001
	s.Integrations["openai"] = Integration{APIKey: "sk-ABCDEF1234", Model: "gpt-4o"}
	require.NoError(t, store.Save(s))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/unity/Editor/Unity", loaded.Executables.Engine)
	assert.Equal(t, 9001, loaded.Bridges.UnityBridgePort)
	assert.Equal(t, "sk-ABCDEF1234", loaded.Integrations["openai"].APIKey)

	// The flat legacy section mirrors executables and bridges.
	require.NotNil(t, loaded.Legacy)
	assert.Equal(t, "/opt/unity/Editor/Unity", loaded.Legacy.UnityPath)
	assert.Equal(t, "/usr/bin/blender", loaded.Legacy.BlenderPath)
	assert.Equal(t, 9001, loaded.Legacy.UnityBridgePort)
}

func TestFileStore_LoadMergesDefaultsBeneathStored(t *testing.T) {
	store := newTestStore(t)

	// A hand-written partial file, as an older build might leave behind.
	partial := `{"bridges": {"unityBridgePort": 9100}}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(partial), 0o600))

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, loaded.Bridges.UnityBridgePort)
	assert.Equal(t, 8766, loaded.Bridges.BlenderBridgePort)
	assert.Equal(t, 4, loaded.Agents.MaxCallsPerTurn)
	assert.Contains(t, loaded.Providers, "gemini")
}

func TestFileStore_SaveWritesBackup(t *testing.T) {
	store := newTestStore(t)

	first := Defaults()
	first.Executables.Engine = "/opt/unity-2022/Unity"
	require.NoError(t, store.Save(first))

	second := Defaults()
	second.Executables.Engine = "/opt/unity-6/Unity"
	require.NoError(t, store.Save(second))

	bak, err := os.ReadFile(store.Path() + ".bak")
	require.NoError(t, err)
	var backed Settings
	require.NoError(t, json.Unmarshal(bak, &backed))
	assert.Equal(t, "/opt/unity-2022/Unity", backed.Executables.Engine)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/unity-6/Unity", loaded.Executables.Engine)
}

func TestFileStore_LoadCorruptFallsBackToBackup(t *testing.T) {
	store := newTestStore(t)

	first := Defaults()
	first.Executables.Engine = "/opt/unity-2022/Unity"
	require.NoError(t, store.Save(first))
	second := Defaults()
	second.Executables.Engine = "/opt/unity-6/Unity"
	require.NoError(t, store.Save(second))

	// Simulate a torn write of the main file.
	require.NoError(t, os.WriteFile(store.Path(), []byte("{\"bridges\": {"), 0o600))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/unity-2022/Unity", loaded.Executables.Engine)
}

func TestFileStore_LoadCorruptWithoutBackupFails(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, os.WriteFile(store.Path(), []byte("not json"), 0o600))

	_, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse settings file")
}
