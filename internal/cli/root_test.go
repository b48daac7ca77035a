package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/gapura/pkg/policy"
)

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	expected := []string{"run", "approve", "deny", "approvals", "runs", "events", "init", "serve", "status", "tools"}

	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, names[name], "missing subcommand %s", name)
	}
}

func TestResolveInput(t *testing.T) {
	t.Cleanup(func() { runInput, runInputFile = "", "" })

	t.Run("empty yields empty object", func(t *testing.T) {
		runInput, runInputFile = "", ""
		input, err := resolveInput()
		require.NoError(t, err)
		assert.Empty(t, input)
	})

	t.Run("inline json", func(t *testing.T) {
		runInput, runInputFile = `{"room":"office","volume":30}`, ""
		input, err := resolveInput()
		require.NoError(t, err)
		assert.Equal(t, "office", input["room"])
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "input.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"message":"hi"}`), 0600))
		runInput, runInputFile = "", path
		input, err := resolveInput()
		require.NoError(t, err)
		assert.Equal(t, "hi", input["message"])
	})

	t.Run("both flags rejected", func(t *testing.T) {
		runInput, runInputFile = `{}`, "somewhere.json"
		_, err := resolveInput()
		assert.Error(t, err)
	})

	t.Run("non-object rejected", func(t *testing.T) {
		runInput, runInputFile = `[1,2,3]`, ""
		_, err := resolveInput()
		assert.Error(t, err)
	})
}

func TestExamplePolicy_Parses(t *testing.T) {
	cfg, err := policy.ParseConfig([]byte(examplePolicy))
	require.NoError(t, err)

	require.NotNil(t, cfg.Sonos)
	assert.Empty(t, cfg.Sonos.AllowedRooms, "starter policy must deny by default")
	assert.Equal(t, 60, cfg.Sonos.MaxVolume)
	assert.True(t, cfg.Sonos.QuietHours.Enabled)

	require.NotNil(t, cfg.GitHub)
	assert.True(t, cfg.GitHub.DraftOnly)
	assert.False(t, cfg.GitHub.AllowMerge)
}
