package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConfigCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newConfigCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	previous := configFile
	configFile = path
	t.Cleanup(func() { configFile = previous })

	out, err := runConfigCmd(t, "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, err = runConfigCmd(t, "set", "port", "9100")
	require.NoError(t, err)
	_, err = runConfigCmd(t, "set", "api-key", "secret-key")
	require.NoError(t, err)

	_, err = runConfigCmd(t, "set", "port", "not-a-port")
	assert.Error(t, err)
	_, err = runConfigCmd(t, "set", "colour", "blue")
	assert.Error(t, err)

	out, err = runConfigCmd(t, "show")
	require.NoError(t, err)

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, float64(9100), shown["port"])
	assert.Equal(t, "[token:10 chars]", shown["api-key"])
	assert.Equal(t, "/mcp", shown["path"])
	assert.Equal(t, "1m0s", shown["call-timeout"])
}
