package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneLine(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a b c", oneLine("a\nb\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	envFiles = []string{filepath.Join(dir, "missing.env")}
	require.NoError(t, os.WriteFile(cfgPath, []byte("transport:\n  driver: loop\n"), 0o644))

	cmd := checkCmd()
	var out bytes.Buffer
	cmd.SetArgs([]string{})
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok (transport loop")

	require.NoError(t, os.WriteFile(cfgPath, []byte("transport:\n  driver: mqtt\n"), 0o644))
	cmd = checkCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.mqtt.broker")
}
