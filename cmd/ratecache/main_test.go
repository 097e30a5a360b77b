package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPresetsCommand(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out, "fixed_window")
	assert.Contains(t, out, "1h0m0s")
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: checked\nversion: 0.1.0\nstorage:\n  type: memory\n"), 0o600))

	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `config ok: checked 0.1.0, storage "memory" reachable`)

	_, err = execute(t, "check", "--config", filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}
