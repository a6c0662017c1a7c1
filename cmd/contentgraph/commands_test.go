package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestStoreCommandsRejectMemoryStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "contentgraph.yaml", "base_url: http://example.invalid\nstore:\n  driver: memory\n")
	payload := writeFile(t, dir, "update.json", `{"data": {"type": "node--article", "id": "article-1"}}`)

	tests := []struct {
		name string
		args []string
	}{
		{"apply", []string{"apply", payload}},
		{"export", []string{"export"}},
		{"watch", []string{"watch", "--dir", filepath.Join(dir, "spool")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", cfgPath, "--log-level", "error"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name+" requires a persistent store")
		})
	}
}

func TestExportFromSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "contentgraph.yaml", "base_url: http://example.invalid\n")

	out, err := execute(t,
		"--config", cfgPath,
		"--log-level", "error",
		"--store", "sqlite",
		"--store-path", filepath.Join(dir, "graph.db"),
		"export", "--format", "json",
	)
	require.NoError(t, err)
	assert.Contains(t, out, `"nodes"`)
}
