package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
id: wf-ok
nodes:
  - id: start
    kind: trigger
    trigger:
      type: date
      date: {mode: recurring, cron: "0 9 * * 1"}
  - id: ping
    kind: action
    action:
      type: webhook
      params: {url: "https://example.com/hook"}
edges:
  - {source: start, target: ping}
`), 0o600))

	out, err := runCLI(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "wf-ok: valid")

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"id":"wf-bad","nodes":[{"id":"a","kind":"action","action":{"type":"sms"}}],"edges":[]}`), 0o600))
	out, err = runCLI(t, "validate", invalid)
	assert.Error(t, err)
	assert.Contains(t, out, "missing_trigger")

	_, err = runCLI(t, "validate")
	assert.Error(t, err)
}
