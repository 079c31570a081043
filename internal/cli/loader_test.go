package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/workflow"
)

func writeWorkflowFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWorkflow_Valid(t *testing.T) {
	path := writeWorkflowFile(t, `
transaction: true
storage:
  main:
    dsn: ./app.db
steps:
  - name: create
    kind: exec
    alias: main
    share: true
    statement: INSERT INTO users(name) VALUES (?)
    args: ["alice"]
  - name: fetch
    kind: query
    alias: main
    statement: SELECT * FROM users
  - name: greet
    kind: message
    text: "created registry[create].last_insert_id"
  - name: notify
    kind: call
    target: send_mail
    call_args:
      to: ops
`)

	wf, file, err := LoadWorkflow(path)
	require.NoError(t, err)
	assert.True(t, file.Transaction)
	require.Equal(t, 4, wf.Len())

	steps := wf.Steps()
	exec, ok := steps[0].Descriptor.(workflow.ExecDescriptor)
	require.True(t, ok)
	assert.True(t, exec.Share)
	assert.Equal(t, "main", exec.Alias)

	_, ok = steps[1].Descriptor.(workflow.QueryDescriptor)
	assert.True(t, ok)
	_, ok = steps[2].Descriptor.(workflow.MessageDescriptor)
	assert.True(t, ok)
	call, ok := steps[3].Descriptor.(workflow.CallDescriptor)
	require.True(t, ok)
	assert.Equal(t, "ops", call.Args["to"])
}

func TestLoadWorkflow_MissingFile(t *testing.T) {
	_, _, err := LoadWorkflow(filepath.Join(t.TempDir(), "nope.yaml"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadWorkflow_BadYAML(t *testing.T) {
	path := writeWorkflowFile(t, "steps: [unterminated")
	_, _, err := LoadWorkflow(path)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeParse, le.Code)
}

func TestLoadWorkflow_NoSteps(t *testing.T) {
	path := writeWorkflowFile(t, "transaction: false")
	_, _, err := LoadWorkflow(path)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeInvalid, le.Code)
}

func TestLoadWorkflow_UnknownKind(t *testing.T) {
	path := writeWorkflowFile(t, `
steps:
  - name: odd
    kind: teleport
`)
	_, _, err := LoadWorkflow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step kind")
}

func TestLoadWorkflow_DuplicateNames(t *testing.T) {
	path := writeWorkflowFile(t, `
steps:
  - name: same
    kind: message
    text: a
  - name: same
    kind: message
    text: b
`)
	_, _, err := LoadWorkflow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
}

func TestLoadWorkflow_UnconfiguredAlias(t *testing.T) {
	path := writeWorkflowFile(t, `
steps:
  - name: write
    kind: exec
    alias: ghost
    statement: SELECT 1
`)
	_, _, err := LoadWorkflow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unconfigured alias")
}

func TestLoadWorkflow_StatementFromArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "seed.sql"),
		[]byte("INSERT INTO t(v) VALUES (1);\n"),
		0o644,
	))
	path := filepath.Join(dir, "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  main:
    dsn: ./x.db
steps:
  - name: seed
    kind: exec
    alias: main
    statement_from: seed
`), 0o644))

	wf, _, err := LoadWorkflow(path)
	require.NoError(t, err)

	exec, ok := wf.Steps()[0].Descriptor.(workflow.ExecDescriptor)
	require.True(t, ok)
	assert.Equal(t, "INSERT INTO t(v) VALUES (1);", exec.Statement)
}

func TestLoadWorkflow_StatementFromMissingArtifact(t *testing.T) {
	path := writeWorkflowFile(t, `
storage:
  main:
    dsn: ./x.db
steps:
  - name: seed
    kind: exec
    alias: main
    statement_from: ghost
`)
	_, _, err := LoadWorkflow(path)
	require.Error(t, err)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeInvalid, le.Code)
}

func TestLoadWorkflow_StatementSourcesMutuallyExclusive(t *testing.T) {
	path := writeWorkflowFile(t, `
storage:
  main:
    dsn: ./x.db
steps:
  - name: seed
    kind: exec
    alias: main
    statement: SELECT 1
    statement_from: seed
`)
	_, _, err := LoadWorkflow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadWorkflow_ExecRequiresStatement(t *testing.T) {
	path := writeWorkflowFile(t, `
storage:
  main:
    dsn: ./x.db
steps:
  - name: write
    kind: exec
    alias: main
`)
	_, _, err := LoadWorkflow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require alias and statement")
}
