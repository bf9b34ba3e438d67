package verifiers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func TestRoleOutcomeMapping(t *testing.T) {
	assert.Equal(t, models.OutcomeBlock, roleOutcome(RoleWrite))
	assert.Equal(t, models.OutcomeWarn, roleOutcome(RoleRead))
	assert.Equal(t, models.OutcomeWarn, roleOutcome(RoleAny))
}

func TestExecuteAfterDestroyResolvesToRoleOutcome(t *testing.T) {
	pool := NewWorkerPool(2, nil)
	pool.Destroy()

	outcome, message := pool.Execute(context.Background(), RoleWrite, "/bin/true", nil)
	assert.Equal(t, models.OutcomeBlock, outcome)
	assert.Equal(t, "shutting down", message)

	outcome, _ = pool.Execute(context.Background(), RoleRead, "/bin/true", nil)
	assert.Equal(t, models.OutcomeWarn, outcome)
}

func TestDestroyIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(1, nil)
	pool.Destroy()
	pool.Destroy()
}

func TestMissingExecutableResolvesToRoleOutcome(t *testing.T) {
	pool := NewWorkerPool(1, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	defer pool.Destroy()

	outcome, message := pool.Execute(context.Background(), RoleWrite, "/nonexistent/verifier", []byte("{}"))
	assert.Equal(t, models.OutcomeBlock, outcome)
	assert.NotEmpty(t, message)
}

func TestLoadCustomDirStubsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	def := `{"name":"escape","tool_name":"lookup","order":"C-0001","role":"write","command":"../../bin/sh"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "escape.verifier.json"), []byte(def), 0o644))

	bindings, err := LoadCustomDir(dir, nil, nil)
	require.NoError(t, err)
	require.Len(t, bindings["lookup"], 1)

	verdict := bindings["lookup"][0].Verify(context.Background(), "lookup", nil, "{}")
	assert.Equal(t, models.OutcomeWarn, verdict.Outcome)
	assert.Contains(t, verdict.Message, "escapes verifiers directory")
}

func TestLoadCustomDirSkipsMalformedDefinitions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.verifier.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noname.verifier.json"), []byte(`{"command":"x"}`), 0o644))

	bindings, err := LoadCustomDir(dir, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, bindings)
}

func TestLoadCustomDirDefaultsToWildcard(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "check.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	def := `{"name":"check","order":"A-0001","command":"check.sh"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "check.verifier.json"), []byte(def), 0o644))

	bindings, err := LoadCustomDir(dir, nil, nil)
	require.NoError(t, err)
	require.Len(t, bindings[WildcardTool], 1)
	assert.Equal(t, "check", bindings[WildcardTool][0].Name())
}
