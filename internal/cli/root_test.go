package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command against a scratch data directory and
// returns stdout
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AUTO_SYNC_ENABLED", "false")
	t.Setenv("MONGO_URI", "")
	t.Setenv("LOCK_BACKEND", "file")

	cmd := NewRootCommand("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	paths := [][]string{
		{"serve"},
		{"queue", "list"},
		{"queue", "enqueue-query"},
		{"queue", "enqueue-raw"},
		{"queue", "clear-current"},
		{"sync", "inbound"},
		{"sync", "outbound", "plan"},
		{"sync", "outbound", "apply"},
		{"pending", "list"},
		{"pending", "clear"},
		{"audit"},
		{"qwc"},
	}

	for _, path := range paths {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	inbound, _, err := cmd.Find([]string{"sync", "inbound"})
	require.NoError(t, err)
	assert.NotNil(t, inbound.Flags().Lookup("dry-run"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, t.TempDir(), "--format", "yaml", "queue", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestQueueEnqueueAndList(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "--format", "json", "queue", "enqueue-query", "--max", "50", "--active-status", "All")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 1, data["depth"])

	out, err = run(t, dir, "--format", "json", "queue", "list")
	require.NoError(t, err)
	resp = decodeResponse(t, out)
	jobs := resp.Data.(map[string]any)["jobs"].([]any)
	require.Len(t, jobs, 1)
	job := jobs[0].(map[string]any)
	assert.Equal(t, "inventoryQuery", job["type"])
	assert.Equal(t, "cli", job["source"])

	out, err = run(t, dir, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1 job(s) queued")
}

func TestQueueEnqueueRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "--format", "json", "queue", "enqueue-query", "--active-status", "Sometimes")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decodeResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "BAD_INPUT", resp.Error.Code)

	_, err = run(t, dir, "queue", "enqueue-query", "--from-modified", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueueEnqueueRawFromStdin(t *testing.T) {
	t.Setenv("AUTO_SYNC_ENABLED", "false")
	dir := t.TempDir()

	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("not xml"))
	cmd.SetArgs([]string{"--data-dir", dir, "queue", "enqueue-raw", "-"})
	err := cmd.ExecuteContext(context.Background())

	require.Error(t, err)
	assert.Contains(t, out.String(), "BAD_INPUT")
}

func TestClearCurrentWhenEmpty(t *testing.T) {
	out, err := run(t, t.TempDir(), "queue", "clear-current")
	require.Error(t, err)
	assert.Contains(t, out, "NOT_FOUND")
}

func TestPendingListEmpty(t *testing.T) {
	out, err := run(t, t.TempDir(), "--format", "json", "pending", "list")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
}

func TestAuditUnknownKind(t *testing.T) {
	out, err := run(t, t.TempDir(), "audit", "everything")
	require.Error(t, err)
	assert.Contains(t, out, "BAD_INPUT")
}
