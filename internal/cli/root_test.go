package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "reportgrid", cmd.Use)
	assert.Contains(t, cmd.Long, "four-column grid")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"show", "title", "add", "place", "span", "set-spec", "remove", "reorder",
		"list", "delete", "migrate", "export", "import",
		"validate", "replay", "serve",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flag    string
		def     string
	}{
		{"add", "span", "2"},
		{"add", "row", "0"},
		{"add", "col", "0"},
		{"migrate", "dry-run", "false"},
		{"replay", "update", "false"},
		{"replay", "golden", ""},
		{"replay", "filter", ""},
		{"serve", "addr", ""},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			cmd := NewRootCommand()
			sub, _, err := cmd.Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := runCLI(t, "", "list", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	_, err := runCLI(t, "", "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestRootOptions_DatabaseOverridesStore(t *testing.T) {
	opts := &RootOptions{Database: "/tmp/x.db"}
	cfg, err := opts.Config()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)

	again, err := opts.Config()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

// runCLI executes the root command against a SQLite file and returns
// stdout. db may be empty for commands that need no store.
func runCLI(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()

	if db != "" {
		args = append(args, "--db", db)
	}
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// runJSON executes a command with --format json and decodes the data field
// of the response into v.
func runJSON(t *testing.T, db string, v any, args ...string) {
	t.Helper()

	out, err := runCLI(t, db, append(args, "--format", "json")...)
	require.NoError(t, err, out)

	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v), string(resp.Data))
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "reports.db")
}

func TestExecute(t *testing.T) {
	run := func(args ...string) (int, string, string) {
		cmd := NewRootCommand()
		var out, errOut bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetArgs(args)
		code := Execute(context.Background(), cmd)
		return code, out.String(), errOut.String()
	}
	db := tempDB(t)

	code, out, _ := run("list", "--db", db)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No reports stored.\n", out)

	code, out, errOut := run("delete", "acme", "--db", db)
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, out)
	assert.Equal(t, "Error [E001]: no stored report for \"acme\"\n", errOut)

	code, out, errOut = run("delete", "acme", "--db", db, "--format", "json")
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, errOut)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)

	code, _, errOut = run("show", "acme", "--db", db, "--format", "xml")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "invalid format")
}
