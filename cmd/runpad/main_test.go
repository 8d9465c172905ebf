package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/iammorganparry/runpad/internal/config"
	"github.com/iammorganparry/runpad/internal/document"
	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shellConfig(interpreter string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Interpreter = interpreter
	cfg.InterpreterArgs = nil
	return cfg
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func utf8Codec(t *testing.T) *document.Codec {
	t.Helper()
	codec, err := document.NewCodec("utf-8")
	require.NoError(t, err)
	return codec
}

func TestRunHeadlessExitCodes(t *testing.T) {
	tests := []struct {
		name        string
		interpreter string
		script      string
		want        int
	}{
		{"clean exit", "sh", "echo hi\n", 0},
		{"script exit code", "sh", "echo oops >&2\nexit 3\n", 3},
		{"killed by signal", "sh", "echo a\nkill -9 $$\n", 1},
		{"missing interpreter", "runpad-no-such-interpreter", "echo hi\n", exitSpawnFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, tt.script)
			got := runHeadless(context.Background(), shellConfig(tt.interpreter), utf8Codec(t), discardLogger(), nil, path)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunHeadlessCancelled(t *testing.T) {
	path := writeScript(t, "sleep 5\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := runHeadless(ctx, shellConfig("sh"), utf8Codec(t), discardLogger(), nil, path)
	assert.Equal(t, exitCancelled, got)
}

func TestRunHeadlessMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.sh")
	got := runHeadless(context.Background(), shellConfig("sh"), utf8Codec(t), discardLogger(), nil, path)
	assert.Equal(t, 1, got)
}

func TestRunHeadlessRecordsHistory(t *testing.T) {
	runs, db := openHistory(filepath.Join(t.TempDir(), "history.db"), discardLogger())
	require.NotNil(t, runs)
	t.Cleanup(func() { db.Close() })

	path := writeScript(t, "exit 4\n")
	assert.Equal(t, 4, runHeadless(context.Background(), shellConfig("sh"), utf8Codec(t), discardLogger(), runs, path))

	recent, err := runs.Recent(context.Background(), path, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 4, recent[0].ExitCode)
}

func TestOpenHistoryFailureKeepsRunning(t *testing.T) {
	// The parent of the database path is a regular file, so it cannot be created
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	runs, db := openHistory(filepath.Join(blocker, "history.db"), discardLogger())
	assert.Nil(t, runs)
	assert.Nil(t, db)

	path := writeScript(t, "exit 0\n")
	assert.Equal(t, 0, runHeadless(context.Background(), shellConfig("sh"), utf8Codec(t), discardLogger(), runs, path))
}

func TestOpenHistoryDisabled(t *testing.T) {
	runs, db := openHistory("", discardLogger())
	assert.Nil(t, runs)
	assert.Nil(t, db)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		res  process.Result
		want int
	}{
		{"completed", process.Result{Status: model.RunStatusCompleted, ExitCode: 7}, 7},
		{"signalled", process.Result{Status: model.RunStatusCompleted, ExitCode: -1}, 1},
		{"spawn failed", process.Result{Status: model.RunStatusSpawnFailed, ExitCode: -1}, exitSpawnFailed},
		{"cancelled", process.Result{Status: model.RunStatusCancelled, ExitCode: -1}, exitCancelled},
		{"timed out", process.Result{Status: model.RunStatusTimedOut, ExitCode: -1}, 1},
		{"aborted", process.Result{Status: model.RunStatusAborted, ExitCode: -1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.res))
		})
	}
}

func TestLoadInitialFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(dir, "exists.py")
		require.NoError(t, os.WriteFile(path, []byte("print(1)\n"), 0644))
		docs := document.NewController(document.ControllerOptions{})

		require.NoError(t, loadInitialFile(docs, path))
		assert.Equal(t, "print(1)\n", docs.Current().Text)
		assert.Equal(t, path, docs.Current().Path)
	})

	t.Run("missing file is created empty", func(t *testing.T) {
		path := filepath.Join(dir, "new.py")
		docs := document.NewController(document.ControllerOptions{})

		require.NoError(t, loadInitialFile(docs, path))
		assert.Equal(t, path, docs.Current().Path)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("missing directory", func(t *testing.T) {
		path := filepath.Join(dir, "nope", "new.py")
		docs := document.NewController(document.ControllerOptions{})

		require.Error(t, loadInitialFile(docs, path))
		assert.False(t, docs.Current().Saved())
	})
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCmd  command
		wantRest []string
	}{
		{"no args", nil, cmdEdit, nil},
		{"file", []string{"script.py"}, cmdEdit, []string{"script.py"}},
		{"run", []string{"run", "script.py"}, cmdRun, []string{"script.py"}},
		{"history", []string{"history"}, cmdHistory, []string{}},
		{"file named run", []string{"./run"}, cmdEdit, []string{"./run"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, rest := parseCommand(tt.args)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}
