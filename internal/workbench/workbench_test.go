package workbench

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/iammorganparry/runpad/internal/document"
	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	paths []string
}

func (r *fakeRunner) Run(ctx context.Context, path string, sink process.Sink) process.Result {
	r.paths = append(r.paths, path)
	sink.AppendLine("ran " + path)
	return process.Result{Status: model.RunStatusCompleted}
}

type blocks struct {
	lines  []string
	blocks []string
	clears int
}

func (b *blocks) Clear()                 { b.clears++ }
func (b *blocks) AppendLine(text string) { b.lines = append(b.lines, text) }
func (b *blocks) AppendBlock(text string, style model.OutputType) {
	b.blocks = append(b.blocks, string(style)+":"+text)
}

type cancelPrompter struct{}

func (cancelPrompter) PromptSavePath(ctx context.Context, suggested string) (string, bool, error) {
	return "", false, nil
}

type brokenFS struct{ document.OSFileSystem }

func (brokenFS) WriteFile(path string, data []byte) error { return os.ErrPermission }

type fakeClipboard struct {
	text string
	err  error
}

func (c *fakeClipboard) WriteAll(text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

func TestRunCurrentSavesThenRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.py")
	docs := document.NewController(document.ControllerOptions{})
	docs.SetText("print('hi')\n")
	require.True(t, docs.SaveTo(path))
	docs.SetText("print('edited')\n")

	runner := &fakeRunner{}
	sink := &blocks{}
	res := New(docs, runner, nil).RunCurrent(context.Background(), sink)

	assert.Equal(t, model.RunStatusCompleted, res.Status)
	assert.Equal(t, []string{path}, runner.paths)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "print('edited')\n", string(data), "run sees the latest buffer")
}

func TestRunCurrentAbortsWhenSaveCancelled(t *testing.T) {
	docs := document.NewController(document.ControllerOptions{Prompter: cancelPrompter{}})
	docs.SetText("print(1)")

	runner := &fakeRunner{}
	sink := &blocks{}
	res := New(docs, runner, nil).RunCurrent(context.Background(), sink)

	assert.Equal(t, model.RunStatusAborted, res.Status)
	assert.Empty(t, runner.paths, "nothing spawned")
	assert.Equal(t, []string{"warning:" + AbortWarning}, sink.blocks)
	assert.Empty(t, sink.lines)
	assert.Zero(t, sink.clears)
}

func TestRunCurrentAbortsWhenWriteFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	docs := document.NewController(document.ControllerOptions{FS: brokenFS{}})
	_, err := docs.Open(path)
	require.NoError(t, err)

	runner := &fakeRunner{}
	sink := &blocks{}
	res := New(docs, runner, nil).RunCurrent(context.Background(), sink)

	assert.Equal(t, model.RunStatusAborted, res.Status)
	assert.Empty(t, runner.paths)
	assert.Equal(t, []string{"warning:" + AbortWarning}, sink.blocks)
}

func TestRunCurrentWithRealRunner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	docs := document.NewController(document.ControllerOptions{})
	docs.SetText("echo hi\necho bye\n")
	require.True(t, docs.SaveTo(path))

	runner := process.NewRunner(process.Options{Interpreter: "sh"})
	sink := &blocks{}
	res := New(docs, runner, nil).RunCurrent(context.Background(), sink)

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"hi", "bye"}, sink.lines)
	require.Len(t, sink.blocks, 2)
	assert.Equal(t, "status:Running "+path+"...", sink.blocks[0])
	assert.Contains(t, sink.blocks[1], "exit code 0")
}

type recordedRun struct {
	path string
	res  process.Result
}

type fakeHistory struct {
	runs []recordedRun
	err  error
}

func (h *fakeHistory) Record(ctx context.Context, path string, res process.Result) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	h.runs = append(h.runs, recordedRun{path, res})
	return h.err
}

func TestRunSavedRecordsHistory(t *testing.T) {
	hist := &fakeHistory{}
	wb := New(document.NewController(document.ControllerOptions{}), &fakeRunner{}, nil)
	wb.History = hist

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := wb.RunSaved(ctx, "/tmp/x.py", &blocks{})

	require.Len(t, hist.runs, 1, "recorded even when the run context is done")
	assert.Equal(t, "/tmp/x.py", hist.runs[0].path)
	assert.Equal(t, res, hist.runs[0].res)

	hist.err = errors.New("disk full")
	res = wb.RunSaved(context.Background(), "/tmp/x.py", &blocks{})
	assert.Equal(t, model.RunStatusCompleted, res.Status, "history errors do not fail the run")
}

func TestCut(t *testing.T) {
	wb := New(document.NewController(document.ControllerOptions{}), &fakeRunner{}, nil)

	cb := &fakeClipboard{}
	rest, err := wb.Cut("a\nb\nc", 1, cb)
	require.NoError(t, err)
	assert.Equal(t, "a\nc", rest)
	assert.Equal(t, "b", cb.text)

	failing := &fakeClipboard{err: errors.New("no clipboard")}
	rest, err = wb.Cut("a\nb", 0, failing)
	require.Error(t, err)
	assert.Equal(t, "a\nb", rest, "text kept when clipboard fails")
}
