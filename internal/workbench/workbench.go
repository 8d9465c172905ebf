package workbench

import (
	"context"
	"log/slog"

	"github.com/iammorganparry/runpad/internal/document"
	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
)

// AbortWarning is what the console shows when a run was refused because
// the buffer could not be saved
const AbortWarning = "File not saved. Run aborted."

// ScriptRunner runs a saved script into a sink
type ScriptRunner interface {
	Run(ctx context.Context, path string, sink process.Sink) process.Result
}

// Clipboard receives cut text
type Clipboard interface {
	WriteAll(text string) error
}

// RunRecorder keeps finished runs
type RunRecorder interface {
	Record(ctx context.Context, path string, res process.Result) error
}

// Workbench ties the document to the runner: save first, then run
type Workbench struct {
	Docs    *document.Controller
	Runner  ScriptRunner
	History RunRecorder // Optional
	Logger  *slog.Logger
}

// New creates a Workbench
func New(docs *document.Controller, runner ScriptRunner, logger *slog.Logger) *Workbench {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbench{Docs: docs, Runner: runner, Logger: logger}
}

// RunCurrent saves the current document and runs it. When the save fails
// or is cancelled the sink only receives the abort warning and nothing is
// spawned.
func (w *Workbench) RunCurrent(ctx context.Context, sink process.Sink) process.Result {
	if !w.Docs.Save(ctx) {
		return w.Abort(sink)
	}
	return w.RunSaved(ctx, w.Docs.Current().Path, sink)
}

// RunSaved runs a path the caller has already saved
func (w *Workbench) RunSaved(ctx context.Context, path string, sink process.Sink) process.Result {
	res := w.Runner.Run(ctx, path, sink)
	if w.History != nil {
		// The run context may already be cancelled
		if err := w.History.Record(context.WithoutCancel(ctx), path, res); err != nil {
			w.Logger.Warn("could not record run", "path", path, "error", err)
		}
	}
	return res
}

// Abort reports a run that could not start because the save failed
func (w *Workbench) Abort(sink process.Sink) process.Result {
	w.Logger.Warn("run aborted, document not saved")
	sink.AppendBlock(AbortWarning, model.OutputTypeWarning)
	return process.Result{Status: model.RunStatusAborted, ExitCode: -1}
}

// Cut removes line row from text and puts it on the clipboard. The text is
// left unchanged when the clipboard write fails.
func (w *Workbench) Cut(text string, row int, cb Clipboard) (string, error) {
	rest, cut := document.CutLine(text, row)
	if err := cb.WriteAll(cut); err != nil {
		w.Logger.Warn("clipboard write failed", "error", err)
		return text, err
	}
	return rest, nil
}
