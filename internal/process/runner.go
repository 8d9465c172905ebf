package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iammorganparry/runpad/internal/config"
	"github.com/iammorganparry/runpad/internal/model"
)

const (
	// maxLineSize bounds a single stdout line
	maxLineSize = 1024 * 1024
	// maxStderrSize bounds the stderr block kept in sequential order
	maxStderrSize = 4 * 1024 * 1024
	// defaultWaitDelay is how long pipes may stay open after the child was killed
	defaultWaitDelay = 2 * time.Second
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errors.New("a script is already running")

// SpawnError reports that the interpreter could not be started
type SpawnError struct {
	Interpreter string
	Path        string
	Err         error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not start %s for %s: %v", e.Interpreter, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a run
type Result struct {
	SessionID string
	Status    model.RunStatus
	ExitCode  int // -1 when the process never exited normally
	Err       error
	Duration  time.Duration
}

// Options configures a Runner
type Options struct {
	Interpreter string
	Args        []string // Placed before the script path
	Timeout     time.Duration
	Order       config.StreamOrder
	WaitDelay   time.Duration
	Logger      *slog.Logger

	// OnTransition is called synchronously on every session state change
	OnTransition func(model.RunSession)
}

// OptionsFromConfig maps the user configuration onto runner options
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Interpreter: cfg.Interpreter,
		Args:        append([]string(nil), cfg.InterpreterArgs...),
		Timeout:     cfg.Timeout,
		Order:       cfg.StreamOrder,
		Logger:      logger,
	}
}

// Runner spawns the interpreter on a script and streams its output into a
// Sink. At most one run is active at a time.
type Runner struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	active *model.RunSession
}

// NewRunner creates a Runner
func NewRunner(opts Options) *Runner {
	if opts.Order == "" {
		opts.Order = config.StreamSequential
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = defaultWaitDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{opts: opts, logger: logger}
}

// Active returns a snapshot of the running session, if any
func (r *Runner) Active() (model.RunSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return model.RunSession{}, false
	}
	return *r.active, true
}

// Run executes the script at path. The caller must have saved the buffer to
// path. Output reaches the sink in this order: a status line, stdout lines
// as they arrive, stderr (one block after stdout closes, or line by line in
// interleaved order), then a completion line.
func (r *Runner) Run(ctx context.Context, path string, sink Sink) Result {
	sess, err := r.begin(path)
	if err != nil {
		r.logger.Warn("run rejected", "path", path, "error", err)
		return Result{Status: model.RunStatusAborted, ExitCode: -1, Err: err}
	}
	defer r.end()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if r.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if s, ok := sink.(interface{ SetSession(string) }); ok {
		s.SetSession(sess.ID)
	}
	sink.Clear()
	sink.AppendBlock(fmt.Sprintf("Running %s...", path), model.OutputTypeStatus)

	r.transition(sess, model.RunStateSpawning)
	cmd, stdout, stderr, err := r.spawn(runCtx, path)
	if err != nil {
		if ctx.Err() != nil {
			sink.AppendBlock("--- Run cancelled ---", model.OutputTypeWarning)
			return r.finish(sess, model.RunStatusCancelled, -1, ctx.Err())
		}
		spawnErr := &SpawnError{Interpreter: r.opts.Interpreter, Path: path, Err: err}
		sink.AppendBlock(spawnErr.Error(), model.OutputTypeStderr)
		return r.finish(sess, model.RunStatusSpawnFailed, -1, spawnErr)
	}

	stopWatch := r.closeOnCancel(runCtx, stdout, stderr)
	defer stopWatch()

	var stderrText string
	if r.opts.Order == config.StreamInterleaved {
		r.drainInterleaved(sess, stdout, stderr, sink)
	} else {
		stderrText = r.drainSequential(sess, stdout, stderr, sink)
	}

	r.transition(sess, model.RunStateReaping)
	exitCode, waitErr := exitStatus(cmd.Wait())

	if text := strings.TrimRight(stderrText, " \t\r\n"); text != "" {
		sink.AppendBlock(text, model.OutputTypeStderr)
	}

	switch {
	case ctx.Err() != nil:
		sink.AppendBlock("--- Run cancelled ---", model.OutputTypeWarning)
		return r.finish(sess, model.RunStatusCancelled, exitCode, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		sink.AppendBlock(fmt.Sprintf("--- Run timed out after %s ---", r.opts.Timeout), model.OutputTypeWarning)
		return r.finish(sess, model.RunStatusTimedOut, exitCode, runCtx.Err())
	case waitErr != nil:
		sink.AppendBlock(fmt.Sprintf("--- Run failed: %v ---", waitErr), model.OutputTypeWarning)
		return r.finish(sess, model.RunStatusCompleted, exitCode, waitErr)
	}

	sink.AppendBlock(fmt.Sprintf("--- Finished with exit code %d ---", exitCode), model.OutputTypeStatus)
	return r.finish(sess, model.RunStatusCompleted, exitCode, nil)
}

func (r *Runner) begin(path string) (*model.RunSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrRunInProgress
	}
	r.active = &model.RunSession{
		ID:          uuid.NewString(),
		TargetPath:  path,
		Interpreter: r.opts.Interpreter,
		State:       model.RunStateIdle,
		StartedAt:   time.Now(),
	}
	r.logger.Info("run started", "session", r.active.ID, "path", path, "interpreter", r.opts.Interpreter)
	return r.active, nil
}

func (r *Runner) end() {
	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
}

func (r *Runner) transition(sess *model.RunSession, state model.RunState) {
	r.mu.Lock()
	sess.State = state
	snapshot := *sess
	r.mu.Unlock()

	r.logger.Debug("run state", "session", sess.ID, "state", state)
	if r.opts.OnTransition != nil {
		r.opts.OnTransition(snapshot)
	}
}

func (r *Runner) finish(sess *model.RunSession, status model.RunStatus, exitCode int, err error) Result {
	r.mu.Lock()
	sess.FinishedAt = time.Now()
	if exitCode >= 0 {
		code := exitCode
		sess.ExitCode = &code
	}
	r.mu.Unlock()
	r.transition(sess, model.RunStateDone)

	res := Result{
		SessionID: sess.ID,
		Status:    status,
		ExitCode:  exitCode,
		Err:       err,
		Duration:  sess.FinishedAt.Sub(sess.StartedAt),
	}
	attrs := []any{"session", sess.ID, "status", status, "exit_code", exitCode, "duration", res.Duration}
	if err != nil {
		r.logger.Warn("run finished", append(attrs, "error", err)...)
	} else {
		r.logger.Info("run finished", attrs...)
	}
	return res
}

// spawn starts the interpreter with separate stdout and stderr pipes. On
// error every pipe it opened is closed again.
func (r *Runner) spawn(ctx context.Context, path string) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	args := append(append([]string(nil), r.opts.Args...), path)
	cmd := exec.CommandContext(ctx, r.opts.Interpreter, args...)
	cmd.WaitDelay = r.opts.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, nil, nil, err
	}
	r.logger.Debug("process spawned", "pid", cmd.Process.Pid, "args", args)
	return cmd, stdout, stderr, nil
}

// closeOnCancel closes both pipes once ctx is done and the wait delay passed,
// so readers blocked on a pipe held open by a grandchild return.
func (r *Runner) closeOnCancel(ctx context.Context, pipes ...io.Closer) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		select {
		case <-done:
		case <-time.After(r.opts.WaitDelay):
			for _, p := range pipes {
				p.Close()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// drainSequential forwards stdout line by line while stderr is collected in
// the background, and returns the collected stderr once both reached EOF.
func (r *Runner) drainSequential(sess *model.RunSession, stdout, stderr io.Reader, sink Sink) string {
	var errBuf bytes.Buffer
	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		if _, err := io.Copy(&limitedBuffer{buf: &errBuf, max: maxStderrSize}, stderr); err != nil {
			r.logger.Debug("stderr read ended", "session", sess.ID, "error", err)
		}
	}()

	r.transition(sess, model.RunStateDrainingStdout)
	r.scan(sess, stdout, "stdout", sink.AppendLine)

	r.transition(sess, model.RunStateDrainingStderr)
	<-errDone
	return errBuf.String()
}

type streamLine struct {
	text   string
	stderr bool
}

// drainInterleaved reads both streams concurrently and forwards lines in
// arrival order, stderr lines styled as errors.
func (r *Runner) drainInterleaved(sess *model.RunSession, stdout, stderr io.Reader, sink Sink) {
	lines := make(chan streamLine, 64)
	stdoutDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(stdoutDone)
		r.scan(sess, stdout, "stdout", func(text string) { lines <- streamLine{text: text} })
	}()
	go func() {
		defer wg.Done()
		r.scan(sess, stderr, "stderr", func(text string) { lines <- streamLine{text: text, stderr: true} })
	}()
	go func() {
		wg.Wait()
		close(lines)
	}()

	r.transition(sess, model.RunStateDrainingStdout)
	stdoutOpen := true
	for {
		select {
		case <-stdoutDone:
			if stdoutOpen {
				stdoutOpen = false
				stdoutDone = nil
				r.transition(sess, model.RunStateDrainingStderr)
			}
		case line, ok := <-lines:
			if !ok {
				if stdoutOpen {
					r.transition(sess, model.RunStateDrainingStderr)
				}
				return
			}
			if line.stderr {
				sink.AppendBlock(line.text, model.OutputTypeStderr)
			} else {
				sink.AppendLine(line.text)
			}
		}
	}
}

// scan calls emit for every line of rd. A line longer than maxLineSize ends
// line splitting; the rest of the stream is discarded so the child never
// blocks on a full pipe.
func (r *Runner) scan(sess *model.RunSession, rd io.Reader, stream string, emit func(string)) {
	scanner := bufio.NewScanner(rd)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	for scanner.Scan() {
		emit(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("stream read stopped", "session", sess.ID, "stream", stream, "error", err)
		if errors.Is(err, bufio.ErrTooLong) {
			emit(fmt.Sprintf("[%s line longer than %d bytes; remaining output discarded]", stream, maxLineSize))
			io.Copy(io.Discard, rd)
		}
	}
}

// exitStatus turns the error from cmd.Wait into an exit code. A non-zero
// exit is not an error; a process killed by a signal reports -1.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// limitedBuffer keeps the first max bytes written and discards the rest
// while still reporting full writes.
type limitedBuffer struct {
	buf       *bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	switch {
	case room >= len(p):
		b.buf.Write(p)
	case !b.truncated:
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.buf.Write(truncationMarker)
		b.truncated = true
	}
	return len(p), nil
}

var truncationMarker = []byte("\n[stderr truncated]")
