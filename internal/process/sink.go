package process

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iammorganparry/runpad/internal/model"
)

// Sink is the append-only console the runner writes to. Calls arrive from
// the runner's goroutine in display order.
type Sink interface {
	Clear()
	AppendLine(text string)
	AppendBlock(text string, style model.OutputType)
}

// ChannelSink forwards sink calls as OutputLines over a channel so a UI loop
// can apply them on its own goroutine. Sends block while the buffer is full,
// which keeps ordering intact; Close unblocks pending and future sends.
type ChannelSink struct {
	ch        chan model.OutputLine
	done      chan struct{}
	closeOnce sync.Once
	sessionID string
	mu        sync.Mutex
}

// NewChannelSink creates a sink with the given channel buffer size
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		ch:   make(chan model.OutputLine, buffer),
		done: make(chan struct{}),
	}
}

// Lines returns the receive side of the sink
func (s *ChannelSink) Lines() <-chan model.OutputLine {
	return s.ch
}

// SetSession stamps subsequent lines with a run session ID
func (s *ChannelSink) SetSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// Close stops delivery. Lines sent after Close are dropped.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChannelSink) Clear() {
	s.send("", model.OutputTypeClear)
}

func (s *ChannelSink) AppendLine(text string) {
	s.send(text, model.OutputTypeStdout)
}

func (s *ChannelSink) AppendBlock(text string, style model.OutputType) {
	s.send(text, style)
}

// Debug sends a line that only the debug panel shows
func (s *ChannelSink) Debug(text string) {
	s.send(text, model.OutputTypeDebug)
}

func (s *ChannelSink) send(text string, typ model.OutputType) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()

	line := model.OutputLine{Text: text, Type: typ, Timestamp: time.Now(), SessionID: id}
	select {
	case <-s.done:
	case s.ch <- line:
	}
}

// WriterSink prints to plain writers for headless runs. Stdout lines go to
// out; everything styled goes to errOut so the script's output stays pipeable.
type WriterSink struct {
	out    io.Writer
	errOut io.Writer

	statusStyle  lipgloss.Style
	warningStyle lipgloss.Style
	errorStyle   lipgloss.Style
}

// NewWriterSink creates a WriterSink. Colors are only emitted when errOut is
// a terminal.
func NewWriterSink(out, errOut io.Writer) *WriterSink {
	r := lipgloss.NewRenderer(errOut)
	return &WriterSink{
		out:          out,
		errOut:       errOut,
		statusStyle:  r.NewStyle().Foreground(lipgloss.Color("#5C6370")),
		warningStyle: r.NewStyle().Foreground(lipgloss.Color("#D19A66")),
		errorStyle:   r.NewStyle().Foreground(lipgloss.Color("#E06C75")),
	}
}

// Clear is a no-op; a terminal scrollback is not ours to clear
func (s *WriterSink) Clear() {}

func (s *WriterSink) AppendLine(text string) {
	fmt.Fprintln(s.out, text)
}

func (s *WriterSink) AppendBlock(text string, style model.OutputType) {
	text = strings.TrimRight(text, "\n")
	switch style {
	case model.OutputTypeStatus:
		fmt.Fprintln(s.errOut, s.statusStyle.Render(text))
	case model.OutputTypeWarning:
		fmt.Fprintln(s.errOut, s.warningStyle.Render(text))
	case model.OutputTypeStderr:
		fmt.Fprintln(s.errOut, s.errorStyle.Render(text))
	case model.OutputTypeStdout:
		fmt.Fprintln(s.out, text)
	}
}
