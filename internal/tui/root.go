package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/iammorganparry/runpad/internal/document"
	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
	"github.com/iammorganparry/runpad/internal/workbench"
)

// ViewMode represents the current view
type ViewMode int

const (
	ViewModeMain   ViewMode = iota // Editor and console
	ViewModePrompt                 // Path prompt for open / save as
	ViewModeError                  // Modal error message
	ViewModeHelp                   // Help overlay
)

// PromptKind tells what a submitted path prompt is for
type PromptKind int

const (
	PromptOpen PromptKind = iota
	PromptSaveAs
)

// Messages
type outputLineMsg struct {
	line model.OutputLine
}

type outputBatchMsg struct {
	lines []model.OutputLine
}

// pollingStoppedMsg is sent when the output channel closes
type pollingStoppedMsg struct{}

type runFinishedMsg struct {
	result process.Result
}

type spinnerTickMsg struct{}

// Spinner animation frames
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Alerts collects errors reported by the document controller so the model
// can show them as a modal. It is shared by pointer across model copies.
type Alerts struct {
	mu    sync.Mutex
	title string
	err   error
}

// NewAlerts creates an empty alert slot
func NewAlerts() *Alerts {
	return &Alerts{}
}

// NotifyError records an error to show
func (a *Alerts) NotifyError(title string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.title = title
	a.err = err
}

// take returns and clears the pending alert. err is nil when there is none.
func (a *Alerts) take() (title string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	title, err = a.title, a.err
	a.title, a.err = "", nil
	return title, err
}

// Options wires the model to its collaborators
type Options struct {
	Workbench *workbench.Workbench
	Sink      *process.ChannelSink
	Alerts    *Alerts
	Clipboard workbench.Clipboard
	Logger    *slog.Logger
	Debug     bool
}

// Model is the root Bubble Tea model
type Model struct {
	// Terminal dimensions
	width  int
	height int

	// View state
	viewMode ViewMode

	// Collaborators
	wb        *workbench.Workbench
	docs      *document.Controller
	sink      *process.ChannelSink
	alerts    *Alerts
	clipboard workbench.Clipboard
	logger    *slog.Logger

	// Editor
	editor        textarea.Model
	editorFocused bool
	savedText     string // Buffer contents at the last open/save

	// Console
	outputLines []model.OutputLine
	console     viewport.Model

	// Path prompt
	prompt       textinput.Model
	promptKind   PromptKind
	runAfterSave bool // Save-as was started by a run request

	// Error modal
	errTitle string
	errText  string

	// Running state
	isRunning    bool
	cancelRun    context.CancelFunc
	runStartTime time.Time
	spinnerIndex int
	lastResult   *process.Result
	quitting     bool // Quit requested while a run was active

	// Transient status bar message
	notice string

	// Key bindings
	keys KeyMap

	debug DebugPanel

	// Ready state
	ready bool
}

// NewRootModel creates a new root model
func NewRootModel(opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Write a script, then press F5 to run it..."
	ta.ShowLineNumbers = true
	ta.CharLimit = 0 // No limit
	ta.MaxHeight = 0
	ta.MaxWidth = 0
	ta.Focus()

	ti := textinput.New()
	ti.Prompt = "❯ "
	ti.PromptStyle = InputPromptStyle
	ti.CharLimit = 0
	ti.Width = 60

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := Model{
		viewMode:      ViewModeMain,
		wb:            opts.Workbench,
		docs:          opts.Workbench.Docs,
		sink:          opts.Sink,
		alerts:        opts.Alerts,
		clipboard:     opts.Clipboard,
		logger:        logger,
		editor:        ta,
		editorFocused: true,
		console:       viewport.New(80, 10),
		prompt:        ti,
		keys:          DefaultKeyMap(),
		debug:         NewDebugPanel(opts.Debug),
	}
	if m.alerts == nil {
		m.alerts = NewAlerts()
	}

	// The controller may already hold a document opened from the command line
	if doc := m.docs.Current(); doc.Text != "" || doc.Saved() {
		m.editor.SetValue(doc.Text)
		moveCursorToRow(&m.editor, 0)
		m.savedText = doc.Text
	}
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		waitForOutput(m.sink.Lines()),
	)
}

func spinnerTickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case outputLineMsg:
		m.applyOutput(msg.line)
		m.refreshConsole()
		return m, waitForOutput(m.sink.Lines())

	case outputBatchMsg:
		for _, line := range msg.lines {
			m.applyOutput(line)
		}
		m.refreshConsole()
		return m, waitForOutput(m.sink.Lines())

	case pollingStoppedMsg:
		return m, nil

	case runFinishedMsg:
		m.isRunning = false
		m.cancelRun = nil
		res := msg.result
		m.lastResult = &res
		if m.quitting {
			m.sink.Close()
			return m, tea.Quit
		}
		return m, nil

	case spinnerTickMsg:
		if !m.isRunning {
			return m, nil
		}
		m.spinnerIndex = (m.spinnerIndex + 1) % len(spinnerFrames)
		return m, spinnerTickCmd()

	case tea.KeyMsg:
		switch m.viewMode {
		case ViewModeHelp:
			if key.Matches(msg, m.keys.Escape, m.keys.Help, m.keys.Enter) {
				m.viewMode = ViewModeMain
			}
			return m, nil
		case ViewModeError:
			if key.Matches(msg, m.keys.Escape, m.keys.Enter) {
				m.viewMode = ViewModeMain
				m.errTitle, m.errText = "", ""
			}
			return m, nil
		case ViewModePrompt:
			return m.updatePrompt(msg)
		}
		return m.updateMain(msg)
	}

	// Forward everything else (cursor blink) to the focused component
	if m.viewMode == ViewModePrompt {
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		cmds = append(cmds, cmd)
	} else if m.editorFocused {
		var cmd tea.Cmd
		m.editor, cmd = m.editor.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancelRun != nil {
			// Quit once the child has been reaped
			m.cancelRun()
			m.quitting = true
			m.notice = "Stopping run before quitting..."
			return m, nil
		}
		m.sink.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.viewMode = ViewModeHelp
		return m, nil

	case key.Matches(msg, m.keys.Open):
		return m, m.openPrompt(PromptOpen, false)

	case key.Matches(msg, m.keys.SaveAs):
		return m, m.openPrompt(PromptSaveAs, false)

	case key.Matches(msg, m.keys.Save):
		if !m.docs.Current().Saved() {
			return m, m.openPrompt(PromptSaveAs, false)
		}
		m.syncBuffer()
		if m.docs.Save(context.Background()) {
			m.savedText = m.docs.Current().Text
			m.notice = "Saved " + m.docs.Current().Path
		}
		m.showPendingAlert()
		return m, nil

	case key.Matches(msg, m.keys.Run):
		return m.requestRun()

	case key.Matches(msg, m.keys.Cancel):
		if m.cancelRun != nil {
			m.cancelRun()
			m.notice = "Stopping run..."
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		if !m.isRunning {
			m.outputLines = nil
			m.refreshConsole()
		}
		return m, nil

	case key.Matches(msg, m.keys.Focus):
		m.editorFocused = !m.editorFocused
		if m.editorFocused {
			return m, m.editor.Focus()
		}
		m.editor.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Cut):
		if m.editorFocused {
			m.cutLine()
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.editorFocused {
		m.editor, cmd = m.editor.Update(msg)
	} else {
		m.console, cmd = m.console.Update(msg)
	}
	return m, cmd
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.closePrompt()
		if m.promptKind == PromptSaveAs && m.runAfterSave {
			m.runAfterSave = false
			m.abortRun()
		}
		return m, m.focusEditorCmd()

	case key.Matches(msg, m.keys.Enter):
		path := strings.TrimSpace(m.prompt.Value())
		if path == "" {
			return m, nil
		}
		m.closePrompt()
		cmd := m.submitPrompt(path)
		return m, tea.Batch(cmd, m.focusEditorCmd())
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

// submitPrompt acts on a path entered in the prompt
func (m *Model) submitPrompt(path string) tea.Cmd {
	switch m.promptKind {
	case PromptOpen:
		doc, err := m.docs.Open(path)
		if err != nil {
			m.showError("Open failed", err)
			return nil
		}
		m.editor.SetValue(doc.Text)
		moveCursorToRow(&m.editor, 0)
		m.savedText = doc.Text
		m.notice = "Opened " + path
		return nil

	case PromptSaveAs:
		runAfter := m.runAfterSave
		m.runAfterSave = false
		m.syncBuffer()
		if !m.docs.SaveTo(path) {
			m.showPendingAlert()
			if runAfter {
				m.abortRun()
			}
			return nil
		}
		m.savedText = m.docs.Current().Text
		if runAfter {
			return m.startRun(path)
		}
		m.notice = "Saved " + path
	}
	return nil
}

// requestRun saves the buffer and starts a run, prompting for a path first
// when the buffer was never saved
func (m Model) requestRun() (tea.Model, tea.Cmd) {
	if m.isRunning {
		m.notice = "A script is already running"
		return m, nil
	}
	if !m.docs.Current().Saved() {
		return m, m.openPrompt(PromptSaveAs, true)
	}

	m.syncBuffer()
	if !m.docs.Save(context.Background()) {
		m.showPendingAlert()
		m.abortRun()
		return m, nil
	}
	m.savedText = m.docs.Current().Text
	return m, m.startRun(m.docs.Current().Path)
}

// startRun runs path on a goroutine. Output arrives through the sink.
func (m *Model) startRun(path string) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.isRunning = true
	m.cancelRun = cancel
	m.runStartTime = time.Now()
	m.spinnerIndex = 0
	m.lastResult = nil

	wb, sink := m.wb, m.sink
	run := func() tea.Msg {
		defer cancel()
		return runFinishedMsg{result: wb.RunSaved(ctx, path, sink)}
	}
	return tea.Batch(run, spinnerTickCmd())
}

// abortRun reports a run refused because the buffer was not saved
func (m *Model) abortRun() {
	var buf lineBuffer
	res := m.wb.Abort(&buf)
	m.lastResult = &res
	for _, line := range buf.lines {
		m.applyOutput(line)
	}
	m.refreshConsole()
}

func (m *Model) cutLine() {
	text := m.editor.Value()
	row := m.editor.Line()
	rest, err := m.wb.Cut(text, row, m.clipboard)
	if err != nil {
		m.notice = "Clipboard unavailable: " + err.Error()
		return
	}
	m.editor.SetValue(rest)
	moveCursorToRow(&m.editor, row)
	m.syncBuffer()
}

// syncBuffer copies the editor contents into the document
func (m *Model) syncBuffer() {
	m.docs.SetText(m.editor.Value())
}

func (m *Model) openPrompt(kind PromptKind, runAfterSave bool) tea.Cmd {
	m.viewMode = ViewModePrompt
	m.promptKind = kind
	m.runAfterSave = runAfterSave
	m.prompt.Reset()
	switch kind {
	case PromptOpen:
		m.prompt.Placeholder = "path of file to open"
	case PromptSaveAs:
		m.prompt.Placeholder = "save as path"
		m.prompt.SetValue(m.docs.Current().Path)
		m.prompt.CursorEnd()
	}
	m.editor.Blur()
	return m.prompt.Focus()
}

func (m *Model) closePrompt() {
	m.prompt.Blur()
	m.viewMode = ViewModeMain
}

func (m *Model) focusEditorCmd() tea.Cmd {
	if m.viewMode != ViewModeMain || !m.editorFocused {
		return nil
	}
	return m.editor.Focus()
}

func (m *Model) showError(title string, err error) {
	m.logger.Warn("showing error", "title", title, "error", err)
	m.viewMode = ViewModeError
	m.errTitle = title
	m.errText = err.Error()
}

// showPendingAlert switches to the error modal when the controller
// reported one
func (m *Model) showPendingAlert() {
	if title, err := m.alerts.take(); err != nil {
		m.showError(title, err)
	}
}

// applyOutput folds one sink event into the console
func (m *Model) applyOutput(line model.OutputLine) {
	switch line.Type {
	case model.OutputTypeClear:
		m.outputLines = nil
	case model.OutputTypeDebug:
		m.debug.AddLine(line.Timestamp, line.Text)
	default:
		m.outputLines = append(m.outputLines, line)
	}
}

func (m *Model) refreshConsole() {
	m.console.SetContent(m.renderOutputContent())
	m.console.GotoBottom()
}

// layout sizes the panes from the terminal dimensions
func (m *Model) layout() {
	bodyHeight := m.height - 2 // Header and status bar
	editorHeight := bodyHeight * 3 / 5
	consoleHeight := bodyHeight - editorHeight

	m.editor.SetWidth(max(m.width-2, 10))
	m.editor.SetHeight(max(editorHeight-2, 1))

	consoleWidth := m.width
	if m.debug.IsEnabled() {
		consoleWidth -= debugPanelWidth
	}
	m.console.Width = max(consoleWidth-4, 10)
	m.console.Height = max(consoleHeight-3, 1)
	m.prompt.Width = max(m.width-12, 10)
	m.refreshConsole()
}

const debugPanelWidth = 40

// waitForOutput returns a command that blocks until output is available
// and then drains all immediately available lines for efficiency.
func waitForOutput(outputChan <-chan model.OutputLine) tea.Cmd {
	return func() tea.Msg {
		if outputChan == nil {
			return nil
		}

		// First, block until we get at least one line
		line, ok := <-outputChan
		if !ok {
			return pollingStoppedMsg{}
		}
		lines := []model.OutputLine{line}

		// Then drain any additional immediately available lines (non-blocking)
		for {
			select {
			case l, ok := <-outputChan:
				if !ok {
					return outputBatchMsg{lines: lines}
				}
				lines = append(lines, l)
			default:
				if len(lines) == 1 {
					return outputLineMsg{line: lines[0]}
				}
				return outputBatchMsg{lines: lines}
			}
		}
	}
}

// View renders the model
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	switch m.viewMode {
	case ViewModeHelp:
		return m.helpView()
	case ViewModeError:
		return m.errorView()
	}
	return m.mainView()
}

func (m Model) mainView() string {
	var sections []string
	sections = append(sections, m.renderHeader())

	editorStyle := EditorStyle
	if m.editorFocused && m.viewMode == ViewModeMain {
		editorStyle = editorStyle.BorderForeground(ColorBorderActive)
	}
	sections = append(sections, editorStyle.Render(m.editor.View()))

	console := m.renderConsole()
	if m.debug.IsEnabled() {
		console = lipgloss.JoinHorizontal(lipgloss.Top, console,
			m.debug.Render(debugPanelWidth, lipgloss.Height(console)))
	}
	sections = append(sections, console)

	if m.viewMode == ViewModePrompt {
		sections = append(sections, m.renderPrompt())
	}
	sections = append(sections, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := m.docs.Title()
	if m.isDirty() {
		title += DirtyMarkStyle.Render(" ●")
	}
	return HeaderStyle.Render(title)
}

func (m Model) isDirty() bool {
	return m.editor.Value() != m.savedText
}

func (m Model) renderConsole() string {
	style := ConsoleStyle
	if !m.editorFocused && m.viewMode == ViewModeMain {
		style = style.BorderForeground(ColorBorderActive)
	}
	title := ConsoleTitleStyle.Render("Console")
	return style.Width(m.console.Width + 2).Render(title + "\n" + m.console.View())
}

func (m Model) renderPrompt() string {
	label := "Open file"
	if m.promptKind == PromptSaveAs {
		label = "Save as"
	}
	return InputStyle.Width(max(m.width-2, 10)).Render(
		HelpTitleStyle.Render(label) + "\n" + m.prompt.View())
}

func (m Model) renderStatusBar() string {
	var parts []string

	switch {
	case m.isRunning:
		elapsed := time.Since(m.runStartTime).Round(100 * time.Millisecond)
		parts = append(parts, StatusRunningStyle.Render(
			fmt.Sprintf("%s Running (%s)", spinnerFrames[m.spinnerIndex], elapsed)))
	case m.lastResult != nil:
		parts = append(parts, renderResult(*m.lastResult))
	default:
		parts = append(parts, StatusIdleStyle.Render("Idle"))
	}

	if m.notice != "" {
		parts = append(parts, WarningStyle.Render(m.notice))
	}

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		hints = append(hints, HelpKeyStyle.Render(b.Help().Key)+" "+DimStyle.Render(b.Help().Desc))
	}
	parts = append(parts, strings.Join(hints, "  "))

	return StatusBarStyle.Render(strings.Join(parts, " │ "))
}

// renderResult summarises the last run for the status bar
func renderResult(res process.Result) string {
	icon := res.Status.StatusIcon()
	switch res.Status {
	case model.RunStatusCompleted:
		text := fmt.Sprintf("%s exit %d (%s)", icon, res.ExitCode, res.Duration.Round(time.Millisecond))
		if isSuccessfulExit(res.ExitCode) {
			return SuccessStyle.Render(text)
		}
		return ErrorStyle.Render(text)
	case model.RunStatusSpawnFailed:
		return ErrorStyle.Render(icon + " could not start interpreter")
	case model.RunStatusTimedOut:
		return WarningStyle.Render(icon + " timed out")
	case model.RunStatusCancelled:
		return WarningStyle.Render(icon + " cancelled")
	case model.RunStatusAborted:
		return WarningStyle.Render(icon + " not run")
	}
	return DimStyle.Render(string(res.Status))
}

func (m Model) helpView() string {
	var sb strings.Builder
	sb.WriteString(HelpTitleStyle.Render("Keys"))
	sb.WriteString("\n\n")
	for _, group := range m.keys.FullHelp() {
		for _, b := range group {
			sb.WriteString(HelpKeyStyle.Width(10).Render(b.Help().Key))
			sb.WriteString(HelpDescStyle.Render(b.Help().Desc))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(DimStyle.Render("esc to close"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, HelpStyle.Render(sb.String()))
}

func (m Model) errorView() string {
	width := min(max(m.width-10, 20), 80)
	body := ErrorStyle.Bold(true).Render(m.errTitle) + "\n\n" +
		wrapText(m.errText, width-6) + "\n\n" +
		DimStyle.Render("enter to dismiss")
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		ErrorBoxStyle.Width(width).Render(body))
}

// renderOutputContent renders the console entries with per-type styling
func (m Model) renderOutputContent() string {
	var sb strings.Builder

	wrapWidth := m.console.Width - 2
	if wrapWidth < 20 {
		wrapWidth = 20
	}

	for _, line := range m.outputLines {
		text := strings.TrimRight(line.Text, "\n")
		switch line.Type {
		case model.OutputTypeStderr:
			// Errors - red left border block, wrapped (show full errors)
			sb.WriteString(StderrStyle.Render(wrapText(text, wrapWidth-2)))
		case model.OutputTypeStatus:
			sb.WriteString(RunStatusStyle.Render(wrapText(text, wrapWidth)))
		case model.OutputTypeWarning:
			sb.WriteString(WarningStyle.Render(wrapText(text, wrapWidth)))
		default:
			sb.WriteString(StdoutStyle.Render(wrapText(text, wrapWidth)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// lineBuffer is a Sink that collects lines for the model to apply directly
type lineBuffer struct {
	lines []model.OutputLine
}

func (b *lineBuffer) Clear() {
	b.lines = append(b.lines, model.OutputLine{Type: model.OutputTypeClear, Timestamp: time.Now()})
}

func (b *lineBuffer) AppendLine(text string) {
	b.lines = append(b.lines, model.OutputLine{Text: text, Type: model.OutputTypeStdout, Timestamp: time.Now()})
}

func (b *lineBuffer) AppendBlock(text string, style model.OutputType) {
	b.lines = append(b.lines, model.OutputLine{Text: text, Type: style, Timestamp: time.Now()})
}

// Helper functions

// moveCursorToRow puts the cursor at the start of row, clamped to the last line
func moveCursorToRow(ta *textarea.Model, row int) {
	guard := len(ta.Value()) + 1
	for i := 0; ta.Line() > row && i < guard; i++ {
		ta.CursorUp()
	}
	ta.CursorStart()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// isSuccessfulExit reports whether an exit code means the script succeeded
func isSuccessfulExit(exitCode int) bool {
	return exitCode == 0
}

// wrapText wraps text to fit within a given width, preserving word boundaries
// and existing line breaks
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, para := range strings.Split(text, "\n") {
		out = append(out, wrapLine(para, width)...)
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, width int) []string {
	if lipgloss.Width(line) <= width {
		return []string{line}
	}
	var lines []string
	var current strings.Builder
	currentWidth := 0
	for _, word := range strings.Split(line, " ") {
		w := lipgloss.Width(word)
		switch {
		case currentWidth == 0:
		case currentWidth+1+w <= width:
			current.WriteByte(' ')
			currentWidth++
		default:
			lines = append(lines, current.String())
			current.Reset()
			currentWidth = 0
		}
		// Hard-break words longer than the line
		for w > width {
			runes := []rune(word)
			cut := width - currentWidth
			if cut <= 0 {
				lines = append(lines, current.String())
				current.Reset()
				currentWidth = 0
				cut = width
			}
			if cut > len(runes) {
				cut = len(runes)
			}
			current.WriteString(string(runes[:cut]))
			lines = append(lines, current.String())
			current.Reset()
			currentWidth = 0
			word = string(runes[cut:])
			w = lipgloss.Width(word)
		}
		current.WriteString(word)
		currentWidth += w
	}
	lines = append(lines, current.String())
	return lines
}
