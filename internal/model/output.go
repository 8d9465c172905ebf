package model

import "time"

// OutputType represents the type of output line
type OutputType string

const (
	OutputTypeStdout  OutputType = "stdout"
	OutputTypeStderr  OutputType = "stderr"
	OutputTypeStatus  OutputType = "status"
	OutputTypeWarning OutputType = "warning"
	OutputTypeClear   OutputType = "clear" // Not displayed; empties the console
	OutputTypeDebug   OutputType = "debug" // Shown only in the debug panel
)

// OutputLine represents a single console entry. Stderr entries may span
// several lines when the runner emits stderr as one block.
type OutputLine struct {
	Text      string
	Type      OutputType
	Timestamp time.Time
	SessionID string // Run session that produced the line, empty for UI messages
}
