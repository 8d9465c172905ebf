package model

import "time"

// RunState is the lifecycle position of a run session
type RunState string

const (
	RunStateIdle           RunState = "idle"
	RunStateSpawning       RunState = "spawning"
	RunStateDrainingStdout RunState = "draining_stdout"
	RunStateDrainingStderr RunState = "draining_stderr"
	RunStateReaping        RunState = "reaping"
	RunStateDone           RunState = "done"
)

// RunStatus is the terminal outcome of a run session
type RunStatus string

const (
	RunStatusCompleted   RunStatus = "completed"    // Process exited; any exit code
	RunStatusSpawnFailed RunStatus = "spawn_failed" // Interpreter could not be started
	RunStatusCancelled   RunStatus = "cancelled"
	RunStatusTimedOut    RunStatus = "timed_out"
	RunStatusAborted     RunStatus = "aborted" // Save failed, nothing spawned
)

// RunSession represents one spawned script execution
type RunSession struct {
	ID          string
	TargetPath  string
	Interpreter string
	State       RunState
	ExitCode    *int // Set once the process was reaped
	StartedAt   time.Time
	FinishedAt  time.Time
}

// StatusIcon returns the icon for the run status
func (s RunStatus) StatusIcon() string {
	switch s {
	case RunStatusCompleted:
		return "✓"
	case RunStatusSpawnFailed:
		return "✗"
	case RunStatusCancelled, RunStatusAborted:
		return "⊘"
	case RunStatusTimedOut:
		return "⏱"
	default:
		return "○"
	}
}
