package renderer

import "fmt"

// State is the renderer lifecycle state. It only moves forward.
type State int32

const (
	Created State = iota
	Initializing
	Running
	ShuttingDown
	Destroyed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// BackendState reports how far the backend goroutine got.
type BackendState int32

const (
	BackendStarting BackendState = iota
	BackendRunning
	BackendFailed
	BackendStopped
)

func (s BackendState) String() string {
	switch s {
	case BackendStarting:
		return "starting"
	case BackendRunning:
		return "running"
	case BackendFailed:
		return "failed"
	case BackendStopped:
		return "stopped"
	}
	return fmt.Sprintf("BackendState(%d)", int32(s))
}

// Stats is a snapshot of the renderer counters.
type Stats struct {
	// Published is the generation of the last frame the backend handed over.
	Published uint64
	Presented uint64
	// Dropped counts Render calls that presented nothing because no new
	// frame was available or a step failed.
	Dropped uint64
	Backend BackendState
}
