package pipeline

import "fmt"

// State is the pipeline worker's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
	StateError
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
