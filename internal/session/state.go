package session

import "fmt"

// State is the lifecycle state of a recording session.
type State int

const (
	// StateIdle means no recording is in progress.
	StateIdle State = iota

	// StateStarting means devices are being opened and the output file created.
	StateStarting

	// StateRecording means audio is being captured, mixed, and encoded.
	StateRecording

	// StatePaused means capture continues but mixed frames are discarded.
	StatePaused

	// StateStopping means the pipeline is draining and the file is being finalized.
	StateStopping

	// StateFinalized means the last recording completed and its artifact was
	// handed to the dispatcher.
	StateFinalized

	// StateAborted means the last recording failed and any partial file was removed.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal successor states for each state.
// Finalized and Aborted are terminal for a recording but allow a new
// Starting, so one Manager can run recordings back to back.
var transitions = map[State][]State{
	StateIdle:      {StateStarting},
	StateStarting:  {StateRecording, StateAborted},
	StateRecording: {StatePaused, StateStopping, StateAborted},
	StatePaused:    {StateRecording, StateStopping, StateAborted},
	StateStopping:  {StateFinalized, StateAborted},
	StateFinalized: {StateStarting},
	StateAborted:   {StateStarting},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
