package session_test

import (
	"testing"

	"github.com/MrWong99/tapedeck/internal/session"
)

func TestState_Strings(t *testing.T) {
	t.Parallel()
	cases := map[session.State]string{
		session.StateIdle:      "idle",
		session.StateStarting:  "starting",
		session.StateRecording: "recording",
		session.StatePaused:    "paused",
		session.StateStopping:  "stopping",
		session.StateFinalized: "finalized",
		session.StateAborted:   "aborted",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestState_LegalTransitions(t *testing.T) {
	t.Parallel()
	legal := []struct{ from, to session.State }{
		{session.StateIdle, session.StateStarting},
		{session.StateStarting, session.StateRecording},
		{session.StateStarting, session.StateAborted},
		{session.StateRecording, session.StatePaused},
		{session.StatePaused, session.StateRecording},
		{session.StateRecording, session.StateStopping},
		{session.StatePaused, session.StateStopping},
		{session.StateStopping, session.StateFinalized},
		{session.StateStopping, session.StateAborted},
		{session.StateFinalized, session.StateStarting},
		{session.StateAborted, session.StateStarting},
	}
	for _, c := range legal {
		if !c.from.CanTransition(c.to) {
			t.Errorf("%v -> %v should be legal", c.from, c.to)
		}
	}

	illegal := []struct{ from, to session.State }{
		{session.StateIdle, session.StateRecording},
		{session.StateIdle, session.StateStopping},
		{session.StatePaused, session.StateStarting},
		{session.StateFinalized, session.StateStopping},
		{session.StateAborted, session.StateRecording},
		{session.StateStopping, session.StateRecording},
	}
	for _, c := range illegal {
		if c.from.CanTransition(c.to) {
			t.Errorf("%v -> %v should be illegal", c.from, c.to)
		}
	}
}
