package playback

import "fmt"

// EventKind is the closed set of notifications a session emits. Collaborators
// consume these from a channel instead of registering ad hoc callbacks.
type EventKind int

const (
	// EventGenerating carries a duration update while narration is being
	// produced. The first event with Duration > 0 is the signal that partial
	// audio exists and delivery can attach.
	EventGenerating EventKind = iota
	// EventReady fires once when generation completes; Duration is final.
	EventReady
	// EventError carries a human-readable failure reason. Terminal until reset.
	EventError
	// EventReset fires when the session returns to the not-generated state.
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventGenerating:
		return "generating"
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one state-machine notification.
type Event struct {
	Kind     EventKind
	Duration float64 // seconds; set for Generating and Ready
	Reason   string  // set for Error
}
