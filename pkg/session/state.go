package session

// State is one step of the session lifecycle.
type State int

const (
	// StateIdle shows the pre-session setup form.
	StateIdle State = iota
	// StateAwaitingMedia waits for microphone access or recognizer init.
	StateAwaitingMedia
	// StateStarting waits for the coordinator's start acknowledgment.
	StateStarting
	// StateActive is a live, recording session.
	StateActive
	// StatePaused keeps all handles but suspends capture and the timer.
	StatePaused
	// StateEnding runs teardown and waits for the coordinator's confirmation.
	StateEnding
	// StateEnded is terminal for one session; the UI resets from here.
	StateEnded
	// StateError is reached from any non-terminal state on a fatal failure.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingMedia:
		return "AWAITING_MEDIA"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
