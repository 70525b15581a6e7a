package session

// ConnectionStatus is the channel connectivity state.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
)

func (s ConnectionStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TurnState tracks whose turn the conversation is in.
type TurnState int

const (
	// Idle means nobody is speaking.
	Idle TurnState = iota

	// UserTurn means the user is speaking or recently stopped.
	UserTurn

	// AssistantTurn means a reply is being generated or played.
	AssistantTurn

	// Interrupted means the user barged in over assistant audio and
	// the cancellation has not been acknowledged yet.
	Interrupted
)

func (s TurnState) String() string {
	switch s {
	case UserTurn:
		return "user_turn"
	case AssistantTurn:
		return "assistant_turn"
	case Interrupted:
		return "interrupted"
	default:
		return "idle"
	}
}
