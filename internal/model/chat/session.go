package chat

// DefaultParticipantName is shown in the header when the counterpart is unknown.
const DefaultParticipantName = "Chat"

// Participant is the counterpart shown in the chat header.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Label returns the header label, falling back to the placeholder.
func (p *Participant) Label() string {
	if p == nil || p.DisplayName == "" {
		return DefaultParticipantName
	}
	return p.DisplayName
}

// ConnectionState is the lifecycle state of a live channel.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
