package domain

// Phase is the lifecycle position of a chat session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseError     Phase = "error"
)

// Status is the observable session state. Message is only set in PhaseError.
type Status struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message,omitempty"`
}

// Idle is the zero-activity status.
func Idle() Status { return Status{Phase: PhaseIdle} }

// Failed returns an error status carrying a human-readable message.
func Failed(message string) Status { return Status{Phase: PhaseError, Message: message} }

// Busy reports whether a request is in flight.
func (s Status) Busy() bool {
	return s.Phase == PhaseSending || s.Phase == PhaseStreaming
}

// RequestMode selects the chat payload variant.
type RequestMode int

const (
	ModeDirect RequestMode = iota
	ModeRAG
)

// ModeFor maps the RAG toggle to a request mode.
func ModeFor(ragMode bool) RequestMode {
	if ragMode {
		return ModeRAG
	}
	return ModeDirect
}

func (m RequestMode) String() string {
	if m == ModeRAG {
		return "rag"
	}
	return "direct"
}
