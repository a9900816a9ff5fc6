package stream

// State is the lifecycle position of one streamed request.
type State int

const (
	StateOpening State = iota
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events may be written in s.
func (s State) Terminal() bool {
	return s >= StateCompleted
}
