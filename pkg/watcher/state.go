package watcher

// State is the lifecycle position of one watched download.
type State int

const (
	Idle State = iota
	AwaitingStart
	AwaitingCompletion
	Completed
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingStart:
		return "awaiting_start"
	case AwaitingCompletion:
		return "awaiting_completion"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Completed || s == TimedOut || s == Failed
}
