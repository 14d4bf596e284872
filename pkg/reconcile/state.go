package reconcile

// State is a step of the reconciler's state machine.
type State int

const (
	Idle State = iota
	Merging
	Pushing
	Verifying
	Pulling
	Settled
	Inconsistent
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Merging:
		return "merging"
	case Pushing:
		return "pushing"
	case Verifying:
		return "verifying"
	case Pulling:
		return "pulling"
	case Settled:
		return "settled"
	case Inconsistent:
		return "inconsistent"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends an operation.
func (s State) Terminal() bool {
	return s == Settled || s == Inconsistent || s == Failed
}
