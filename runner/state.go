package runner

// State is a phase of a job's lifecycle. Transitions are strictly forward;
// a job never revisits an earlier state.
type State int

const (
	StatePending State = iota
	StateSetup
	StateExecuting
	StateValidating
	StateCleanup
	StateDone
)

var stateNames = map[State]string{
	StatePending:    "PENDING",
	StateSetup:      "SETUP",
	StateExecuting:  "EXECUTING",
	StateValidating: "VALIDATING",
	StateCleanup:    "CLEANUP",
	StateDone:       "DONE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}
