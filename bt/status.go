// Package bt implements the behavior tree node model: the tri-state tick
// Status, the Node contract, composite nodes (Sequence, Selector,
// Parallel), decorator nodes (Inverter, Repeater, UntilSuccess,
// UntilFailure) and leaf nodes (Action, Condition, Wait).
package bt

// Status is the result of a behavior tree node tick.
type Status int

// StatusFailure is the zero value: a node that has never ticked, or
// was just reset, reports Failure.
const (
	StatusFailure Status = iota
	StatusSuccess
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	case StatusRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// Policy decides how a Parallel node aggregates its children's results.
type Policy int

const (
	// SucceedOnAll fails if any child failed, else runs while any child
	// is running, else succeeds.
	SucceedOnAll Policy = iota
	// SucceedOnOne succeeds if at least one child succeeded, else runs
	// while any child is running, else fails.
	SucceedOnOne
	// FailOnAll fails only when every child failed.
	FailOnAll
	// FailOnOne fails as soon as at least one child failed.
	FailOnOne
)

func (p Policy) String() string {
	switch p {
	case SucceedOnAll:
		return "SucceedOnAll"
	case SucceedOnOne:
		return "SucceedOnOne"
	case FailOnAll:
		return "FailOnAll"
	case FailOnOne:
		return "FailOnOne"
	default:
		return "Unknown"
	}
}
