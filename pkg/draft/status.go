package draft

type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusPosted          Status = "posted"
	StatusFailed          Status = "failed"
	StatusRejected        Status = "rejected"
	StatusScheduled       Status = "scheduled"
	StatusExpired         Status = "expired"
)

// Event names one lifecycle edge request.
type Event string

const (
	EventApprove         Event = "approve"
	EventReject          Event = "reject"
	EventSchedule        Event = "schedule"
	EventDispatchSuccess Event = "dispatch_success"
	EventDispatchFailure Event = "dispatch_failure"
	EventExpire          Event = "expire"
)

var terminalStatuses = map[Status]bool{
	StatusPosted:   true,
	StatusRejected: true,
	StatusExpired:  true,
}

// Lifecycle transition table, the single source of truth for which edges
// exist. failed → approved is the human retry path; approved has only the
// two dispatch outcomes, which is what makes a concurrent second approve
// fail instead of double-dispatching.
var validTransitions = map[Status]map[Event]Status{
	StatusPendingApproval: {
		EventApprove:  StatusApproved,
		EventReject:   StatusRejected,
		EventSchedule: StatusScheduled,
		EventExpire:   StatusExpired,
	},
	StatusApproved: {
		EventDispatchSuccess: StatusPosted,
		EventDispatchFailure: StatusFailed,
	},
	StatusFailed: {
		EventApprove: StatusApproved,
	},
	StatusScheduled: {
		EventApprove: StatusApproved,
		EventExpire:  StatusExpired,
	},
}

var validStatuses = map[Status]bool{
	StatusPendingApproval: true,
	StatusApproved:        true,
	StatusPosted:          true,
	StatusFailed:          true,
	StatusRejected:        true,
	StatusScheduled:       true,
	StatusExpired:         true,
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidStatus(s Status) bool {
	return validStatuses[s]
}

// Next resolves the edge for event from the current status. It returns an
// *InvalidTransitionError when the table has no such edge, including every
// request out of a terminal state.
func Next(from Status, event Event) (Status, error) {
	allowed, ok := validTransitions[from]
	if !ok {
		return "", &InvalidTransitionError{From: from, Event: event}
	}
	to, ok := allowed[event]
	if !ok {
		return "", &InvalidTransitionError{From: from, Event: event}
	}
	return to, nil
}

// Events lists the outgoing edges from a status, for diagnostics.
func Events(from Status) []Event {
	allowed := validTransitions[from]
	out := make([]Event, 0, len(allowed))
	for ev := range allowed {
		out = append(out, ev)
	}
	return out
}
