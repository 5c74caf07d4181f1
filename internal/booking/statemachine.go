package booking

var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:      {StatusInSession, StatusCancelled},
	StatusInSession:      {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusCheckedIn, StatusInSession,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// CanTransition checks from→to against the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a booking in s may be cancelled. An override
// also allows cancelling a session in progress.
func Cancellable(s Status, override bool) bool {
	if s.Terminal() {
		return false
	}
	if CanTransition(s, StatusCancelled) {
		return true
	}
	return override && s == StatusInSession
}

// significantStatuses are the transitions patients are notified about.
var significantStatuses = map[Status]bool{
	StatusCheckedIn: true,
	StatusNoShow:    true,
	StatusCompleted: true,
}

func (s Status) Significant() bool { return significantStatuses[s] }
