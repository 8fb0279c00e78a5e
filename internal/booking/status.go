package booking

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
	StatusDone      Status = "done"
	StatusCompleted Status = "completed"
)

var AllStatuses = []Status{
	StatusPending,
	StatusAccepted,
	StatusRejected,
	StatusPaid,
	StatusDone,
	StatusCompleted,
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusPaid},
	StatusPaid:      {StatusDone},
	StatusDone:      {StatusCompleted},
	StatusRejected:  {},
	StatusCompleted: {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// RequiresFee reports whether a booking in this status must carry a fee.
func (s Status) RequiresFee() bool {
	switch s {
	case StatusAccepted, StatusPaid, StatusDone, StatusCompleted:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown booking status %q", raw)
	}
	return s, nil
}
