package delivery

import "fulfillment-core/internal/faults"

type State string

const (
	StateAssigned         State = "assigned"
	StatePickedUp         State = "picked_up"
	StateInTransit        State = "in_transit"
	StateArrived          State = "arrived"
	StateDelivered        State = "delivered"
	StateFailed           State = "failed"
	StateReturning        State = "returning"
	StateReturned         State = "returned"
	StateReturnPending    State = "return_pending"
	StateReturnConfirmed  State = "return_confirmed"
	StateReturnProcessing State = "return_processing"
	StateReturnCompleted  State = "return_completed"
)

var validNext = map[State]map[State]bool{
	StateAssigned:         {StatePickedUp: true},
	StatePickedUp:         {StateInTransit: true},
	StateInTransit:        {StateArrived: true},
	StateArrived:          {StateDelivered: true, StateFailed: true},
	StateDelivered:        {},
	StateFailed:           {StateReturning: true},
	StateReturning:        {StateReturned: true},
	StateReturned:         {StateReturnPending: true},
	StateReturnPending:    {StateReturnConfirmed: true},
	StateReturnConfirmed:  {StateReturnProcessing: true},
	StateReturnProcessing: {StateReturnCompleted: true},
	StateReturnCompleted:  {},
}

func Known(s State) bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

// courierTargets are driven by the assigned courier; the return
// acknowledgement chain belongs to admins.
var courierTargets = map[State]bool{
	StatePickedUp:  true,
	StateInTransit: true,
	StateArrived:   true,
	StateDelivered: true,
	StateFailed:    true,
	StateReturning: true,
	StateReturned:  true,
}

func CourierTarget(s State) bool { return courierTargets[s] }

// Evidence carries the proof a transition may require: photos for pickup,
// delivery and return, a reason for failure, an optional location breadcrumb.
type Evidence struct {
	Images        []string `json:"images,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Location      string   `json:"location,omitempty"`
}

// ValidateEvidence runs before any write; a rejection leaves both the order
// and the tracking record untouched.
func ValidateEvidence(target State, ev Evidence) error {
	switch target {
	case StatePickedUp:
		if len(ev.Images) == 0 {
			return &faults.ValidationError{Field: "pickup_images", Reason: "at least one proof-of-pickup photo is required"}
		}
	case StateDelivered:
		if len(ev.Images) == 0 {
			return &faults.ValidationError{Field: "delivery_images", Reason: "at least one proof-of-delivery photo is required"}
		}
	case StateFailed:
		if ev.FailureReason == "" {
			return &faults.ValidationError{Field: "failure_reason", Reason: "is required"}
		}
	case StateReturned:
		if len(ev.Images) == 0 {
			return &faults.ValidationError{Field: "return_images", Reason: "at least one proof-of-return photo is required"}
		}
	}
	return nil
}
