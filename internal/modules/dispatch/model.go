// README: Delivery aggregate and dispatch status definitions.
package dispatch

import (
	"time"

	"hemohive/internal/types"
)

type Status string

const (
	StatusNone      Status = "NONE"
	StatusSearching Status = "SEARCHING"
	StatusAssigned  Status = "ASSIGNED"
	StatusPickedUp  Status = "PICKED_UP"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Delivery binds an approved blood request to a driver through pickup and
// dropoff. ProposedDriverID and AcceptanceDeadline are always set and cleared
// together; RejectedDriverIDs only ever grows.
type Delivery struct {
	ID                 types.ID
	RequestID          types.ID
	BagID              *string
	DriverID           *types.ID
	ProposedDriverID   *types.ID
	AcceptanceDeadline *time.Time
	RejectedDriverIDs  []types.ID
	PickupCode         string
	DropoffCode        string
	Status             Status
	StatusVersion      int
	StartedAt          *time.Time
	EndedAt            *time.Time
	CreatedAt          time.Time
}

// HasLiveProposal reports whether a proposal exists whose deadline has not
// elapsed at the given instant.
func (d *Delivery) HasLiveProposal(now time.Time) bool {
	return d.ProposedDriverID != nil && d.AcceptanceDeadline != nil && now.Before(*d.AcceptanceDeadline)
}

// Rejected reports whether the driver already declined or timed out on this
// delivery.
func (d *Delivery) Rejected(id types.ID) bool {
	for _, r := range d.RejectedDriverIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Event is one audit entry of the delivery state machine.
type Event struct {
	ID         int64
	DeliveryID types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Reason     string
	CreatedAt  time.Time
}

// RoutePoint is one sample of the courier's track while a delivery is active.
type RoutePoint struct {
	ID         int64
	DeliveryID types.ID
	Position   types.Point
	RecordedAt time.Time
}

// AllowedTransitions represents the dispatch state flow as code. CANCELLED is
// reachable from every non-terminal state; DELIVERED and CANCELLED are
// terminal.
var AllowedTransitions = map[Status][]Status{
	StatusSearching: {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
