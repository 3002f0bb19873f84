// README: Blood request aggregate, urgency tiers, and status flow.
package request

import (
	"time"

	"hemohive/internal/types"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusFulfilled Status = "FULFILLED"
)

type Urgency string

const (
	UrgencyNormal    Urgency = "NORMAL"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// Request is a hospital or donor request for blood units. HospitalID is nil
// while the request is open to any hospital; approval claims it.
type Request struct {
	ID            types.ID
	RequesterID   types.ID
	HospitalID    *types.ID
	Group         types.BloodGroup
	Units         int
	Urgency       Urgency
	Status        Status
	Reason        string
	IsBorrow      bool
	PaymentStatus string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// AllowedTransitions represents the request flow. FULFILLED is reached only
// through delivery dropoff verification.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusFulfilled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
