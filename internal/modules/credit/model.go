// README: Credit (borrow obligation) and return request definitions.
package credit

import (
	"time"

	"hemohive/internal/types"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCleared Status = "CLEARED"
)

// Credit is the obligation created alongside a borrow request: the borrower
// owes the system an equivalent number of units by DueAt.
type Credit struct {
	ID        types.ID
	UserID    types.ID
	RequestID types.ID
	Group     types.BloodGroup
	Units     int
	DueAt     time.Time
	Status    Status
	Penalized bool
	CreatedAt time.Time
}

type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "PENDING"
	ReturnApproved ReturnStatus = "APPROVED"
	ReturnRejected ReturnStatus = "REJECTED"
)

// ReturnRequest is a donor's offer to settle a credit. Units carries the
// penalty-adjusted count computed at creation time.
type ReturnRequest struct {
	ID           types.ID
	CreditID     types.ID
	UserID       types.ID
	HospitalID   types.ID
	Units        int
	Status       ReturnStatus
	Comments     string
	BagID        *string
	BagExpiresAt *time.Time
	CreatedAt    time.Time
}
