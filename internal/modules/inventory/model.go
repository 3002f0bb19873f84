// README: Inventory aggregate and blood-bag definitions.
package inventory

import (
	"time"

	"hemohive/internal/types"
)

type BagStatus string

const (
	BagAvailable BagStatus = "AVAILABLE"
	BagListed    BagStatus = "LISTED"
	BagRemoved   BagStatus = "REMOVED"
)

// Bag is a physical unit of blood with a facility-assigned identifier.
// The one-hop rule: a bag with TransferCount > 0 can no longer be listed
// for exchange between facilities.
type Bag struct {
	ID            types.ID
	BagID         string
	Group         types.BloodGroup
	Units         int
	ExpiresAt     time.Time
	OwnerID       types.ID
	OriginID      types.ID
	TransferCount int
	Status        BagStatus
	CreatedAt     time.Time
}

// Eligible reports whether the bag may be listed for exchange.
func (b Bag) Eligible() bool {
	return b.Status == BagAvailable && b.TransferCount == 0
}

// Level is the aggregate unit count for one (hospital, blood group) pair.
type Level struct {
	HospitalID types.ID
	Group      types.BloodGroup
	Quantity   int
}

// AddItem is one entry of a batch add.
type AddItem struct {
	BagID     string
	Group     types.BloodGroup
	Units     int
	ExpiresAt time.Time
}

// AddFailure records why one batch entry was not added.
type AddFailure struct {
	BagID  string `json:"bag_id"`
	Reason string `json:"reason"`
}

// AddReport summarises a batch add; failures never abort the batch.
type AddReport struct {
	Added  []string     `json:"added"`
	Failed []AddFailure `json:"failed"`
}
