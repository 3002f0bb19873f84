// README: Driver registry model and availability states.
package driver

import (
	"time"

	"hemohive/internal/types"
)

type Status string

const (
	StatusOffline Status = "OFFLINE"
	StatusOnline  Status = "ONLINE"
	StatusBusy    Status = "BUSY"
)

type Driver struct {
	ID          types.ID
	UserID      types.ID
	Status      Status
	Location    *types.Point
	LocatedAt   *time.Time
	Phone       string
	Vehicle     string
	Blocked     bool
	Completed   int
	CreatedAt   time.Time
}

// Candidate is a driver eligible for a dispatch proposal, annotated with the
// distance from the pickup point when known.
type Candidate struct {
	ID         types.ID
	DistanceKm float64
	Position   *types.Point
	HasGeo     bool
	CreatedAt  time.Time
}
