// README: Common value types shared across modules.
package types

// ID is an opaque entity identifier (UUID string in practice).
type ID string

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// BloodGroup is one of the eight ABO/Rh groups.
type BloodGroup string

const (
	OPos  BloodGroup = "O+"
	ONeg  BloodGroup = "O-"
	APos  BloodGroup = "A+"
	ANeg  BloodGroup = "A-"
	BPos  BloodGroup = "B+"
	BNeg  BloodGroup = "B-"
	ABPos BloodGroup = "AB+"
	ABNeg BloodGroup = "AB-"
)

var bloodGroups = map[BloodGroup]struct{}{
	OPos: {}, ONeg: {}, APos: {}, ANeg: {},
	BPos: {}, BNeg: {}, ABPos: {}, ABNeg: {},
}

// Valid reports whether g is a recognised blood group.
func (g BloodGroup) Valid() bool {
	_, ok := bloodGroups[g]
	return ok
}
