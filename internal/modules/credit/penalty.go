// README: Overdue penalty brackets for return settlement.
package credit

import (
	"math"
	"time"
)

// PenaltyMultiplier maps days overdue to the settlement multiplier. The first
// week past due is a grace period.
func PenaltyMultiplier(daysOverdue int) float64 {
	switch {
	case daysOverdue <= 7:
		return 1.0
	case daysOverdue <= 14:
		return 1.25
	case daysOverdue <= 21:
		return 1.5
	default:
		return 1.75
	}
}

// DaysOverdue counts whole days elapsed past the due date; on-time returns
// yield zero or negative values, which fall in the grace bracket.
func DaysOverdue(dueAt, now time.Time) int {
	return int(now.Sub(dueAt).Hours() / 24)
}

// ReturnUnits computes the penalty-adjusted unit count, rounded to nearest.
func ReturnUnits(originalUnits int, dueAt, now time.Time) int {
	return int(math.Round(float64(originalUnits) * PenaltyMultiplier(DaysOverdue(dueAt, now))))
}
