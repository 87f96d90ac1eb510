package reconcile

import (
	"time"

	"github.com/Veraticus/subdupes/internal/model"
)

// billingHour is the fixed UTC time of day for computed billing dates.
const billingHour = 12

// NextBillingDate returns the next charge date one cycle after from.
// Monthly dates clamp to the end of a shorter month.
func NextBillingDate(cycle model.BillingCycle, from time.Time) time.Time {
	from = from.UTC()
	y, m, d := from.Date()

	switch cycle {
	case model.CycleWeekly:
		return pinned(y, m, d+7)
	case model.CycleYearly:
		return clamped(y+1, m, d)
	default:
		return clamped(y, m+1, d)
	}
}

func pinned(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, billingHour, 0, 0, 0, time.UTC)
}

// clamped builds the date, using the last day of the month when d overflows it.
// m may be 13, which time.Date normalizes to January of the next year.
func clamped(y int, m time.Month, d int) time.Time {
	first := time.Date(y, m, 1, billingHour, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return pinned(first.Year(), first.Month(), d)
}
