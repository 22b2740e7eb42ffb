package billing

import (
	"math"
	"time"
)

// tier1Units is the consumption threshold billed at Rate1; anything beyond is
// billed at Rate2.
const tier1Units = 3

// Rate is a two-tier volumetric rate for one customer type.
type Rate struct {
	Rate1 float64 `json:"rate1"`
	Rate2 float64 `json:"rate2"`
}

// CalculateCharge derives consumption from a pair of meter readings and
// computes the tiered basic charge.
//
// Consumption is floored at zero. A zero-consumption bill is charged as one
// unit, the minimum charge every active connection pays.
func CalculateCharge(previousReading, currentReading float64, r Rate) (consumption, basicAmount float64) {
	consumption = currentReading - previousReading
	if consumption < 0 {
		consumption = 0
	}
	billable := consumption
	if billable == 0 {
		billable = 1
	}
	if billable <= tier1Units {
		basicAmount = billable * r.Rate1
	} else {
		basicAmount = tier1Units*r.Rate1 + (billable-tier1Units)*r.Rate2
	}
	return consumption, Round2(basicAmount)
}

// Discount returns the customer-level discount on a basic amount. Zero when
// the percent is unset.
func Discount(basicAmount, discountPercent float64) float64 {
	if discountPercent == 0 {
		return 0
	}
	return Round2(basicAmount * discountPercent / 100)
}

// NormalizeMonth truncates a date to the first of its month in UTC, the form
// billed months are stored in.
func NormalizeMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextBilledMonth returns the month the next bill should cover: the month
// after the latest billed month, or the month after now when the customer has
// no bills yet.
func NextBilledMonth(latestBilledMonth *time.Time, now time.Time) time.Time {
	if latestBilledMonth != nil {
		return NormalizeMonth(*latestBilledMonth).AddDate(0, 1, 0)
	}
	return NormalizeMonth(now).AddDate(0, 1, 0)
}

// Round2 rounds to currency precision (2 decimal places).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
