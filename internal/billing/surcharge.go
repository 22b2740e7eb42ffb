package billing

import "time"

// Default surcharge configuration, matching the seeded surcharge_settings row.
const (
	DefaultDueDay                 = 20
	DefaultFirstSurchargePercent  = 10
	DefaultSecondSurchargePercent = 5
)

// SurchargeConfig is the tenant-configurable late-payment schedule.
type SurchargeConfig struct {
	// DueDay is the day of the month following the billed month on which the
	// bill falls due, clamped to the last day of that month.
	DueDay                 int
	FirstSurchargePercent  float64
	SecondSurchargePercent float64
}

// DefaultSurchargeConfig returns the stock schedule: due the 20th of the
// following month, 10% within the grace month, compounding 5% after.
func DefaultSurchargeConfig() SurchargeConfig {
	return SurchargeConfig{
		DueDay:                 DefaultDueDay,
		FirstSurchargePercent:  DefaultFirstSurchargePercent,
		SecondSurchargePercent: DefaultSecondSurchargePercent,
	}
}

// DueDate returns the due date for a billed month: one month later, on the
// configured due day, clamped to that month's last day.
func (c SurchargeConfig) DueDate(billedMonth time.Time) time.Time {
	m := NormalizeMonth(billedMonth).AddDate(0, 1, 0)
	last := lastDayOfMonth(m)
	day := c.DueDay
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(m.Year(), m.Month(), day, 0, 0, 0, 0, time.UTC)
}

// EndOfGraceMonth returns the last instant of the month containing the due
// date. Payments after this boundary incur the second surcharge tier.
func (c SurchargeConfig) EndOfGraceMonth(billedMonth time.Time) time.Time {
	m := NormalizeMonth(billedMonth).AddDate(0, 1, 0)
	return time.Date(m.Year(), m.Month(), lastDayOfMonth(m), 23, 59, 59, 0, time.UTC)
}

// Surcharge computes the late-payment penalty on a basic amount as of a given
// evaluation date. It is pure in asOf: the bill entry preview and the payment
// settlement call it with their own dates and must agree for equal inputs.
//
// On or before the due date there is no surcharge. Past due but within the
// grace month, the first percentage applies to the basic amount. Past the
// grace month, the second percentage compounds on basic plus the first
// surcharge.
func (c SurchargeConfig) Surcharge(billedMonth time.Time, basicAmount float64, asOf time.Time) float64 {
	dueDate := c.DueDate(billedMonth)
	graceEnd := c.EndOfGraceMonth(billedMonth)

	if !asOf.After(dueDate) {
		return 0
	}
	first := basicAmount * c.FirstSurchargePercent / 100
	if !asOf.After(graceEnd) {
		return Round2(first)
	}
	second := (basicAmount + first) * c.SecondSurchargePercent / 100
	return Round2(first + second)
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
