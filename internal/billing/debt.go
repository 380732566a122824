// Package billing computes rent owed by residents under the academic-year
// accounting convention and aggregates it per dormitory.
package billing

import (
	"time"

	"dormitory-access-backend/internal/model"
)

// daysPerMonth is the divisor of the daily rate.
const daysPerMonth = 30

// Debt is the billing position of one resident.
type Debt struct {
	Required Money `json:"required"`
	Paid     Money `json:"paid"`
	Debt     Money `json:"debt"`
	Months   int   `json:"months"`
	Days     int   `json:"days"`
}

// ComputeDebt returns what the resident owes as of asOf (used when there is no
// checkout date). ok is false when the resident has no arrival date; such
// residents contribute nothing and are not an error.
func ComputeDebt(d *model.Dormitory, r *model.Resident, asOf time.Time) (Debt, bool) {
	if r.ArrivalDate == nil {
		return Debt{}, false
	}

	end := asOf
	if r.CheckoutDate != nil {
		end = *r.CheckoutDate
	}
	months, days := elapsed(*r.ArrivalDate, end)

	rent := nonNegative(d.MonthlyRent)
	floor := nonNegative(d.MinRequiredMonths)
	paid := nonNegative(r.PaidTotal)

	var required amount
	if int64(months) < floor {
		// m*M + d*M/30, kept exact over a denominator of 30.
		required = amount{
			num: (int64(months)*daysPerMonth + int64(days)) * rent,
			den: daysPerMonth,
		}
	} else {
		// The floor is flat once reached, never prorated.
		required = whole(floor * rent)
	}

	debt := required.sub(paid)
	if !debt.positive() {
		debt = whole(0)
	}

	return Debt{
		Required: required.round(),
		Paid:     Units(paid),
		Debt:     debt.round(),
		Months:   months,
		Days:     days,
	}, true
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
