package billing

import (
	"time"

	"dormitory-access-backend/internal/model"
)

// Totals is the debt position of a set of residents.
type Totals struct {
	Required Money `json:"totalRequired"`
	Paid     Money `json:"totalPaid"`
	Debt     Money `json:"totalDebt"`
	Counted  int   `json:"counted"`
	Skipped  int   `json:"skipped"`
}

func (t *Totals) add(d Debt) {
	t.Required += d.Required
	t.Paid += d.Paid
	t.Debt += d.Debt
	t.Counted++
}

// Aggregate sums the per-resident figures of a dormitory. Each resident's
// figures are rounded before they are summed, so totals always equal the sum
// of what the detail view shows. Residents without an arrival date are skipped.
func Aggregate(d *model.Dormitory, residents []model.Resident, asOf time.Time) Totals {
	var t Totals
	for i := range residents {
		debt, ok := ComputeDebt(d, &residents[i], asOf)
		if !ok {
			t.Skipped++
			continue
		}
		t.add(debt)
	}
	return t
}

// PortfolioRow is one dormitory in the portfolio view.
type PortfolioRow struct {
	DormitoryID int64  `json:"dormitoryId"`
	Name        string `json:"name"`
	Totals
}

// PortfolioReport lists per-dormitory totals plus the grand total.
type PortfolioReport struct {
	AsOf  time.Time      `json:"asOf"`
	Rows  []PortfolioRow `json:"rows"`
	Total Totals         `json:"total"`
}

// Portfolio aggregates every dormitory; residents are looked up by dormitory ID.
func Portfolio(dorms []model.Dormitory, residents map[int64][]model.Resident, asOf time.Time) PortfolioReport {
	report := PortfolioReport{AsOf: asOf, Rows: make([]PortfolioRow, 0, len(dorms))}
	for i := range dorms {
		t := Aggregate(&dorms[i], residents[dorms[i].ID], asOf)
		report.Rows = append(report.Rows, PortfolioRow{DormitoryID: dorms[i].ID, Name: dorms[i].Name, Totals: t})
		report.Total.Required += t.Required
		report.Total.Paid += t.Paid
		report.Total.Debt += t.Debt
		report.Total.Counted += t.Counted
		report.Total.Skipped += t.Skipped
	}
	return report
}
