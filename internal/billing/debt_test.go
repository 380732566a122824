package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dormitory-access-backend/internal/model"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestComputeDebt(t *testing.T) {
	testCases := []struct {
		name     string
		dorm     model.Dormitory
		resident model.Resident
		asOf     time.Time
		expected Debt
	}{
		{
			name:     "Floor reached applies flat contractual amount",
			dorm:     model.Dormitory{MonthlyRent: 500000, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2022, 1, 1), CheckoutDate: date(2024, 1, 1)},
			asOf:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: Debt{Required: Units(5000000), Paid: 0, Debt: Units(5000000), Months: 24, Days: 0},
		},
		{
			name:     "Below floor prorates months and days",
			dorm:     model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 1, 10)},
			asOf:     time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			expected: Debt{Required: Units(950000), Paid: 0, Debt: Units(950000), Months: 3, Days: 5},
		},
		{
			name:     "Payment above required clamps debt to zero",
			dorm:     model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 1, 10), PaidTotal: 1000000},
			asOf:     time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			expected: Debt{Required: Units(950000), Paid: Units(1000000), Debt: 0, Months: 3, Days: 5},
		},
		{
			name:     "Partial payment leaves remainder",
			dorm:     model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 1, 10), PaidTotal: 600000},
			asOf:     time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			expected: Debt{Required: Units(950000), Paid: Units(600000), Debt: Units(350000), Months: 3, Days: 5},
		},
		{
			name:     "Checkout before arrival yields zero",
			dorm:     model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 5, 1), CheckoutDate: date(2024, 3, 1)},
			asOf:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			expected: Debt{},
		},
		{
			name:     "Same day arrival and checkout yields zero",
			dorm:     model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 5, 1), CheckoutDate: date(2024, 5, 1)},
			asOf:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			expected: Debt{},
		},
		{
			name:     "Zero rent means zero daily rate",
			dorm:     model.Dormitory{MonthlyRent: 0, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 1, 10)},
			asOf:     time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			expected: Debt{Months: 3, Days: 5},
		},
		{
			name:     "Zero floor charges nothing once any tenancy exists",
			dorm:     model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 0},
			resident: model.Resident{ArrivalDate: date(2024, 1, 10)},
			asOf:     time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
			expected: Debt{Months: 3, Days: 5},
		},
		{
			name:     "Fractional daily rate rounds half up",
			dorm:     model.Dormitory{MonthlyRent: 100, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 1, 1)},
			asOf:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			// 1 * 100/30 = 3.3333 -> 3.33
			expected: Debt{Required: 333, Debt: 333, Months: 0, Days: 1},
		},
		{
			name:     "End of month arrival clamps month arithmetic",
			dorm:     model.Dormitory{MonthlyRent: 30, MinRequiredMonths: 10},
			resident: model.Resident{ArrivalDate: date(2024, 1, 31), CheckoutDate: date(2024, 3, 1)},
			asOf:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			// Jan 31 + 1 month = Feb 29, one day left.
			expected: Debt{Required: Units(31), Debt: Units(31), Months: 1, Days: 1},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ComputeDebt(&tc.dorm, &tc.resident, tc.asOf)
			require.True(t, ok)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestComputeDebt_NoArrivalIsSkipped(t *testing.T) {
	dorm := model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10}
	_, ok := ComputeDebt(&dorm, &model.Resident{}, time.Now())
	assert.False(t, ok)
}

func TestComputeDebt_FloorHoldsForLongTenancies(t *testing.T) {
	dorm := model.Dormitory{MonthlyRent: 500000, MinRequiredMonths: 10}
	arrival := date(2015, 9, 1)
	for years := 1; years <= 8; years++ {
		checkout := arrival.AddDate(years, 3, 17)
		got, ok := ComputeDebt(&dorm, &model.Resident{ArrivalDate: arrival, CheckoutDate: &checkout}, time.Now())
		require.True(t, ok)
		assert.Equal(t, Units(5000000), got.Required)
	}
}

func TestComputeDebt_NonNegative(t *testing.T) {
	arrival := date(2023, 3, 17)
	for rent := int64(0); rent <= 1000; rent += 137 {
		for floor := int64(0); floor <= 12; floor += 3 {
			for offset := 0; offset < 500; offset += 23 {
				end := arrival.AddDate(0, 0, offset)
				dorm := model.Dormitory{MonthlyRent: rent, MinRequiredMonths: floor}
				r := model.Resident{ArrivalDate: arrival, CheckoutDate: &end, PaidTotal: rent * 2}
				got, ok := ComputeDebt(&dorm, &r, time.Now())
				require.True(t, ok)
				assert.GreaterOrEqual(t, int64(got.Required), int64(0))
				assert.GreaterOrEqual(t, int64(got.Debt), int64(0))
				want := got.Required - got.Paid
				if want < 0 {
					want = 0
				}
				assert.Equal(t, want, got.Debt)
			}
		}
	}
}

func TestComputeDebt_UsesAsOfWithoutCheckout(t *testing.T) {
	dorm := model.Dormitory{MonthlyRent: 300000, MinRequiredMonths: 10}
	r := model.Resident{ArrivalDate: date(2024, 1, 10)}
	asOf := DefaultHorizon.AsOf(time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC))

	got, ok := ComputeDebt(&dorm, &r, asOf)
	require.True(t, ok)
	// Jan 10 -> Jul 1: 5 months 21 days.
	assert.Equal(t, 5, got.Months)
	assert.Equal(t, 21, got.Days)
	assert.Equal(t, Units(5*300000+21*10000), got.Required)
}
