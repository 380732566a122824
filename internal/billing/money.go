package billing

import (
	"fmt"
	"math"
	"strconv"
)

// Money is an amount in hundredths of a currency unit.
type Money int64

// Units converts a whole-unit amount to Money.
func Units(u int64) Money {
	return Money(u * 100)
}

// String formats m with exactly two decimals, e.g. "950000.01".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes m as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number and rounds it to cents.
func (m *Money) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid money value %s: %w", b, err)
	}
	*m = Money(math.Round(f * 100))
	return nil
}

// amount is an exact rational number of currency units, num/den with den > 0.
type amount struct {
	num int64
	den int64
}

func whole(u int64) amount {
	return amount{num: u, den: 1}
}

func (a amount) sub(u int64) amount {
	return amount{num: a.num - u*a.den, den: a.den}
}

func (a amount) positive() bool {
	return a.num > 0
}

// round converts a to cents, rounding half away from zero.
func (a amount) round() Money {
	n := a.num * 100
	neg := n < 0
	if neg {
		n = -n
	}
	q := (2*n + a.den) / (2 * a.den)
	if neg {
		q = -q
	}
	return Money(q)
}

// RoundHalfUp rounds num/den currency units to cents, ties away from zero.
// den must be positive.
func RoundHalfUp(num, den int64) Money {
	return amount{num: num, den: den}.round()
}
