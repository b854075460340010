// Package billing derives session duration and cost from timestamps and a per-minute rate.
// Every function here is pure so a charge can be recomputed and audited from the stored session alone.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// CentPlaces is the precision money is rounded to
const CentPlaces = 2

// Minutes returns the billable whole minutes between start and end, rounding partial minutes up.
// A non-positive interval bills zero minutes.
func Minutes(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	m := int64(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}

// Cost returns minutes(start, end) * rate, rounded to the cent.
// Any positive duration costs at least one rate unit.
func Cost(start, end time.Time, rate decimal.Decimal) decimal.Decimal {
	return CostForMinutes(Minutes(start, end), rate)
}

// MinimumCharge is the smallest amount a positive duration at a positive rate bills
var MinimumCharge = decimal.New(1, -CentPlaces)

// CostForMinutes prices an already computed minute count. A sub-cent rate never rounds a
// positive duration down to nothing; a zero rate stays free.
func CostForMinutes(minutes int64, rate decimal.Decimal) decimal.Decimal {
	if minutes <= 0 || !rate.IsPositive() {
		return decimal.Zero
	}
	cost := rate.Mul(decimal.NewFromInt(minutes)).Round(CentPlaces)
	if cost.LessThan(MinimumCharge) {
		return MinimumCharge
	}
	return cost
}

// Estimate prices a running session as if it ended at until
func Estimate(start, until time.Time, rate decimal.Decimal) (int64, decimal.Decimal) {
	m := Minutes(start, until)
	return m, CostForMinutes(m, rate)
}

// PlatformFee is the share of amount kept by the operator, percent given as e.g. 7 for 7%
func PlatformFee(amount, percent decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() || percent.IsNegative() {
		return decimal.Zero
	}
	return amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(CentPlaces)
}

// ToMinorUnits converts a currency amount to integer cents
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(CentPlaces).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to a currency amount
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -CentPlaces)
}
