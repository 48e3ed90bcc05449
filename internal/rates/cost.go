package rates

import "github.com/shopspring/decimal"

// CostPrecision is the fixed decimal precision for all computed costs.
const CostPrecision = 3

// BillableMinutes rounds a duration up to whole started minutes.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	m := durationSeconds / 60
	if durationSeconds%60 != 0 {
		m++
	}
	return m
}

// CostForDuration computes the authoritative cost of a call:
// rate_per_minute * ceil(duration_seconds / 60), rounded to CostPrecision.
func CostForDuration(ratePerMinute decimal.Decimal, durationSeconds int) decimal.Decimal {
	minutes := BillableMinutes(durationSeconds)
	if minutes == 0 {
		return decimal.Zero.Round(CostPrecision)
	}
	return ratePerMinute.Mul(decimal.NewFromInt(int64(minutes))).Round(CostPrecision)
}

// CostPerSecond is the optimistic per-second display accrual:
// duration_seconds * rate_per_minute / 60. Display-only; the webhook
// reconciler never uses it.
func CostPerSecond(ratePerMinute decimal.Decimal, durationSeconds int) decimal.Decimal {
	if durationSeconds <= 0 {
		return decimal.Zero.Round(CostPrecision)
	}
	return ratePerMinute.
		Mul(decimal.NewFromInt(int64(durationSeconds))).
		Div(decimal.NewFromInt(60)).
		Round(CostPrecision)
}
