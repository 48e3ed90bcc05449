package rates

import (
	"context"
	"errors"
	"log/slog"

	"webphone-platform/internal/config"

	"github.com/shopspring/decimal"
)

// RateSource is the external per-minute rate lookup.
// Implementations wrap the provider's pricing API; lookups may fail, in
// which case the resolver falls back to a fixed default rate.
type RateSource interface {
	GetRate(ctx context.Context, countryCode, callType string) (decimal.Decimal, error)
}

var ErrInvalidRateConfig = errors.New("rates: invalid rate configuration")

// Resolver turns a destination country into the effective rate charged to
// the user: provider base rate, marked up by a fixed multiplier, floored
// at a minimum.
type Resolver struct {
	source RateSource

	markup      decimal.Decimal
	minimumRate decimal.Decimal
	defaultRate decimal.Decimal
}

func NewResolver(source RateSource, cfg config.BillingConfig) (*Resolver, error) {
	markup, err := decimal.NewFromString(cfg.MarkupMultiplier)
	if err != nil || markup.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidRateConfig
	}
	minRate, err := decimal.NewFromString(cfg.MinimumRatePerMinute)
	if err != nil || minRate.IsNegative() {
		return nil, ErrInvalidRateConfig
	}
	defRate, err := decimal.NewFromString(cfg.DefaultRatePerMinute)
	if err != nil || defRate.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidRateConfig
	}

	return &Resolver{
		source:      source,
		markup:      markup,
		minimumRate: minRate,
		defaultRate: defRate,
	}, nil
}

// RatePerMinute resolves the effective per-minute rate for a country.
// A failed or missing lookup degrades to the default rate rather than
// blocking placement.
func (r *Resolver) RatePerMinute(ctx context.Context, countryCode, callType string) decimal.Decimal {
	if r.source == nil || countryCode == "" {
		return r.defaultRate
	}

	base, err := r.source.GetRate(ctx, countryCode, callType)
	if err != nil || base.LessThanOrEqual(decimal.Zero) {
		slog.Default().Warn("rate lookup failed, using default rate",
			"country", countryCode, "err", err)
		return r.defaultRate
	}

	rate := base.Mul(r.markup)
	if rate.LessThan(r.minimumRate) {
		rate = r.minimumRate
	}
	return rate.Round(CostPrecision)
}
