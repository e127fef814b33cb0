package riskrule

import (
	"context"
	"fmt"
)

// CollateralProvider reports available collateral on a venue in quote
// units at the venue price scale.
type CollateralProvider interface {
	AvailableCollateral(ctx context.Context, venue string) (int64, error)
}

// StaticCollateral is a fixed collateral budget, used when no margin
// feed is wired.
type StaticCollateral int64

func (s StaticCollateral) AvailableCollateral(ctx context.Context, venue string) (int64, error) {
	return int64(s), nil
}

// ScaleProvider resolves integer unit scales for a canonical symbol.
type ScaleProvider interface {
	Scales(ctx context.Context, venue, symbol string) (priceScale, sizeScale int64, err error)
}

type collateralRule struct {
	collateral CollateralProvider
	scales     ScaleProvider
}

// NewCollateral rejects limit orders whose notional exceeds available
// collateral. Market orders pass through: without a submitted price the
// notional is unknown here and the venue margin engine is the backstop.
func NewCollateral(c CollateralProvider, s ScaleProvider) RiskRule {
	return &collateralRule{collateral: c, scales: s}
}

func (r *collateralRule) Name() string { return "collateral" }

func (r *collateralRule) Check(ctx context.Context, c Check) error {
	if c.Price <= 0 {
		return nil
	}
	_, sizeScale, err := r.scales.Scales(ctx, c.Venue, c.Symbol)
	if err != nil {
		return &Violation{Rule: r.Name(), Reason: fmt.Sprintf("scale unavailable: %v", err)}
	}
	available, err := r.collateral.AvailableCollateral(ctx, c.Venue)
	if err != nil {
		return &Violation{Rule: r.Name(), Reason: fmt.Sprintf("collateral unavailable: %v", err)}
	}
	notional := c.Price * c.Size / sizeScale
	if notional > available {
		return &Violation{
			Rule:   r.Name(),
			Reason: fmt.Sprintf("notional %d exceeds available collateral %d", notional, available),
		}
	}
	return nil
}
