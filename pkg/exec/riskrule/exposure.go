package riskrule

import (
	"context"
	"fmt"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

// PositionProvider reports the current net base position for a symbol
// on a venue, signed, in integer scaled units.
type PositionProvider interface {
	NetBase(ctx context.Context, venue, symbol string) (int64, error)
}

type exposureRule struct {
	caps      map[string]int64 // canonical symbol -> max absolute net base
	positions PositionProvider
}

// NewExposureCap rejects orders whose worst-case resulting position
// exceeds the configured per-symbol cap. Symbols without a cap pass.
func NewExposureCap(caps map[string]int64, p PositionProvider) RiskRule {
	return &exposureRule{caps: caps, positions: p}
}

func (r *exposureRule) Name() string { return "exposure_cap" }

func (r *exposureRule) Check(ctx context.Context, c Check) error {
	cap, ok := r.caps[c.Symbol]
	if !ok || cap <= 0 {
		return nil
	}
	net, err := r.positions.NetBase(ctx, c.Venue, c.Symbol)
	if err != nil {
		return &Violation{Rule: r.Name(), Reason: fmt.Sprintf("position unavailable: %v", err)}
	}
	next := net
	if c.Side == model.OrderSideBuy {
		next += c.Size
	} else {
		next -= c.Size
	}
	if next < 0 {
		next = -next
	}
	if next > cap {
		return &Violation{
			Rule:   r.Name(),
			Reason: fmt.Sprintf("resulting exposure %d exceeds cap %d for %s", next, cap, c.Symbol),
		}
	}
	return nil
}
