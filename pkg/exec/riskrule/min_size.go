package riskrule

import (
	"context"
	"fmt"
)

// MinSizeProvider resolves the venue minimum order size for a canonical
// symbol, in integer scaled units.
type MinSizeProvider interface {
	MinOrderSize(ctx context.Context, venue, symbol string) (int64, error)
}

type minSizeRule struct {
	provider MinSizeProvider
}

// NewMinSize rejects orders below the venue minimum.
func NewMinSize(p MinSizeProvider) RiskRule {
	return &minSizeRule{provider: p}
}

func (r *minSizeRule) Name() string { return "min_size" }

func (r *minSizeRule) Check(ctx context.Context, c Check) error {
	min, err := r.provider.MinOrderSize(ctx, c.Venue, c.Symbol)
	if err != nil {
		return &Violation{Rule: r.Name(), Reason: fmt.Sprintf("minimum size unavailable: %v", err)}
	}
	if c.Size < min {
		return &Violation{Rule: r.Name(), Reason: fmt.Sprintf("size %d below venue minimum %d", c.Size, min)}
	}
	return nil
}
