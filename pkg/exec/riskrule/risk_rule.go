// Package riskrule implements the pre-trade risk gate. Every rule is a
// synchronous check executed before any network call; a violation is a
// hard rejection with a specific reason, never a retryable error.
package riskrule

import (
	"context"
	"fmt"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

// Check is the order intent under evaluation. Price is 0 for market
// orders.
type Check struct {
	Venue  string
	Symbol string // canonical symbol
	Side   model.OrderSide
	Size   int64
	Price  int64
}

type RiskRule interface {
	Name() string
	Check(ctx context.Context, c Check) error
}

// Violation is a failed pre-trade check. It names the rule and the
// reason so callers can surface exactly what was refused.
type Violation struct {
	Rule   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("risk check %s failed: %s", v.Rule, v.Reason)
}

// Gate runs rules in order and fails fast on the first violation.
type Gate struct {
	rules []RiskRule
}

func NewGate(rules ...RiskRule) *Gate {
	return &Gate{rules: rules}
}

// Add appends a rule. Rules whose providers depend on the running
// engine are attached after construction.
func (g *Gate) Add(rules ...RiskRule) {
	g.rules = append(g.rules, rules...)
}

func (g *Gate) Validate(ctx context.Context, c Check) error {
	if c.Size <= 0 {
		return &Violation{Rule: "sanity", Reason: "size must be positive"}
	}
	for _, r := range g.rules {
		if err := r.Check(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
