package riskrule

import (
	"context"
	"errors"
	"testing"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

type fixedMinSize int64

func (f fixedMinSize) MinOrderSize(ctx context.Context, venue, symbol string) (int64, error) {
	return int64(f), nil
}

type fixedPosition int64

func (f fixedPosition) NetBase(ctx context.Context, venue, symbol string) (int64, error) {
	return int64(f), nil
}

type fixedScales struct{}

func (fixedScales) Scales(ctx context.Context, venue, symbol string) (int64, int64, error) {
	return 100, 10000, nil
}

func buyCheck(size, price int64) Check {
	return Check{Venue: "simex", Symbol: "BTC-USD", Side: model.OrderSideBuy, Size: size, Price: price}
}

func assertViolation(t *testing.T, err error, rule string) {
	t.Helper()
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected violation, got %v", err)
	}
	if v.Rule != rule {
		t.Errorf("expected rule %s, got %s", rule, v.Rule)
	}
}

func TestGateRejectsNonPositiveSize(t *testing.T) {
	g := NewGate()
	if err := g.Validate(context.Background(), buyCheck(0, 5000)); err == nil {
		t.Fatal("expected violation for zero size")
	}
	if err := g.Validate(context.Background(), buyCheck(-5, 5000)); err == nil {
		t.Fatal("expected violation for negative size")
	}
}

func TestMinSizeRule(t *testing.T) {
	g := NewGate(NewMinSize(fixedMinSize(50)))
	if err := g.Validate(context.Background(), buyCheck(49, 5000)); err == nil {
		t.Fatal("expected violation below minimum")
	} else {
		assertViolation(t, err, "min_size")
	}
	if err := g.Validate(context.Background(), buyCheck(50, 5000)); err != nil {
		t.Errorf("at minimum should pass: %v", err)
	}
}

func TestExposureCapWorstCase(t *testing.T) {
	caps := map[string]int64{"BTC-USD": 1000}
	g := NewGate(NewExposureCap(caps, fixedPosition(800)))

	// 800 + 300 breaches the 1000 cap
	if err := g.Validate(context.Background(), buyCheck(300, 5000)); err == nil {
		t.Fatal("expected exposure violation")
	} else {
		assertViolation(t, err, "exposure_cap")
	}
	if err := g.Validate(context.Background(), buyCheck(200, 5000)); err != nil {
		t.Errorf("within cap should pass: %v", err)
	}

	// selling from a long position reduces exposure
	sell := Check{Venue: "simex", Symbol: "BTC-USD", Side: model.OrderSideSell, Size: 300, Price: 5000}
	if err := g.Validate(context.Background(), sell); err != nil {
		t.Errorf("reducing sell should pass: %v", err)
	}
}

func TestExposureCapUncappedSymbolPasses(t *testing.T) {
	g := NewGate(NewExposureCap(map[string]int64{"ETH-USD": 10}, fixedPosition(0)))
	if err := g.Validate(context.Background(), buyCheck(1_000_000, 5000)); err != nil {
		t.Errorf("uncapped symbol should pass: %v", err)
	}
}

func TestCollateralRule(t *testing.T) {
	g := NewGate(NewCollateral(StaticCollateral(10_000), fixedScales{}))

	// notional = price * size / sizeScale = 5000 * 30000 / 10000 = 15000
	if err := g.Validate(context.Background(), buyCheck(30000, 5000)); err == nil {
		t.Fatal("expected collateral violation")
	} else {
		assertViolation(t, err, "collateral")
	}
	// 5000 * 10000 / 10000 = 5000, within budget
	if err := g.Validate(context.Background(), buyCheck(10000, 5000)); err != nil {
		t.Errorf("within collateral should pass: %v", err)
	}
	// market orders pass through
	if err := g.Validate(context.Background(), buyCheck(1_000_000, 0)); err != nil {
		t.Errorf("market order should pass: %v", err)
	}
}

func TestGateFailsFast(t *testing.T) {
	g := NewGate(
		NewMinSize(fixedMinSize(100)),
		NewExposureCap(map[string]int64{"BTC-USD": 1}, fixedPosition(0)),
	)
	err := g.Validate(context.Background(), buyCheck(50, 5000))
	assertViolation(t, err, "min_size")
}
