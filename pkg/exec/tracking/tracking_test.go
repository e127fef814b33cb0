package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/connector/sim"
	"github.com/joripage/execution-dev/pkg/exec/eventlog"
	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/reconcile"
	"github.com/joripage/execution-dev/pkg/exec/riskrule"
	"github.com/joripage/execution-dev/pkg/exec/router"
	"github.com/joripage/execution-dev/pkg/exec/store"
	"github.com/joripage/execution-dev/pkg/exec/symbol"
)

type stack struct {
	venue  *sim.Venue
	store  *store.Store
	svc    *router.Service
	engine *Engine
	cancel context.CancelFunc
}

func newStack(t *testing.T) *stack {
	return newStackPoll(t, 25*time.Millisecond)
}

func newStackPoll(t *testing.T, pollInterval time.Duration) *stack {
	t.Helper()
	venue := sim.New(sim.Config{
		Name:    "simex",
		COIBits: 32,
		Symbols: map[string]sim.Symbol{
			"BTCUSD": {PriceDecimals: 2, SizeDecimals: 4, MinOrderSize: 10},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, venue.Start(ctx))
	venue.SetBook("BTCUSD", model.TopOfBook{
		Bid: 10000, Ask: 10010, HasBid: true, HasAsk: true, Scale: 100,
	})

	st := store.New()
	symbols := symbol.NewService()
	log := zap.NewNop().Sugar()
	svc := router.NewService(st, symbols, riskrule.NewGate(), eventlog.Nop{}, log)
	svc.RegisterConnector(venue)
	symbols.RegisterSymbol("BTC-USD", map[string]string{"simex": "BTCUSD"})

	rec := reconcile.NewEngine(reconcile.Config{
		PollInterval: pollInterval,
		PollTimeout:  500 * time.Millisecond,
	}, venue, st, symbols, eventlog.Nop{}, log)
	go rec.Run(ctx)

	engine := NewEngine(svc, svc, svc.Locks(), log)
	t.Cleanup(cancel)
	return &stack{venue: venue, store: st, svc: svc, engine: engine, cancel: cancel}
}

func buySpec() model.TrackingLimitSpec {
	return model.TrackingLimitSpec{
		Venue:            "simex",
		Symbol:           "BTC-USD",
		Side:             model.OrderSideBuy,
		TargetSize:       1000,
		Interval:         150 * time.Millisecond,
		Timeout:          5 * time.Second,
		CancelWait:       100 * time.Millisecond,
		PriceOffsetTicks: 1,
		MaxAttempts:      20,
	}
}

func TestSessionFillsInOneAttempt(t *testing.T) {
	s := newStack(t)
	s.venue.AutoFill(10*time.Millisecond, 1)

	report, err := s.engine.Run(context.Background(), buySpec())
	require.NoError(t, err)
	require.Equal(t, model.TrackingFilled, report.Outcome)
	require.Equal(t, int64(1000), report.FilledSize)
	require.Equal(t, 1, report.Attempts)
	require.True(t, report.Complete())
}

func TestSessionAccumulatesPartialFills(t *testing.T) {
	s := newStack(t)
	// half the remaining size fills each attempt
	s.venue.AutoFill(10*time.Millisecond, 0.5)

	spec := buySpec()
	spec.Timeout = 20 * time.Second
	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, model.TrackingFilled, report.Outcome)
	require.True(t, report.Attempts > 1, "expected multiple attempts, got %d", report.Attempts)
	require.True(t, report.Complete(), "filled %d of %d", report.FilledSize, report.TargetSize)
	require.Len(t, report.Path, report.Attempts)
}

func TestSessionTimesOutAndLeavesNoLiveOrder(t *testing.T) {
	s := newStack(t)
	// nothing ever fills

	spec := buySpec()
	spec.Timeout = 500 * time.Millisecond
	spec.MaxAttempts = 0

	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, model.TrackingTimedOut, report.Outcome)
	require.Equal(t, int64(0), report.FilledSize)

	// teardown must have confirmed cancellation of the last order
	require.Eventually(t, func() bool {
		return len(s.store.Live("simex")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionExhaustsAttempts(t *testing.T) {
	s := newStack(t)

	spec := buySpec()
	spec.MaxAttempts = 3

	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, model.TrackingExhausted, report.Outcome)
	require.Equal(t, 3, report.Attempts)
}

func TestSessionRejectedByVenue(t *testing.T) {
	s := newStack(t)
	s.venue.RejectNext("post only would cross")

	report, err := s.engine.Run(context.Background(), buySpec())
	require.Error(t, err)
	require.Equal(t, model.TrackingRejected, report.Outcome)
}

func TestAmbiguousCancelResolvedByPollBeforeRepost(t *testing.T) {
	s := newStack(t)
	// the venue cancels internally but never pushes the acknowledgement,
	// so only the snapshot poll can confirm the order's fate
	s.venue.DropCancelAcks(true)

	spec := buySpec()
	spec.MaxAttempts = 2

	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, model.TrackingExhausted, report.Outcome)

	// every attempt's order must have reached a terminal state before
	// the next one was posted
	for _, attempt := range report.Path {
		require.True(t, model.IsTerminalState(attempt.FinalState),
			"attempt %d left order in %s", attempt.Attempt, attempt.FinalState)
	}
}

func TestNoReferencePriceFailsSession(t *testing.T) {
	s := newStack(t)
	s.venue.SetBook("BTCUSD", model.TopOfBook{HasBid: false, HasAsk: false})

	report, err := s.engine.Run(context.Background(), buySpec())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoReferencePrice)
	require.Equal(t, model.TrackingRejected, report.Outcome)
}

func TestChasePriceFollowsBook(t *testing.T) {
	s := newStack(t)

	spec := buySpec()
	spec.MaxAttempts = 2
	spec.Interval = 80 * time.Millisecond

	// move the book while the first attempt is resting
	go func() {
		time.Sleep(40 * time.Millisecond)
		s.venue.SetBook("BTCUSD", model.TopOfBook{
			Bid: 10100, Ask: 10110, HasBid: true, HasAsk: true, Scale: 100,
		})
	}()

	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, 2, report.Attempts)
	require.Equal(t, int64(9999), report.Path[0].Price)
	require.Equal(t, int64(10099), report.Path[1].Price)
}

func TestReferencePriceStaysPassive(t *testing.T) {
	s := newStack(t)

	cases := []struct {
		name   string
		side   model.OrderSide
		offset int64
		book   model.TopOfBook
		want   int64
	}{
		{"buy backs away from bid", model.OrderSideBuy, 2,
			model.TopOfBook{Bid: 10000, Ask: 10010, HasBid: true, HasAsk: true}, 9998},
		{"sell backs away from ask", model.OrderSideSell, 2,
			model.TopOfBook{Bid: 10000, Ask: 10010, HasBid: true, HasAsk: true}, 10012},
		{"buy on locked book stays inside the spread", model.OrderSideBuy, 0,
			model.TopOfBook{Bid: 10010, Ask: 10010, HasBid: true, HasAsk: true}, 10009},
		{"sell on locked book stays inside the spread", model.OrderSideSell, 0,
			model.TopOfBook{Bid: 10010, Ask: 10010, HasBid: true, HasAsk: true}, 10011},
		{"buy never goes below one tick", model.OrderSideBuy, 50,
			model.TopOfBook{Bid: 3, Ask: 10, HasBid: true, HasAsk: true}, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s.venue.SetBook("BTCUSD", c.book)
			spec := buySpec()
			spec.Side = c.side
			spec.PriceOffsetTicks = c.offset
			price, err := s.engine.referencePrice(context.Background(), spec)
			require.NoError(t, err)
			require.Equal(t, c.want, price)
		})
	}
}

func TestAmbiguousCancelResolvedByDirectQuery(t *testing.T) {
	// the reconciler's poll never runs inside the test window, so only
	// the teardown's own status query can resolve the dropped acks
	s := newStackPoll(t, time.Hour)
	s.venue.DropCancelAcks(true)

	spec := buySpec()
	spec.MaxAttempts = 2

	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, model.TrackingExhausted, report.Outcome)
	for _, attempt := range report.Path {
		require.True(t, model.IsTerminalState(attempt.FinalState),
			"attempt %d left order in %s", attempt.Attempt, attempt.FinalState)
	}
}

func TestTimeoutWithPartialFillsReportsPartial(t *testing.T) {
	s := newStack(t)
	// each attempt fills a fifth of what remains, never enough to finish
	s.venue.AutoFill(10*time.Millisecond, 0.2)

	spec := buySpec()
	spec.Timeout = 600 * time.Millisecond
	spec.MaxAttempts = 3

	report, err := s.engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, report.FilledSize > 0, "expected partial fills")
	require.False(t, report.Complete())
	require.Equal(t, model.OrderStatePartiallyFilled, report.FinalState)
	require.Contains(t,
		[]model.TrackingOutcome{model.TrackingTimedOut, model.TrackingExhausted},
		report.Outcome)
}

func TestSpecValidation(t *testing.T) {
	s := newStack(t)

	spec := buySpec()
	spec.TargetSize = 0
	report, err := s.engine.Run(context.Background(), spec)
	require.ErrorIs(t, err, ErrSpecInvalid)
	require.Equal(t, model.TrackingRejected, report.Outcome)
	require.Zero(t, report.Attempts)
}
