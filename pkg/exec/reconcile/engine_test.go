package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/connector"
	"github.com/joripage/execution-dev/pkg/exec/connector/sim"
	"github.com/joripage/execution-dev/pkg/exec/eventlog"
	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/store"
	"github.com/joripage/execution-dev/pkg/exec/symbol"
)

type fixture struct {
	venue   *sim.Venue
	store   *store.Store
	symbols *symbol.Service
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	venue := sim.New(sim.Config{
		Name:    "simex",
		COIBits: 32,
		Symbols: map[string]sim.Symbol{
			"BTCUSD": {PriceDecimals: 2, SizeDecimals: 4, MinOrderSize: 10},
		},
	})
	require.NoError(t, venue.Start(context.Background()))

	st := store.New()
	symbols := symbol.NewService()
	symbols.RegisterConnector(venue)
	symbols.RegisterSymbol("BTC-USD", map[string]string{"simex": "BTCUSD"})

	engine := NewEngine(Config{
		PollInterval: 50 * time.Millisecond,
		PollTimeout:  200 * time.Millisecond,
	}, venue, st, symbols, eventlog.Nop{}, zap.NewNop().Sugar())

	return &fixture{venue: venue, store: st, symbols: symbols, engine: engine}
}

func (f *fixture) addOrder(t *testing.T, coi uint64) *model.Order {
	t.Helper()
	key := model.OrderKey{Venue: "simex", Symbol: "BTC-USD", ClientOrderIndex: coi}
	order := model.NewOrder(key, model.OrderSideBuy, model.OrderTypeLimit, 1000, 10000)
	require.NoError(t, f.store.Add(order))
	return order
}

// submit places the order both locally and on the venue.
func (f *fixture) submit(t *testing.T, coi uint64) *model.Order {
	t.Helper()
	order := f.addOrder(t, coi)
	_, err := f.venue.SubmitLimit(context.Background(), connector.SubmitLimitParams{
		Symbol:           "BTCUSD",
		ClientOrderIndex: coi,
		Size:             1000,
		Price:            10000,
		Side:             model.OrderSideBuy,
	})
	require.NoError(t, err)
	return order
}

func drainPush(f *fixture, ctx context.Context) {
	for {
		select {
		case ev := <-f.venue.Events():
			if ev.Kind != model.EventKindStreamGap {
				f.engine.Apply(ctx, ev)
			}
		default:
			return
		}
	}
}

func TestPollConvertsSnapshotToEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.submit(t, 1)

	require.NoError(t, f.engine.pollOnce(ctx))
	require.Equal(t, model.OrderStateOpen, order.State())
}

func TestSnapshotConfirmsCancelAbsence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.submit(t, 2)

	// cancel whose acknowledgement the venue never pushes, and whose
	// order then ages out of the query surface
	f.venue.DropCancelAcks(true)
	f.venue.ForgetCancelled(true)
	order.MarkCancelRequested()
	require.NoError(t, f.venue.Cancel(ctx, "BTCUSD", 2))

	require.NoError(t, f.engine.pollOnce(ctx))
	require.Equal(t, model.OrderStateCancelled, order.State())
	require.Equal(t, "confirmed absent", order.FailReason())
}

func TestAbsenceWithoutCancelRequestIsNotCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.addOrder(t, 3) // never reached the venue

	require.NoError(t, f.engine.pollOnce(ctx))
	require.False(t, order.IsTerminal(), "absence alone must not finalize the order")
}

func TestStaleSnapshotLosesToNewerPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.submit(t, 4)
	drainPush(f, ctx)

	// a push fill stamped now
	now := time.Now()
	f.engine.Apply(ctx, model.OrderEvent{
		Venue: "simex", Symbol: "BTCUSD", ClientOrderIndex: 4,
		Kind: model.EventKindPartialFill, Source: model.SourcePush,
		FilledSize: 300, ExchangeTS: now, LocalTS: now,
	})
	require.Equal(t, model.OrderStatePartiallyFilled, order.State())

	// a snapshot of the pre-fill state, stamped earlier, must lose
	ev, ok := model.SnapshotEvent(order.Key(), model.VenueOrder{
		State:      model.OrderStateOpen,
		ExchangeTS: now.Add(-time.Second),
	})
	require.True(t, ok)
	f.engine.Apply(ctx, ev)

	require.Equal(t, model.OrderStatePartiallyFilled, order.State())
	require.Equal(t, int64(300), order.Filled())
}

func TestEventForUnknownOrderIsBufferedThenApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now()
	f.engine.Apply(ctx, model.OrderEvent{
		Venue: "simex", Symbol: "BTCUSD", ClientOrderIndex: 5,
		Kind: model.EventKindAck, Source: model.SourcePush,
		ExchangeTS: now, LocalTS: now,
	})

	order := f.addOrder(t, 5)
	require.Equal(t, model.OrderStateNew, order.State())

	f.engine.retryPending(ctx)
	require.Equal(t, model.OrderStateOpen, order.State())
}

func TestStreamGapForcesPoll(t *testing.T) {
	f := newFixture(t)
	// the ticker alone must not resolve the order within the test window
	f.engine.cfg.PollInterval = time.Hour
	f.engine.cfg.PollTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	order := f.submit(t, 6)

	// drop the ack the venue pushed, as a dead connection would
	for len(f.venue.Events()) > 0 {
		<-f.venue.Events()
	}

	go f.engine.Run(ctx)

	// the gap marker a connector synthesizes after reconnect must
	// trigger an out-of-cycle poll that rediscovers the order state
	f.venue.Emit(model.OrderEvent{
		Venue: "simex", Kind: model.EventKindStreamGap, Source: model.SourcePush,
		LocalTS: time.Now(),
	})

	require.Eventually(t, func() bool {
		return order.State() == model.OrderStateOpen
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotEventMapping(t *testing.T) {
	key := model.OrderKey{Venue: "simex", Symbol: "BTC-USD", ClientOrderIndex: 9}
	cases := []struct {
		state model.OrderState
		kind  model.EventKind
	}{
		{model.OrderStateOpen, model.EventKindAck},
		{model.OrderStatePartiallyFilled, model.EventKindPartialFill},
		{model.OrderStateFilled, model.EventKindFill},
		{model.OrderStateCancelled, model.EventKindCancelAck},
		{model.OrderStateFailed, model.EventKindRejected},
	}
	for _, c := range cases {
		ev, ok := model.SnapshotEvent(key, model.VenueOrder{State: c.state, ExchangeTS: time.Now()})
		require.True(t, ok)
		require.Equal(t, c.kind, ev.Kind)
		require.Equal(t, model.SourceSnapshot, ev.Source)
	}
}
