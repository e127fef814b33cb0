package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/connector/sim"
	"github.com/joripage/execution-dev/pkg/exec/eventlog"
	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/riskrule"
	"github.com/joripage/execution-dev/pkg/exec/store"
	"github.com/joripage/execution-dev/pkg/exec/symbol"
)

type env struct {
	venue   *sim.Venue
	store   *store.Store
	symbols *symbol.Service
	svc     *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	venue := sim.New(sim.Config{
		Name:    "simex",
		COIBits: 32,
		Symbols: map[string]sim.Symbol{
			"BTCUSD": {PriceDecimals: 2, SizeDecimals: 4, MinOrderSize: 10},
		},
	})
	if err := venue.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := store.New()
	symbols := symbol.NewService()
	gate := riskrule.NewGate(riskrule.NewMinSize(symbols))
	svc := NewService(st, symbols, gate, eventlog.Nop{}, zap.NewNop().Sugar())
	svc.RegisterConnector(venue)
	symbols.RegisterSymbol("BTC-USD", map[string]string{"simex": "BTCUSD"})

	return &env{venue: venue, store: st, symbols: symbols, svc: svc}
}

// applyPush feeds buffered push events into their orders, standing in
// for the reconciliation engine.
func (e *env) applyPush(t *testing.T) {
	t.Helper()
	for {
		select {
		case ev := <-e.venue.Events():
			order, ok := e.store.Lookup("simex", ev.ClientOrderIndex)
			if !ok {
				continue
			}
			_ = order.ApplyEvent(ev)
		default:
			return
		}
	}
}

func buyRequest(size int64) model.SubmitRequest {
	return model.SubmitRequest{
		Venue:  "simex",
		Symbol: "BTC-USD",
		Side:   model.OrderSideBuy,
		Size:   size,
		Price:  10000,
	}
}

func TestSubmitRegistersBeforeVenueCall(t *testing.T) {
	e := newEnv(t)
	order, err := e.svc.SubmitLimit(context.Background(), buyRequest(100))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	key := order.Key()
	if key.ClientOrderIndex == 0 {
		t.Error("expected generated client order index")
	}
	if _, ok := e.store.Get(key); !ok {
		t.Error("order not in registry")
	}
	// the sim venue acks synchronously
	if order.State() != model.OrderStateOpen {
		t.Errorf("expected Open, got %s", order.State())
	}
	if order.ExchangeOrderID() == "" {
		t.Error("exchange order id not recorded")
	}
	// the submit event must lead the history for crash recovery
	history := order.History()
	if len(history) == 0 || history[0].Kind != model.EventKindSubmit {
		t.Fatalf("expected submit event first, got %+v", history)
	}
	if history[0].Size != 100 || history[0].Side != model.OrderSideBuy {
		t.Errorf("submit event missing order parameters: %+v", history[0])
	}
}

func TestSubmitRejectionGoesTerminal(t *testing.T) {
	e := newEnv(t)
	e.venue.RejectNext("margin exceeded")

	order, err := e.svc.SubmitLimit(context.Background(), buyRequest(100))
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if order == nil {
		t.Fatal("rejected submit must still return the order")
	}
	if order.State() != model.OrderStateFailed {
		t.Errorf("expected Failed, got %s", order.State())
	}
	if order.FailReason() != "margin exceeded" {
		t.Errorf("expected reason, got %q", order.FailReason())
	}
}

func TestSubmitBlockedByRiskGate(t *testing.T) {
	e := newEnv(t)
	before := e.store.Len()

	_, err := e.svc.SubmitLimit(context.Background(), buyRequest(5)) // below venue minimum
	var v *riskrule.Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected risk violation, got %v", err)
	}
	if e.store.Len() != before {
		t.Error("blocked order must not enter the registry")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, err := e.svc.SubmitLimit(ctx, buyRequest(100))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.svc.Cancel(ctx, order.Key()); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if !order.CancelRequested() {
		t.Error("cancel request not recorded")
	}
	e.applyPush(t)
	if order.State() != model.OrderStateCancelled {
		t.Fatalf("expected Cancelled, got %s", order.State())
	}

	// cancelling a terminal order is a no-op
	if err := e.svc.Cancel(ctx, order.Key()); err != nil {
		t.Errorf("cancel of terminal order: %v", err)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	e := newEnv(t)
	key := model.OrderKey{Venue: "simex", Symbol: "BTC-USD", ClientOrderIndex: 12345}
	if err := e.svc.Cancel(context.Background(), key); !errors.Is(err, store.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelAllSweepsLiveOrders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.svc.SubmitLimit(ctx, buyRequest(100)); err != nil {
			t.Fatal(err)
		}
	}

	if err := e.svc.CancelAll(ctx, ""); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	e.applyPush(t)
	if live := e.store.Live("simex"); len(live) != 0 {
		t.Errorf("expected no live orders, got %d", len(live))
	}
}

func TestMarketOrderIgnoresPrice(t *testing.T) {
	e := newEnv(t)
	req := buyRequest(100)
	req.Price = 99999
	order, err := e.svc.SubmitMarket(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if order.Type() != model.OrderTypeMarket {
		t.Errorf("expected market order, got %s", order.Type())
	}
	if order.Price() != 0 {
		t.Errorf("market order carries price %d", order.Price())
	}
}

func TestRecoverRestoresLiveOrders(t *testing.T) {
	e := newEnv(t)
	key := model.OrderKey{Venue: "simex", Symbol: "BTC-USD", ClientOrderIndex: 77}
	submit := model.NewLocalEvent(key, model.EventKindSubmit, "")
	submit.Size = 500
	submit.Side = model.OrderSideSell
	submit.OrderType = model.OrderTypeLimit
	submit.Price = 10050

	keys, err := e.svc.Recover([]eventlog.Recovered{{
		Key: key,
		Events: []model.OrderEvent{
			submit,
			{
				Venue: key.Venue, Symbol: key.Symbol, ClientOrderIndex: key.ClientOrderIndex,
				Kind: model.EventKindPartialFill, Source: model.SourcePush,
				FilledSize: 200, ExchangeTS: time.Now(), LocalTS: time.Now(),
			},
		},
	}})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("expected restored key %v, got %v", key, keys)
	}

	order, ok := e.store.Get(key)
	if !ok {
		t.Fatal("recovered order not in registry")
	}
	if order.State() != model.OrderStatePartiallyFilled || order.Filled() != 200 {
		t.Errorf("recovered state %s filled %d", order.State(), order.Filled())
	}
}
