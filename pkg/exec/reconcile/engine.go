// Package reconcile merges the two channels a venue reports order state
// on — the push stream and the periodic snapshot poll — into the order
// registry. Push events apply immediately; the poll is the correctness
// backstop. Divergence is resolved by exchange-reported timestamp
// inside the order state machine, not by channel identity.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/connector"
	"github.com/joripage/execution-dev/pkg/exec/eventlog"
	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/store"
	"github.com/joripage/execution-dev/pkg/exec/symbol"
)

// pendingCap bounds how many push events for not-yet-known orders are
// buffered. The window only matters during crash recovery, before
// recovered orders are re-registered.
const pendingCap = 256

type Config struct {
	PollInterval time.Duration
	// PollTimeout bounds one whole poll cycle including retries.
	PollTimeout time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = c.PollInterval
	}
}

// Engine reconciles one venue.
type Engine struct {
	cfg     Config
	conn    connector.Connector
	store   *store.Store
	symbols *symbol.Service
	sink    eventlog.Sink
	log     *zap.SugaredLogger

	mu      sync.Mutex
	pending *deque.Deque[model.OrderEvent]

	forcePoll chan struct{}
	wg        sync.WaitGroup
}

func NewEngine(cfg Config, conn connector.Connector, st *store.Store, symbols *symbol.Service, sink eventlog.Sink, log *zap.SugaredLogger) *Engine {
	cfg.defaults()
	if sink == nil {
		sink = eventlog.Nop{}
	}
	return &Engine{
		cfg:       cfg,
		conn:      conn,
		store:     st,
		symbols:   symbols,
		sink:      sink,
		log:       log.With("venue", conn.Venue()),
		pending:   &deque.Deque[model.OrderEvent]{},
		forcePoll: make(chan struct{}, 1),
	}
}

// Run starts the push and poll loops and blocks until ctx is done and
// both loops have exited. Neither loop blocks the other: poll failures
// degrade freshness, not push processing.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.pushLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
	e.wg.Wait()
}

// ForcePoll schedules one out-of-cycle snapshot poll, e.g. after crash
// recovery re-registered orders of unknown current state.
func (e *Engine) ForcePoll() {
	select {
	case e.forcePoll <- struct{}{}:
	default:
	}
}

func (e *Engine) pushLoop(ctx context.Context) {
	events := e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == model.EventKindStreamGap {
				// the outage may have swallowed events; patch the gap
				// with an immediate snapshot poll
				e.log.Warnw("push stream gap, forcing resync")
				e.ForcePoll()
				continue
			}
			e.Apply(ctx, ev)
		}
	}
}

// Apply routes one push event into its order. Events for unknown
// orders are parked in a bounded buffer and retried after the next
// poll cycle, covering the recovery window.
func (e *Engine) Apply(ctx context.Context, ev model.OrderEvent) {
	if !e.applyOne(ctx, ev) {
		e.mu.Lock()
		if e.pending.Len() >= pendingCap {
			dropped := e.pending.PopFront()
			e.log.Warnw("pending event buffer full, dropping oldest",
				"coi", dropped.ClientOrderIndex, "kind", dropped.Kind)
		}
		e.pending.PushBack(ev)
		e.mu.Unlock()
	}
}

func (e *Engine) applyOne(ctx context.Context, ev model.OrderEvent) bool {
	order, ok := e.store.Lookup(e.conn.Venue(), ev.ClientOrderIndex)
	if !ok {
		return false
	}
	e.applyToOrder(ctx, order, ev)
	return true
}

func (e *Engine) applyToOrder(ctx context.Context, order *model.Order, ev model.OrderEvent) {
	err := order.ApplyEvent(ev)
	switch {
	case err == nil:
		if logErr := e.sink.Append(ctx, ev); logErr != nil {
			e.log.Errorw("event log append failed", "order", order.Key(), "error", logErr)
		}
	case errors.Is(err, model.ErrTerminalOrder):
		e.log.Warnw("event for terminal order discarded",
			"order", order.Key(), "kind", ev.Kind, "source", ev.Source)
	case errors.Is(err, model.ErrStaleEvent):
		e.log.Debugw("stale event discarded",
			"order", order.Key(), "kind", ev.Kind, "source", ev.Source,
			"event_ts", ev.EffectiveTS())
	default:
		e.log.Warnw("event rejected by state machine",
			"order", order.Key(), "kind", ev.Kind, "source", ev.Source, "error", err)
	}
}

func (e *Engine) retryPending(ctx context.Context) {
	e.mu.Lock()
	n := e.pending.Len()
	buf := make([]model.OrderEvent, 0, n)
	for i := 0; i < n; i++ {
		buf = append(buf, e.pending.PopFront())
	}
	e.mu.Unlock()

	for _, ev := range buf {
		e.Apply(ctx, ev)
	}
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.forcePoll:
		}
		if err := e.pollOnce(ctx); err != nil && ctx.Err() == nil {
			e.log.Warnw("snapshot poll cycle failed", "error", err)
		}
		e.retryPending(ctx)
	}
}

// pollOnce diffs the venue snapshot against every live order. Each
// per-order query retries with exponential backoff within the cycle
// budget; one unreachable order does not abort the cycle.
func (e *Engine) pollOnce(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	defer cancel()

	live := e.store.Live(e.conn.Venue())
	var firstErr error
	for _, order := range live {
		if err := e.pollOrder(cycleCtx, order); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) pollOrder(ctx context.Context, order *model.Order) error {
	key := order.Key()
	venueSym, err := e.symbols.Resolve(key.Venue, key.Symbol)
	if err != nil {
		// connector-side symbols (recovered orders) used as-is
		venueSym = key.Symbol
	}

	var vo model.VenueOrder
	op := func() error {
		var qerr error
		vo, qerr = e.conn.GetOrder(ctx, venueSym, key.ClientOrderIndex)
		if qerr != nil && errors.Is(qerr, connector.ErrOrderNotFound) {
			return backoff.Permanent(qerr)
		}
		return qerr
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, connector.ErrOrderNotFound) {
			e.handleAbsent(ctx, order)
			return nil
		}
		return fmt.Errorf("query %v: %w", key, err)
	}

	ev, ok := model.SnapshotEvent(key, vo)
	if !ok {
		return nil
	}
	e.applyToOrder(ctx, order, ev)
	return nil
}

// handleAbsent resolves a live local order the venue no longer knows.
// Absence only confirms cancellation when a cancel was actually
// requested; otherwise it is logged and the next cycle retries.
func (e *Engine) handleAbsent(ctx context.Context, order *model.Order) {
	if !order.CancelRequested() {
		e.log.Warnw("live order absent on venue without cancel request", "order", order.Key())
		return
	}
	ev := model.OrderEvent{
		Venue:            order.Key().Venue,
		Symbol:           order.Key().Symbol,
		ClientOrderIndex: order.Key().ClientOrderIndex,
		Kind:             model.EventKindCancelAck,
		Source:           model.SourceSnapshot,
		Reason:           "confirmed absent",
		LocalTS:          time.Now(),
	}
	e.applyToOrder(ctx, order, ev)
}
