// Package router is the order entry surface. It owns connector
// registration, client order index allocation, the risk gate, and the
// write-ahead submit protocol: an order and its submit event exist in
// the registry and the event log before the venue ever sees the
// request, so a crash mid-submit is always recoverable.
package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/connector"
	"github.com/joripage/execution-dev/pkg/exec/eventlog"
	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/riskrule"
	"github.com/joripage/execution-dev/pkg/exec/store"
	"github.com/joripage/execution-dev/pkg/exec/symbol"
	"github.com/joripage/execution-dev/pkg/exec/venuelock"
)

var ErrUnknownVenue = errors.New("unknown venue")

type Service struct {
	store   *store.Store
	symbols *symbol.Service
	gate    *riskrule.Gate
	sink    eventlog.Sink
	coi     *COIManager
	locks   *venuelock.Table
	log     *zap.SugaredLogger

	conns map[string]connector.Connector
}

func NewService(st *store.Store, symbols *symbol.Service, gate *riskrule.Gate, sink eventlog.Sink, log *zap.SugaredLogger) *Service {
	if sink == nil {
		sink = eventlog.Nop{}
	}
	return &Service{
		store:   st,
		symbols: symbols,
		gate:    gate,
		sink:    sink,
		coi:     NewCOIManager(st),
		locks:   venuelock.NewTable(),
		log:     log,
		conns:   make(map[string]connector.Connector),
	}
}

// RegisterConnector wires a venue into the router and the symbol
// service and declares its index width.
func (s *Service) RegisterConnector(c connector.Connector) {
	s.conns[c.Venue()] = c
	s.symbols.RegisterConnector(c)
	s.coi.RegisterVenue(c.Venue(), c.COIBits())
}

func (s *Service) conn(venue string) (connector.Connector, error) {
	c, ok := s.conns[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return c, nil
}

// Locks exposes the per-book placement locks so chasing sessions can
// hold one across their submit-then-cancel critical section.
func (s *Service) Locks() *venuelock.Table { return s.locks }

// SubmitLimit runs the full placement protocol for a limit order:
// risk gate, index allocation, registry insert with a logged submit
// event, then the venue call. Callers that need serialization against
// other placements on the same book take the venue lock themselves.
func (s *Service) SubmitLimit(ctx context.Context, req model.SubmitRequest) (*model.Order, error) {
	req.Type = model.OrderTypeLimit
	return s.submit(ctx, req)
}

// SubmitMarket submits a market order; req.Price is ignored.
func (s *Service) SubmitMarket(ctx context.Context, req model.SubmitRequest) (*model.Order, error) {
	req.Type = model.OrderTypeMarket
	req.Price = 0
	return s.submit(ctx, req)
}

func (s *Service) submit(ctx context.Context, req model.SubmitRequest) (*model.Order, error) {
	conn, err := s.conn(req.Venue)
	if err != nil {
		return nil, err
	}
	venueSym, err := s.symbols.Resolve(req.Venue, req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Validate(ctx, riskrule.Check{
		Venue:  req.Venue,
		Symbol: req.Symbol,
		Side:   req.Side,
		Size:   req.Size,
		Price:  req.Price,
	}); err != nil {
		s.log.Warnw("order blocked by risk gate",
			"venue", req.Venue, "symbol", req.Symbol, "side", req.Side,
			"size", req.Size, "error", err)
		return nil, err
	}

	coi := req.ClientOrderIndex
	if coi == 0 {
		if coi, err = s.coi.Next(req.Venue); err != nil {
			return nil, err
		}
	}
	key := model.OrderKey{Venue: req.Venue, Symbol: req.Symbol, ClientOrderIndex: coi}
	order := model.NewOrder(key, req.Side, req.Type, req.Size, req.Price)
	order.SetFlags(req.PostOnly, req.ReduceOnly)
	if err := s.store.Add(order); err != nil {
		return nil, err
	}

	// The submit event carries the order parameters so the log alone can
	// rebuild the order after a crash between this append and the ack.
	submitEv := model.NewLocalEvent(key, model.EventKindSubmit, "")
	submitEv.Size = req.Size
	submitEv.Side = req.Side
	submitEv.OrderType = req.Type
	submitEv.Price = req.Price
	if err := order.ApplyEvent(submitEv); err != nil {
		return nil, err
	}
	if err := s.sink.Append(ctx, submitEv); err != nil {
		s.log.Errorw("submit event append failed", "order", key, "error", err)
	}

	var exchangeID string
	if req.Type == model.OrderTypeMarket {
		exchangeID, err = conn.SubmitMarket(ctx, connector.SubmitMarketParams{
			Symbol:           venueSym,
			ClientOrderIndex: coi,
			Size:             req.Size,
			Side:             req.Side,
			ReduceOnly:       req.ReduceOnly,
		})
	} else {
		exchangeID, err = conn.SubmitLimit(ctx, connector.SubmitLimitParams{
			Symbol:           venueSym,
			ClientOrderIndex: coi,
			Size:             req.Size,
			Price:            req.Price,
			Side:             req.Side,
			PostOnly:         req.PostOnly,
			ReduceOnly:       req.ReduceOnly,
		})
	}
	if err != nil {
		s.failSubmit(ctx, order, err)
		return order, err
	}

	if exchangeID != "" {
		ackEv := model.NewLocalEvent(key, model.EventKindAck, "")
		ackEv.ExchangeOrderID = exchangeID
		s.applyAndLog(ctx, order, ackEv)
	}
	s.log.Infow("order submitted",
		"order", key, "type", req.Type, "side", req.Side,
		"size", req.Size, "price", req.Price, "exchange_id", exchangeID)
	return order, nil
}

func (s *Service) applyAndLog(ctx context.Context, order *model.Order, ev model.OrderEvent) {
	if err := order.ApplyEvent(ev); err != nil {
		s.log.Warnw("local event rejected by state machine",
			"order", order.Key(), "kind", ev.Kind, "error", err)
		return
	}
	if err := s.sink.Append(ctx, ev); err != nil {
		s.log.Errorw("event log append failed", "order", order.Key(), "error", err)
	}
}

// failSubmit finalizes an order whose venue call failed. A definite
// rejection goes terminal immediately; an indefinite transport error
// leaves the order live for the reconciler, since the venue may have
// accepted the request before the failure.
func (s *Service) failSubmit(ctx context.Context, order *model.Order, cause error) {
	var rej *connector.RejectionError
	if errors.As(cause, &rej) {
		ev := model.NewLocalEvent(order.Key(), model.EventKindRejected, rej.Reason)
		s.applyAndLog(ctx, order, ev)
		s.log.Warnw("order rejected by venue", "order", order.Key(), "reason", rej.Reason)
		return
	}
	s.log.Errorw("submit outcome unknown, leaving order for reconciliation",
		"order", order.Key(), "error", cause)
}

// Cancel requests cancellation. Cancelling a terminal order is a
// no-op, not an error, and repeated cancels are idempotent.
func (s *Service) Cancel(ctx context.Context, key model.OrderKey) error {
	order, ok := s.store.Get(key)
	if !ok {
		return store.ErrOrderNotFound
	}
	if order.IsTerminal() {
		return nil
	}
	conn, err := s.conn(key.Venue)
	if err != nil {
		return err
	}
	venueSym, err := s.symbols.Resolve(key.Venue, key.Symbol)
	if err != nil {
		return err
	}
	order.MarkCancelRequested()
	if err := conn.Cancel(ctx, venueSym, key.ClientOrderIndex); err != nil {
		if errors.Is(err, connector.ErrOrderNotFound) {
			// already gone on the venue; the next poll confirms which
			// terminal state it reached
			return nil
		}
		return fmt.Errorf("cancel %v: %w", key, err)
	}
	s.log.Infow("cancel requested", "order", key)
	return nil
}

// CancelAll cancels every live order, optionally restricted to one
// venue ("" means all). It is the emergency flatten path, so failures
// are collected rather than aborting the sweep.
func (s *Service) CancelAll(ctx context.Context, venue string) error {
	var firstErr error
	for v := range s.conns {
		if venue != "" && v != venue {
			continue
		}
		for _, order := range s.store.Live(v) {
			if err := s.Cancel(ctx, order.Key()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Order returns the live or terminal order for key.
func (s *Service) Order(key model.OrderKey) (*model.Order, bool) {
	return s.store.Get(key)
}

// WaitFinal blocks until the order reaches a terminal state or ctx
// expires.
func (s *Service) WaitFinal(ctx context.Context, key model.OrderKey) (model.OrderState, error) {
	order, ok := s.store.Get(key)
	if !ok {
		return "", store.ErrOrderNotFound
	}
	return order.WaitFinal(ctx)
}

// SyncOrder queries the venue directly for the order's current state
// and applies the snapshot, without waiting for the next poll cycle.
// Absence on the venue confirms cancellation only when a cancel was
// locally requested, same as the reconciler's rule.
func (s *Service) SyncOrder(ctx context.Context, key model.OrderKey) (model.OrderState, error) {
	order, ok := s.store.Get(key)
	if !ok {
		return "", store.ErrOrderNotFound
	}
	if order.IsTerminal() {
		return order.State(), nil
	}
	conn, err := s.conn(key.Venue)
	if err != nil {
		return order.State(), err
	}
	venueSym, err := s.symbols.Resolve(key.Venue, key.Symbol)
	if err != nil {
		venueSym = key.Symbol
	}

	vo, err := conn.GetOrder(ctx, venueSym, key.ClientOrderIndex)
	if err != nil {
		if errors.Is(err, connector.ErrOrderNotFound) && order.CancelRequested() {
			ev := model.NewLocalEvent(key, model.EventKindCancelAck, "confirmed absent")
			ev.Source = model.SourceSnapshot
			s.applyAndLog(ctx, order, ev)
			return order.State(), nil
		}
		return order.State(), fmt.Errorf("query %v: %w", key, err)
	}
	if ev, ok := model.SnapshotEvent(key, vo); ok {
		s.applyAndLog(ctx, order, ev)
	}
	return order.State(), nil
}

// TopOfBook returns the venue book top for a canonical symbol.
func (s *Service) TopOfBook(ctx context.Context, venue, canonical string) (model.TopOfBook, error) {
	conn, err := s.conn(venue)
	if err != nil {
		return model.TopOfBook{}, err
	}
	venueSym, err := s.symbols.Resolve(venue, canonical)
	if err != nil {
		return model.TopOfBook{}, err
	}
	return conn.TopOfBook(ctx, venueSym)
}

// Positions returns the venue-reported position snapshot.
func (s *Service) Positions(ctx context.Context, venue string) ([]model.Position, error) {
	conn, err := s.conn(venue)
	if err != nil {
		return nil, err
	}
	return conn.Positions(ctx)
}

// Recover re-registers orders rebuilt from event logs and marks them
// for an immediate snapshot poll. The returned keys identify what was
// restored.
func (s *Service) Recover(recovered []eventlog.Recovered) ([]model.OrderKey, error) {
	var keys []model.OrderKey
	for _, rec := range recovered {
		order, err := rec.Rebuild()
		if err != nil {
			s.log.Warnw("recovered log unusable", "order", rec.Key, "error", err)
			continue
		}
		if order.IsTerminal() {
			continue
		}
		if err := s.store.Add(order); err != nil {
			return keys, fmt.Errorf("restore %v: %w", rec.Key, err)
		}
		keys = append(keys, rec.Key)
		s.log.Infow("order restored from event log",
			"order", rec.Key, "state", order.State(), "filled", order.Filled())
	}
	return keys, nil
}

// NetBase implements the exposure rule's position source from the
// venue snapshot, falling back to zero when the venue is unreachable.
func (s *Service) NetBase(ctx context.Context, venue, canonical string) (int64, error) {
	venueSym, err := s.symbols.Resolve(venue, canonical)
	if err != nil {
		return 0, err
	}
	positions, err := s.Positions(ctx, venue)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == venueSym || p.Symbol == canonical {
			return p.Base, nil
		}
	}
	return 0, nil
}
