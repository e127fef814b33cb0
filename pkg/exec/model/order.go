package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type OrderState string

const (
	OrderStateNew             OrderState = "New"
	OrderStateSubmitting      OrderState = "Submitting"
	OrderStateOpen            OrderState = "Open"
	OrderStatePartiallyFilled OrderState = "PartiallyFilled"
	OrderStateFilled          OrderState = "Filled"
	OrderStateCancelled       OrderState = "Cancelled"
	OrderStateFailed          OrderState = "Failed"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Fill completion tolerance: an order counts as filled once cumulative
// fills reach 99.9% of the requested size. Venue rounding can strand a
// few base units forever, so exact equality is never required.
const (
	fillToleranceNum = 9990
	fillToleranceDen = 10000
)

var (
	ErrTerminalOrder = errors.New("order already in terminal state")
	ErrStaleEvent    = errors.New("event older than applied state")
	ErrInvalidFill   = errors.New("fill would decrease or overflow filled size")
	ErrBadTransition = errors.New("invalid order state transition")
)

// OrderKey identifies one order on one venue.
type OrderKey struct {
	Venue            string
	Symbol           string
	ClientOrderIndex uint64
}

func (k OrderKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Venue, k.Symbol, k.ClientOrderIndex)
}

// Order is the single source of truth for one order's lifecycle.
// All mutation goes through ApplyEvent; readers use the accessor
// and snapshot methods. Terminal orders never mutate again.
type Order struct {
	mu sync.Mutex

	key   OrderKey
	side  OrderSide
	typ   OrderType
	size  int64 // requested size, integer scaled units
	price int64 // submitted price, 0 for market orders

	postOnly   bool
	reduceOnly bool

	state           OrderState
	filled          int64 // cumulative, monotonically non-decreasing
	exchangeOrderID string
	failReason      string
	cancelRequested bool

	createdAt  time.Time
	updatedAt  time.Time
	lastEvent  time.Time // exchange-reported timestamp of last applied event
	history    []OrderEvent
	anomalies  int
	finalCh    chan struct{}
	finalOnce  sync.Once
}

// NewOrder creates an order in state New. Orders are created before the
// submission network call is issued so a push event racing ahead of the
// REST response still finds a home.
func NewOrder(key OrderKey, side OrderSide, typ OrderType, size, price int64) *Order {
	now := time.Now()
	return &Order{
		key:       key,
		side:      side,
		typ:       typ,
		size:      size,
		price:     price,
		state:     OrderStateNew,
		createdAt: now,
		updatedAt: now,
		finalCh:   make(chan struct{}),
	}
}

func (o *Order) SetFlags(postOnly, reduceOnly bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.postOnly = postOnly
	o.reduceOnly = reduceOnly
}

func (o *Order) Key() OrderKey   { return o.key }
func (o *Order) Side() OrderSide { return o.side }
func (o *Order) Type() OrderType { return o.typ }
func (o *Order) Size() int64     { return o.size }
func (o *Order) Price() int64    { return o.price }

func (o *Order) State() OrderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Order) Filled() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filled
}

func (o *Order) Remaining() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.filled >= o.size {
		return 0
	}
	return o.size - o.filled
}

func (o *Order) ExchangeOrderID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exchangeOrderID
}

func (o *Order) FailReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failReason
}

// MarkCancelRequested records that a cancel was issued for this order.
// A later snapshot poll that finds the order absent on the venue may
// then treat the absence as a confirmed cancellation.
func (o *Order) MarkCancelRequested() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelRequested = true
}

func (o *Order) CancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelRequested
}

func (o *Order) Anomalies() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.anomalies
}

// History returns a copy of the applied event sequence.
func (o *Order) History() []OrderEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OrderEvent, len(o.history))
	copy(out, o.history)
	return out
}

func (o *Order) IsTerminal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return isTerminal(o.state)
}

func isTerminal(s OrderState) bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminalState reports whether s is one of the immutable end states.
func IsTerminalState(s OrderState) bool { return isTerminal(s) }

// fillComplete reports whether filled crosses the completion tolerance.
func fillComplete(filled, size int64) bool {
	if size <= 0 {
		return false
	}
	// filled/size >= 9990/10000, without overflow for realistic sizes
	return filled >= size || filled*fillToleranceDen >= size*fillToleranceNum
}

// ApplyEvent advances the state machine along a valid edge and appends
// the event to the order history. Events that would regress a terminal
// state return ErrTerminalOrder; events stamped earlier than already
// applied exchange state return ErrStaleEvent. Callers log both as
// anomalies, the order itself only counts them.
func (o *Order) ApplyEvent(ev OrderEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if isTerminal(o.state) {
		o.anomalies++
		return ErrTerminalOrder
	}

	ts := ev.effectiveTS()
	// Exchange timestamps order competing observations across channels.
	// A strictly older state-bearing event loses to what is already
	// applied, except fills: cumulative fill data is merged regardless
	// because filled size only ever grows.
	if !o.lastEvent.IsZero() && ts.Before(o.lastEvent) && !ev.Kind.carriesFill() {
		o.anomalies++
		return ErrStaleEvent
	}

	next, err := o.transition(ev)
	if err != nil {
		o.anomalies++
		return err
	}

	if ev.FilledSize > 0 {
		if ev.FilledSize < o.filled || ev.FilledSize > o.size {
			o.anomalies++
			return ErrInvalidFill
		}
		o.filled = ev.FilledSize
	}
	if fillComplete(o.filled, o.size) && !isTerminal(next) {
		next = OrderStateFilled
	}
	if ev.ExchangeOrderID != "" {
		o.exchangeOrderID = ev.ExchangeOrderID
	}
	if ev.Reason != "" && (next == OrderStateFailed || next == OrderStateCancelled) {
		o.failReason = ev.Reason
	}

	o.state = next
	o.history = append(o.history, ev)
	if ts.After(o.lastEvent) {
		o.lastEvent = ts
	}
	o.updatedAt = time.Now()

	if isTerminal(o.state) {
		o.finalOnce.Do(func() { close(o.finalCh) })
	}
	return nil
}

func (o *Order) transition(ev OrderEvent) (OrderState, error) {
	switch ev.Kind {
	case EventKindSubmit:
		if o.state != OrderStateNew {
			return o.state, ErrBadTransition
		}
		return OrderStateSubmitting, nil
	case EventKindAck:
		switch o.state {
		case OrderStateNew, OrderStateSubmitting, OrderStateOpen:
			return OrderStateOpen, nil
		case OrderStatePartiallyFilled:
			// a late plain ack never downgrades fill progress
			return OrderStatePartiallyFilled, nil
		}
		return o.state, ErrBadTransition
	case EventKindPartialFill:
		switch o.state {
		case OrderStateNew, OrderStateSubmitting, OrderStateOpen, OrderStatePartiallyFilled:
			return OrderStatePartiallyFilled, nil
		}
		return o.state, ErrBadTransition
	case EventKindFill:
		switch o.state {
		case OrderStateNew, OrderStateSubmitting, OrderStateOpen, OrderStatePartiallyFilled:
			return OrderStateFilled, nil
		}
		return o.state, ErrBadTransition
	case EventKindCancelAck, EventKindExpired:
		switch o.state {
		case OrderStateNew, OrderStateSubmitting, OrderStateOpen, OrderStatePartiallyFilled:
			return OrderStateCancelled, nil
		}
		return o.state, ErrBadTransition
	case EventKindRejected:
		switch o.state {
		case OrderStateNew, OrderStateSubmitting, OrderStateOpen, OrderStatePartiallyFilled:
			return OrderStateFailed, nil
		}
		return o.state, ErrBadTransition
	}
	return o.state, ErrBadTransition
}

// WaitFinal blocks until the order reaches a terminal state or ctx
// expires. A nil error means a terminal state was reached; ctx.Err()
// means the order is still live — callers must not assume a timeout
// implies cancellation.
func (o *Order) WaitFinal(ctx context.Context) (OrderState, error) {
	o.mu.Lock()
	if isTerminal(o.state) {
		s := o.state
		o.mu.Unlock()
		return s, nil
	}
	o.mu.Unlock()

	select {
	case <-o.finalCh:
		return o.State(), nil
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
}

// Snapshot is an immutable copy of the order's observable fields.
type OrderSnapshot struct {
	Key             OrderKey
	Side            OrderSide
	Type            OrderType
	Size            int64
	Price           int64
	State           OrderState
	FilledSize      int64
	ExchangeOrderID string
	FailReason      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastEventTS     time.Time
	EventCount      int
	Anomalies       int
}

func (o *Order) Snapshot() OrderSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OrderSnapshot{
		Key:             o.key,
		Side:            o.side,
		Type:            o.typ,
		Size:            o.size,
		Price:           o.price,
		State:           o.state,
		FilledSize:      o.filled,
		ExchangeOrderID: o.exchangeOrderID,
		FailReason:      o.failReason,
		CreatedAt:       o.createdAt,
		UpdatedAt:       o.updatedAt,
		LastEventTS:     o.lastEvent,
		EventCount:      len(o.history),
		Anomalies:       o.anomalies,
	}
}
