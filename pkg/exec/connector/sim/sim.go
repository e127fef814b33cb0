// Package sim is an in-process venue used by the demo binary and the
// engine tests. It keeps a real order table behind the connector
// surface and lets callers script the awkward parts of a live venue:
// delayed fills, dropped cancel acknowledgements, and push events with
// arbitrary exchange timestamps.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joripage/execution-dev/pkg/exec/connector"
	"github.com/joripage/execution-dev/pkg/exec/model"
)

// Symbol declares one tradable instrument.
type Symbol struct {
	PriceDecimals int32
	SizeDecimals  int32
	MinOrderSize  int64
}

type Config struct {
	Name    string
	COIBits uint
	Symbols map[string]Symbol
	// EventBuffer sizes the push channel; default 64.
	EventBuffer int
}

type simOrder struct {
	key        model.OrderKey
	side       model.OrderSide
	size       int64
	price      int64
	filled     int64
	state      model.OrderState
	exchangeID string
	updatedAt  time.Time
}

// Venue is a scriptable connector.Connector.
type Venue struct {
	cfg Config

	mu      sync.Mutex
	books   map[string]model.TopOfBook
	orders  map[uint64]*simOrder
	started bool

	// behavior switches for failure scenarios
	rejectReason    string
	dropCancelAck   bool
	forgetCancelled bool
	autoFill        *autoFill

	events chan model.OrderEvent
	clock  func() time.Time
}

// autoFill fills a fraction of every resting order after a delay.
type autoFill struct {
	delay    time.Duration
	fraction float64 // 0 < f <= 1 of remaining size per trigger
}

func New(cfg Config) *Venue {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.COIBits == 0 {
		cfg.COIBits = 32
	}
	return &Venue{
		cfg:    cfg,
		books:  make(map[string]model.TopOfBook),
		orders: make(map[uint64]*simOrder),
		events: make(chan model.OrderEvent, cfg.EventBuffer),
		clock:  time.Now,
	}
}

func (v *Venue) Venue() string { return v.cfg.Name }
func (v *Venue) COIBits() uint { return v.cfg.COIBits }

func (v *Venue) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = true
	return nil
}

func (v *Venue) Stop(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		v.started = false
		close(v.events)
	}
	return nil
}

func (v *Venue) Events() <-chan model.OrderEvent { return v.events }

// SetBook replaces the top of book for a symbol.
func (v *Venue) SetBook(symbol string, tob model.TopOfBook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.books[symbol] = tob
}

// RejectNext makes every following submit fail with a venue rejection
// until cleared with an empty reason.
func (v *Venue) RejectNext(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectReason = reason
}

// DropCancelAcks suppresses push acknowledgements for cancels. The
// order still dies inside the venue, so only a snapshot query reveals
// the outcome.
func (v *Venue) DropCancelAcks(drop bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropCancelAck = drop
}

// ForgetCancelled makes GetOrder report cancelled orders as not found,
// modelling venues that age terminal orders out of their query surface.
func (v *Venue) ForgetCancelled(forget bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.forgetCancelled = forget
}

// AutoFill fills fraction of each resting order's remaining size after
// delay, once per submitted order. fraction 1 fills completely.
func (v *Venue) AutoFill(delay time.Duration, fraction float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	v.autoFill = &autoFill{delay: delay, fraction: fraction}
}

// Emit injects an arbitrary push event, e.g. a backdated fill or a
// stream gap marker.
func (v *Venue) Emit(ev model.OrderEvent) {
	select {
	case v.events <- ev:
	default:
	}
}

func (v *Venue) symbol(symbol string) (Symbol, error) {
	s, ok := v.cfg.Symbols[symbol]
	if !ok {
		return Symbol{}, connector.ErrUnknownSymbol
	}
	return s, nil
}

func (v *Venue) PriceSizeDecimals(ctx context.Context, symbol string) (int32, int32, error) {
	s, err := v.symbol(symbol)
	if err != nil {
		return 0, 0, err
	}
	return s.PriceDecimals, s.SizeDecimals, nil
}

func (v *Venue) MinOrderSize(ctx context.Context, symbol string) (int64, error) {
	s, err := v.symbol(symbol)
	if err != nil {
		return 0, err
	}
	return s.MinOrderSize, nil
}

func (v *Venue) TopOfBook(ctx context.Context, symbol string) (model.TopOfBook, error) {
	if _, err := v.symbol(symbol); err != nil {
		return model.TopOfBook{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.books[symbol], nil
}

func (v *Venue) SubmitLimit(ctx context.Context, p connector.SubmitLimitParams) (string, error) {
	return v.accept(p.Symbol, p.ClientOrderIndex, p.Side, p.Size, p.Price)
}

func (v *Venue) SubmitMarket(ctx context.Context, p connector.SubmitMarketParams) (string, error) {
	return v.accept(p.Symbol, p.ClientOrderIndex, p.Side, p.Size, 0)
}

func (v *Venue) accept(symbol string, coi uint64, side model.OrderSide, size, price int64) (string, error) {
	if _, err := v.symbol(symbol); err != nil {
		return "", err
	}
	v.mu.Lock()
	if !v.started {
		v.mu.Unlock()
		return "", connector.ErrNotReady
	}
	if v.rejectReason != "" {
		reason := v.rejectReason
		v.mu.Unlock()
		return "", &connector.RejectionError{Reason: reason}
	}
	o := &simOrder{
		key:        model.OrderKey{Venue: v.cfg.Name, Symbol: symbol, ClientOrderIndex: coi},
		side:       side,
		size:       size,
		price:      price,
		state:      model.OrderStateOpen,
		exchangeID: uuid.NewString(),
		updatedAt:  v.clock(),
	}
	v.orders[coi] = o
	af := v.autoFill
	v.mu.Unlock()

	v.push(o, model.EventKindAck, o.updatedAt)
	if af != nil {
		go v.fillLater(coi, af)
	}
	return o.exchangeID, nil
}

func (v *Venue) fillLater(coi uint64, af *autoFill) {
	time.Sleep(af.delay)
	v.mu.Lock()
	o, ok := v.orders[coi]
	if !ok || model.IsTerminalState(o.state) {
		v.mu.Unlock()
		return
	}
	remaining := o.size - o.filled
	fill := int64(float64(remaining) * af.fraction)
	if fill <= 0 || fill >= remaining {
		fill = remaining
	}
	o.filled += fill
	o.updatedAt = v.clock()
	kind := model.EventKindPartialFill
	if o.filled >= o.size {
		o.state = model.OrderStateFilled
		kind = model.EventKindFill
	} else {
		o.state = model.OrderStatePartiallyFilled
	}
	ts := o.updatedAt
	v.mu.Unlock()
	v.push(o, kind, ts)
}

func (v *Venue) Cancel(ctx context.Context, symbol string, coi uint64) error {
	v.mu.Lock()
	o, ok := v.orders[coi]
	if !ok || model.IsTerminalState(o.state) {
		v.mu.Unlock()
		return connector.ErrOrderNotFound
	}
	o.state = model.OrderStateCancelled
	o.updatedAt = v.clock()
	drop := v.dropCancelAck
	ts := o.updatedAt
	v.mu.Unlock()

	if !drop {
		v.push(o, model.EventKindCancelAck, ts)
	}
	return nil
}

func (v *Venue) GetOrder(ctx context.Context, symbol string, coi uint64) (model.VenueOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[coi]
	if !ok {
		return model.VenueOrder{}, connector.ErrOrderNotFound
	}
	if v.forgetCancelled && o.state == model.OrderStateCancelled {
		return model.VenueOrder{}, connector.ErrOrderNotFound
	}
	return v.venueOrder(o), nil
}

func (v *Venue) OpenOrders(ctx context.Context, symbol string) ([]model.VenueOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []model.VenueOrder
	for _, o := range v.orders {
		if o.key.Symbol == symbol && !model.IsTerminalState(o.state) {
			out = append(out, v.venueOrder(o))
		}
	}
	return out, nil
}

func (v *Venue) Positions(ctx context.Context) ([]model.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	net := make(map[string]int64)
	for _, o := range v.orders {
		signed := o.filled
		if o.side == model.OrderSideSell {
			signed = -signed
		}
		net[o.key.Symbol] += signed
	}
	out := make([]model.Position, 0, len(net))
	for sym, base := range net {
		out = append(out, model.Position{
			Venue:     v.cfg.Name,
			Symbol:    sym,
			Base:      base,
			UpdatedAt: v.clock(),
		})
	}
	return out, nil
}

func (v *Venue) venueOrder(o *simOrder) model.VenueOrder {
	return model.VenueOrder{
		Key:             o.key,
		State:           o.state,
		FilledSize:      o.filled,
		Price:           o.price,
		ExchangeOrderID: o.exchangeID,
		ExchangeTS:      o.updatedAt,
	}
}

func (v *Venue) push(o *simOrder, kind model.EventKind, ts time.Time) {
	v.mu.Lock()
	filled := o.filled
	price := o.price
	exchangeID := o.exchangeID
	v.mu.Unlock()
	v.Emit(model.OrderEvent{
		Venue:            v.cfg.Name,
		Symbol:           o.key.Symbol,
		ClientOrderIndex: o.key.ClientOrderIndex,
		Kind:             kind,
		Source:           model.SourcePush,
		FilledSize:       filled,
		Price:            price,
		ExchangeOrderID:  exchangeID,
		ExchangeTS:       ts,
		LocalTS:          v.clock(),
	})
}

var _ connector.Connector = (*Venue)(nil)
