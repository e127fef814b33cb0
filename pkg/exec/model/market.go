package model

import "time"

// TopOfBook is the best bid/ask for one symbol in integer scaled units.
// A missing side is a valid "no liquidity" signal, not an error.
type TopOfBook struct {
	Bid    int64
	Ask    int64
	HasBid bool
	HasAsk bool
	// Scale is the integer-units-per-price-unit factor (10^price_decimals).
	Scale int64
}

// Reference returns the passive-side price for the requested direction:
// best bid for a buy, best ask for a sell.
func (t TopOfBook) Reference(side OrderSide) (int64, bool) {
	if side == OrderSideBuy {
		return t.Bid, t.HasBid
	}
	return t.Ask, t.HasAsk
}

// Position is one venue position snapshot.
type Position struct {
	Venue      string
	Symbol     string
	Base       int64 // signed, integer scaled units
	EntryPrice int64
	UpdatedAt  time.Time
}

// VenueOrder is the venue's own view of an order, as returned by a
// snapshot query. The reconciliation engine converts it into events.
type VenueOrder struct {
	Key             OrderKey
	State           OrderState
	FilledSize      int64
	Price           int64
	ExchangeOrderID string
	ExchangeTS      time.Time
	Raw             string
}

// SnapshotEvent converts a venue order snapshot into the event that
// would produce the venue-reported state.
func SnapshotEvent(key OrderKey, vo VenueOrder) (OrderEvent, bool) {
	ev := OrderEvent{
		Venue:            key.Venue,
		Symbol:           key.Symbol,
		ClientOrderIndex: key.ClientOrderIndex,
		Source:           SourceSnapshot,
		FilledSize:       vo.FilledSize,
		Price:            vo.Price,
		ExchangeOrderID:  vo.ExchangeOrderID,
		ExchangeTS:       vo.ExchangeTS,
		LocalTS:          time.Now(),
		Raw:              vo.Raw,
	}
	switch vo.State {
	case OrderStateOpen, OrderStateNew, OrderStateSubmitting:
		ev.Kind = EventKindAck
	case OrderStatePartiallyFilled:
		ev.Kind = EventKindPartialFill
	case OrderStateFilled:
		ev.Kind = EventKindFill
	case OrderStateCancelled:
		ev.Kind = EventKindCancelAck
	case OrderStateFailed:
		ev.Kind = EventKindRejected
	default:
		return OrderEvent{}, false
	}
	return ev, true
}
