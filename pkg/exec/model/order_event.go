package model

import (
	"time"
)

// EventSource tags which channel an observation arrived on.
type EventSource string

const (
	SourcePush     EventSource = "push"
	SourceSnapshot EventSource = "snapshot"
	SourceLocal    EventSource = "local"
)

type EventKind string

const (
	EventKindSubmit      EventKind = "submit"
	EventKindAck         EventKind = "ack"
	EventKindPartialFill EventKind = "partial_fill"
	EventKindFill        EventKind = "fill"
	EventKindCancelAck   EventKind = "cancel_ack"
	EventKindRejected    EventKind = "rejected"
	EventKindExpired     EventKind = "expired"
	// EventKindStreamGap is synthesized by connectors after a push-stream
	// reconnect. It never reaches an order; the reconciliation engine
	// consumes it to force an out-of-cycle snapshot poll.
	EventKindStreamGap EventKind = "stream_gap"
)

func (k EventKind) carriesFill() bool {
	return k == EventKindPartialFill || k == EventKindFill
}

// OrderEvent is one observation about an order. Events are owned by the
// order they are applied to and never mutated after append.
type OrderEvent struct {
	Venue            string      `json:"venue"`
	Symbol           string      `json:"symbol"`
	ClientOrderIndex uint64      `json:"coi"`
	Kind             EventKind   `json:"kind"`
	Source           EventSource `json:"source"`

	// FilledSize is the cumulative filled size reported by the venue,
	// 0 when the event carries no fill information.
	FilledSize int64 `json:"filled_size,omitempty"`
	Price      int64 `json:"price,omitempty"`
	// Size and Side are set on submit events so a crashed process can
	// rebuild the order from its log alone.
	Size            int64     `json:"size,omitempty"`
	Side            OrderSide `json:"side,omitempty"`
	OrderType       OrderType `json:"order_type,omitempty"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`

	// ExchangeTS is the venue-reported timestamp, zero when the venue
	// did not stamp the event. LocalTS is always set on creation.
	ExchangeTS time.Time `json:"exchange_ts,omitempty"`
	LocalTS    time.Time `json:"local_ts"`

	// Raw keeps the opaque venue payload for audit.
	Raw string `json:"raw,omitempty"`
}

func (e OrderEvent) Key() OrderKey {
	return OrderKey{Venue: e.Venue, Symbol: e.Symbol, ClientOrderIndex: e.ClientOrderIndex}
}

// effectiveTS is the timestamp used for cross-channel ordering:
// exchange-authoritative when available, local arrival time otherwise.
func (e OrderEvent) effectiveTS() time.Time {
	if !e.ExchangeTS.IsZero() {
		return e.ExchangeTS
	}
	return e.LocalTS
}

// EffectiveTS is the exported form used by reconciliation diagnostics.
func (e OrderEvent) EffectiveTS() time.Time { return e.effectiveTS() }

// NewLocalEvent builds a locally-sourced lifecycle event for an order.
func NewLocalEvent(key OrderKey, kind EventKind, reason string) OrderEvent {
	return OrderEvent{
		Venue:            key.Venue,
		Symbol:           key.Symbol,
		ClientOrderIndex: key.ClientOrderIndex,
		Kind:             kind,
		Source:           SourceLocal,
		Reason:           reason,
		LocalTS:          time.Now(),
	}
}

func (e OrderEvent) IsTerminalKind() bool {
	switch e.Kind {
	case EventKindFill, EventKindCancelAck, EventKindRejected, EventKindExpired:
		return true
	default:
		return false
	}
}
