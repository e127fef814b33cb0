package connector

import (
	"context"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

// SubmitLimitParams mirrors the minimum limit-order surface every venue
// adapter must accept. Symbol is already the venue symbol.
type SubmitLimitParams struct {
	Symbol           string
	ClientOrderIndex uint64
	Size             int64
	Price            int64
	Side             model.OrderSide
	PostOnly         bool
	ReduceOnly       bool
}

type SubmitMarketParams struct {
	Symbol           string
	ClientOrderIndex uint64
	Size             int64
	Side             model.OrderSide
	ReduceOnly       bool
}

// Connector is the per-venue capability contract. Every adapter
// implements the full interface or is rejected at construction time;
// there is no optional-method probing.
type Connector interface {
	Venue() string
	// COIBits is the venue-declared client order index width. Indices
	// wrap at 2^COIBits-1.
	COIBits() uint

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	PriceSizeDecimals(ctx context.Context, symbol string) (priceDec, sizeDec int32, err error)
	MinOrderSize(ctx context.Context, symbol string) (int64, error)
	TopOfBook(ctx context.Context, symbol string) (model.TopOfBook, error)

	// SubmitLimit and SubmitMarket return the exchange order id when the
	// venue assigns one synchronously; "" means it will arrive by push.
	SubmitLimit(ctx context.Context, p SubmitLimitParams) (string, error)
	SubmitMarket(ctx context.Context, p SubmitMarketParams) (string, error)
	Cancel(ctx context.Context, symbol string, clientOrderIndex uint64) error

	GetOrder(ctx context.Context, symbol string, clientOrderIndex uint64) (model.VenueOrder, error)
	OpenOrders(ctx context.Context, symbol string) ([]model.VenueOrder, error)
	Positions(ctx context.Context) ([]model.Position, error)

	// Events delivers push observations (order acks, fills, cancel acks)
	// tagged with venue-reported timestamps, plus stream_gap markers
	// after reconnects. The channel closes when the connector stops.
	Events() <-chan model.OrderEvent
}
