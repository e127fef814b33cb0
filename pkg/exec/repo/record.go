package repo

import (
	"time"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

// OrderRecord is one archived order row. Orders are archived once, on
// reaching a terminal state.
type OrderRecord struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Venue            string `gorm:"index:idx_order_key,unique"`
	Symbol           string `gorm:"index:idx_order_key,unique"`
	ClientOrderIndex uint64 `gorm:"index:idx_order_key,unique"`
	ExchangeOrderID  string
	Side             string
	OrderType        string
	Size             int64
	Price            int64
	FilledSize       int64
	FinalState       string
	FailReason       string
	Anomalies        int
	CreatedAt        time.Time
	FinalizedAt      time.Time
}

// OrderEventRecord is one event history row.
type OrderEventRecord struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Venue            string `gorm:"index:idx_event_key"`
	Symbol           string `gorm:"index:idx_event_key"`
	ClientOrderIndex uint64 `gorm:"index:idx_event_key"`
	Kind             string
	Source           string
	FilledSize       int64
	Price            int64
	Size             int64
	Side             string
	OrderType        string
	ExchangeOrderID  string
	Reason           string
	ExchangeTS       time.Time
	LocalTS          time.Time
	Raw              string
}

// NewOrderEventRecord flattens a wire event into its archive row.
func NewOrderEventRecord(ev model.OrderEvent) *OrderEventRecord {
	return &OrderEventRecord{
		Venue:            ev.Venue,
		Symbol:           ev.Symbol,
		ClientOrderIndex: ev.ClientOrderIndex,
		Kind:             string(ev.Kind),
		Source:           string(ev.Source),
		FilledSize:       ev.FilledSize,
		Price:            ev.Price,
		Size:             ev.Size,
		Side:             string(ev.Side),
		OrderType:        string(ev.OrderType),
		ExchangeOrderID:  ev.ExchangeOrderID,
		Reason:           ev.Reason,
		ExchangeTS:       ev.ExchangeTS,
		LocalTS:          ev.LocalTS,
		Raw:              ev.Raw,
	}
}

// NewOrderRecord flattens a terminal order snapshot into its archive row.
func NewOrderRecord(snap model.OrderSnapshot) *OrderRecord {
	return &OrderRecord{
		Venue:            snap.Key.Venue,
		Symbol:           snap.Key.Symbol,
		ClientOrderIndex: snap.Key.ClientOrderIndex,
		ExchangeOrderID:  snap.ExchangeOrderID,
		Side:             string(snap.Side),
		OrderType:        string(snap.Type),
		Size:             snap.Size,
		Price:            snap.Price,
		FilledSize:       snap.FilledSize,
		FinalState:       string(snap.State),
		FailReason:       snap.FailReason,
		Anomalies:        snap.Anomalies,
		CreatedAt:        snap.CreatedAt,
		FinalizedAt:      snap.UpdatedAt,
	}
}
