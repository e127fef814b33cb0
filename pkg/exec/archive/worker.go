// Package archive drains the order event topic into the archive
// database. It runs in its own process so archive backpressure never
// touches the trading path.
package archive

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/repo"
	kafkawrapper "github.com/joripage/execution-dev/pkg/kafka_wrapper"
)

type Worker struct {
	order      repo.IOrder
	orderEvent repo.IOrderEvent
	log        *zap.SugaredLogger
}

func NewWorker(r repo.IRepo, log *zap.SugaredLogger) *Worker {
	return &Worker{
		order:      r.Order(),
		orderEvent: r.OrderEvent(),
		log:        log,
	}
}

// Run consumes the topic until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, cg *kafkawrapper.ConsumerGroup) error {
	return cg.Run(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, msg kafkawrapper.Message) error {
	var ev model.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// a poisoned payload never becomes consumable; drop it
		w.log.Warnw("unparseable event message dropped",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}

	if _, err := w.orderEvent.Create(ctx, repo.NewOrderEventRecord(ev)); err != nil {
		return err
	}
	if ev.IsTerminalKind() {
		if err := w.finalize(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// finalize writes the order archive row when the terminal event
// arrives, folding in the submit event's parameters from the rows
// already stored.
func (w *Worker) finalize(ctx context.Context, ev model.OrderEvent) error {
	record := &repo.OrderRecord{
		Venue:            ev.Venue,
		Symbol:           ev.Symbol,
		ClientOrderIndex: ev.ClientOrderIndex,
		ExchangeOrderID:  ev.ExchangeOrderID,
		FilledSize:       ev.FilledSize,
		FinalState:       string(finalState(ev.Kind)),
		FailReason:       ev.Reason,
		FinalizedAt:      ev.EffectiveTS(),
	}

	history, err := w.orderEvent.History(ctx, ev.Venue, ev.Symbol, ev.ClientOrderIndex)
	if err != nil {
		return err
	}
	// the submit row carries the order parameters
	for _, h := range history {
		if h.Kind != string(model.EventKindSubmit) {
			continue
		}
		record.Side = h.Side
		record.OrderType = h.OrderType
		record.Size = h.Size
		record.Price = h.Price
		record.CreatedAt = h.LocalTS
		break
	}

	_, err = w.order.Create(ctx, record)
	return err
}

func finalState(kind model.EventKind) model.OrderState {
	switch kind {
	case model.EventKindFill:
		return model.OrderStateFilled
	case model.EventKindCancelAck, model.EventKindExpired:
		return model.OrderStateCancelled
	default:
		return model.OrderStateFailed
	}
}
