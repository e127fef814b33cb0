// Package tracking implements the chase-and-fill session: a passive
// limit order repriced to the moving top of book until the target size
// is filled or the session budget runs out. A session owns at most one
// live order at any instant and never reposts before the previous
// order's cancellation is confirmed.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joripage/execution-dev/pkg/exec/model"
	"github.com/joripage/execution-dev/pkg/exec/venuelock"
)

var (
	ErrNoReferencePrice = errors.New("no reference price on passive side")
	ErrSpecInvalid      = errors.New("tracking parameters invalid")
)

// Orders is the slice of the order service a session drives.
type Orders interface {
	SubmitLimit(ctx context.Context, req model.SubmitRequest) (*model.Order, error)
	Cancel(ctx context.Context, key model.OrderKey) error
	// SyncOrder queries the venue for the order's current state and
	// applies it, bypassing the next poll cycle.
	SyncOrder(ctx context.Context, key model.OrderKey) (model.OrderState, error)
}

// Markets supplies reference prices in canonical symbols.
type Markets interface {
	TopOfBook(ctx context.Context, venue, canonical string) (model.TopOfBook, error)
}

type Engine struct {
	orders  Orders
	markets Markets
	locks   *venuelock.Table
	log     *zap.SugaredLogger

	// cancelConfirmPoll paces the wait for a cancel acknowledgement
	// past the configured grace window.
	cancelConfirmPoll time.Duration
}

func NewEngine(orders Orders, markets Markets, locks *venuelock.Table, log *zap.SugaredLogger) *Engine {
	return &Engine{
		orders:            orders,
		markets:           markets,
		locks:             locks,
		log:               log,
		cancelConfirmPoll: 200 * time.Millisecond,
	}
}

func validate(spec model.TrackingLimitSpec) error {
	if spec.TargetSize <= 0 {
		return fmt.Errorf("%w: target size %d", ErrSpecInvalid, spec.TargetSize)
	}
	if spec.Interval <= 0 || spec.Timeout <= 0 {
		return fmt.Errorf("%w: interval and timeout must be positive", ErrSpecInvalid)
	}
	if spec.CancelWait <= 0 {
		return fmt.Errorf("%w: cancel wait must be positive", ErrSpecInvalid)
	}
	if spec.Side != model.OrderSideBuy && spec.Side != model.OrderSideSell {
		return fmt.Errorf("%w: side %q", ErrSpecInvalid, spec.Side)
	}
	return nil
}

// Run executes one session to completion. The report is returned for
// every outcome, including error returns, so callers always see the
// size that did fill and the price path that was walked.
func (e *Engine) Run(ctx context.Context, spec model.TrackingLimitSpec) (*model.TrackingReport, error) {
	report := &model.TrackingReport{
		SessionID:  uuid.NewString(),
		Venue:      spec.Venue,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		TargetSize: spec.TargetSize,
		StartedAt:  time.Now(),
	}
	if err := validate(spec); err != nil {
		report.Outcome = model.TrackingRejected
		report.FinishedAt = time.Now()
		return report, err
	}

	log := e.log.With("session", report.SessionID, "venue", spec.Venue, "symbol", spec.Symbol, "side", spec.Side)
	log.Infow("tracking session started", "target", spec.TargetSize, "timeout", spec.Timeout)

	sessCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	err := e.run(sessCtx, spec, report, log)
	report.FinishedAt = time.Now()
	report.FinalState = sessionState(report)
	log.Infow("tracking session finished",
		"outcome", report.Outcome, "filled", report.FilledSize,
		"attempts", report.Attempts, "elapsed", report.FinishedAt.Sub(report.StartedAt))
	return report, err
}

func (e *Engine) run(ctx context.Context, spec model.TrackingLimitSpec, report *model.TrackingReport, log *zap.SugaredLogger) error {
	for {
		if model.FillComplete(report.FilledSize, spec.TargetSize) {
			report.Outcome = model.TrackingFilled
			return nil
		}
		if spec.MaxAttempts > 0 && report.Attempts >= spec.MaxAttempts {
			report.Outcome = model.TrackingExhausted
			return nil
		}
		if ctx.Err() != nil {
			report.Outcome = model.TrackingTimedOut
			return nil
		}

		done, err := e.attempt(ctx, spec, report, log)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// attempt places one order, waits out the attempt interval, and tears
// the order down if it is still live. It returns done=true when the
// session reached a final outcome.
func (e *Engine) attempt(ctx context.Context, spec model.TrackingLimitSpec, report *model.TrackingReport, log *zap.SugaredLogger) (done bool, err error) {
	price, err := e.referencePrice(ctx, spec)
	if err != nil {
		report.Outcome = model.TrackingRejected
		return true, err
	}

	release := e.locks.Acquire(spec.Venue, spec.Symbol)
	defer release()

	remaining := spec.TargetSize - report.FilledSize
	report.Attempts++
	attempt := model.TrackingAttempt{
		Attempt:     report.Attempts,
		Price:       price,
		Size:        remaining,
		SubmittedAt: time.Now(),
	}

	order, err := e.orders.SubmitLimit(ctx, model.SubmitRequest{
		Venue:      spec.Venue,
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Type:       model.OrderTypeLimit,
		Size:       remaining,
		Price:      price,
		PostOnly:   spec.PostOnly,
		ReduceOnly: spec.ReduceOnly,
	})
	if err != nil {
		report.Outcome = model.TrackingRejected
		report.Path = append(report.Path, attempt)
		return true, err
	}
	attempt.ClientOrderIndex = order.Key().ClientOrderIndex
	log.Debugw("attempt posted", "attempt", attempt.Attempt, "coi", attempt.ClientOrderIndex,
		"price", price, "size", remaining)

	state := e.waitInterval(ctx, order, spec.Interval)
	if !model.IsTerminalState(state) {
		// live after the interval: tear down before the next reprice
		if err := e.teardown(ctx, order, spec, log); err != nil {
			attempt = finishAttempt(attempt, order)
			report.Path = append(report.Path, attempt)
			report.FilledSize += attempt.FilledSize
			report.Outcome = model.TrackingCancelled
			return true, err
		}
		state = order.State()
	}

	attempt = finishAttempt(attempt, order)
	report.Path = append(report.Path, attempt)
	report.FilledSize += attempt.FilledSize

	switch state {
	case model.OrderStateFilled:
		report.Outcome = model.TrackingFilled
		return true, nil
	case model.OrderStateFailed:
		report.Outcome = model.TrackingRejected
		return true, fmt.Errorf("attempt %d rejected: %s", attempt.Attempt, order.FailReason())
	case model.OrderStateCancelled:
		if model.FillComplete(report.FilledSize, spec.TargetSize) {
			report.Outcome = model.TrackingFilled
			return true, nil
		}
		if ctx.Err() != nil {
			report.Outcome = model.TrackingTimedOut
			return true, nil
		}
		return false, nil
	default:
		// teardown guarantees a terminal state on the happy path;
		// anything else means the cancel never resolved
		report.Outcome = model.TrackingCancelled
		return true, fmt.Errorf("attempt %d order %v stuck in state %s", attempt.Attempt, order.Key(), state)
	}
}

// sessionState is the session-level final state: it reflects how much
// of the target filled across all attempts, not the fate of the last
// order, which is usually Cancelled after a teardown.
func sessionState(report *model.TrackingReport) model.OrderState {
	switch {
	case model.FillComplete(report.FilledSize, report.TargetSize):
		return model.OrderStateFilled
	case report.FilledSize > 0:
		return model.OrderStatePartiallyFilled
	case len(report.Path) > 0:
		return report.Path[len(report.Path)-1].FinalState
	default:
		return ""
	}
}

func finishAttempt(a model.TrackingAttempt, order *model.Order) model.TrackingAttempt {
	a.FinalState = order.State()
	a.FilledSize = order.Filled()
	return a
}

// referencePrice reads the passive side of the book and backs the
// order away from it by the configured tick offset. The price is
// clamped inside the spread so a chase order never takes liquidity,
// even on a locked book or a zero offset.
func (e *Engine) referencePrice(ctx context.Context, spec model.TrackingLimitSpec) (int64, error) {
	tob, err := e.markets.TopOfBook(ctx, spec.Venue, spec.Symbol)
	if err != nil {
		return 0, fmt.Errorf("top of book %s/%s: %w", spec.Venue, spec.Symbol, err)
	}
	ref, ok := tob.Reference(spec.Side)
	if !ok {
		return 0, fmt.Errorf("%w: %s %s/%s", ErrNoReferencePrice, spec.Side, spec.Venue, spec.Symbol)
	}
	if spec.Side == model.OrderSideBuy {
		price := ref - spec.PriceOffsetTicks
		if tob.HasAsk && price >= tob.Ask {
			price = tob.Ask - 1
		}
		if price < 1 {
			price = 1
		}
		return price, nil
	}
	price := ref + spec.PriceOffsetTicks
	if tob.HasBid && price <= tob.Bid {
		price = tob.Bid + 1
	}
	return price, nil
}

// waitInterval waits for the order to go terminal, bounded by the
// per-attempt interval or the session deadline, whichever ends first.
func (e *Engine) waitInterval(ctx context.Context, order *model.Order, interval time.Duration) model.OrderState {
	waitCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	state, err := order.WaitFinal(waitCtx)
	if err != nil {
		return order.State()
	}
	return state
}

// teardown cancels the live order and blocks until the venue confirms
// a terminal state. It deliberately survives session expiry: an order
// may only be left behind once its cancellation is acknowledged, so
// the final confirm wait runs on a detached context.
func (e *Engine) teardown(ctx context.Context, order *model.Order, spec model.TrackingLimitSpec, log *zap.SugaredLogger) error {
	base := context.WithoutCancel(ctx)
	if err := e.orders.Cancel(base, order.Key()); err != nil {
		if order.IsTerminal() {
			return nil
		}
		return fmt.Errorf("cancel %v: %w", order.Key(), err)
	}

	waitCtx, cancel := context.WithTimeout(base, spec.CancelWait)
	defer cancel()
	if _, err := order.WaitFinal(waitCtx); err == nil {
		return nil
	}

	// Past the grace window the cancel is ambiguous. Resolve it by
	// querying the venue directly: still-open means re-issue the cancel
	// and extend the wait. Reposting before a confirmed terminal state
	// could double exposure, so that is never done here.
	log.Warnw("cancel unconfirmed past grace window, querying venue",
		"order", order.Key(), "wait", spec.CancelWait)
	confirmCtx, confirmCancel := context.WithTimeout(base, 10*spec.CancelWait)
	defer confirmCancel()
	ticker := time.NewTicker(e.cancelConfirmPoll)
	defer ticker.Stop()
	for {
		select {
		case <-confirmCtx.Done():
			return fmt.Errorf("cancel of %v unconfirmed: %w", order.Key(), confirmCtx.Err())
		case <-ticker.C:
			state, err := e.orders.SyncOrder(confirmCtx, order.Key())
			if err != nil {
				log.Warnw("order status query failed", "order", order.Key(), "error", err)
				continue
			}
			if model.IsTerminalState(state) {
				return nil
			}
			// the venue still reports the order live; the cancel may
			// have been lost, so issue it again
			if err := e.orders.Cancel(confirmCtx, order.Key()); err != nil && !order.IsTerminal() {
				log.Warnw("cancel retry failed", "order", order.Key(), "error", err)
			}
		}
	}
}
