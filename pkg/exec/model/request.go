package model

import "time"

// SubmitRequest carries one order submission through the risk gate to a
// connector. Price is ignored for market orders.
type SubmitRequest struct {
	Venue            string
	Symbol           string // canonical symbol
	Side             OrderSide
	Type             OrderType
	Size             int64
	Price            int64
	ClientOrderIndex uint64 // 0 = generate
	PostOnly         bool
	ReduceOnly       bool
}

// TrackingLimitSpec configures one chase-and-fill session.
type TrackingLimitSpec struct {
	Venue      string
	Symbol     string // canonical symbol
	Side       OrderSide
	TargetSize int64

	Interval         time.Duration // per-attempt fill wait
	Timeout          time.Duration // whole-session deadline
	CancelWait       time.Duration // cancel acknowledgement grace
	PriceOffsetTicks int64
	MaxAttempts      int // 0 = unlimited
	PostOnly         bool
	ReduceOnly       bool
}

// TrackingOutcome is the session-level result status. Expected
// non-success terminations are outcomes, not errors.
type TrackingOutcome string

const (
	TrackingFilled    TrackingOutcome = "Filled"
	TrackingTimedOut  TrackingOutcome = "TimedOut"
	TrackingExhausted TrackingOutcome = "AttemptsExhausted"
	TrackingRejected  TrackingOutcome = "Rejected"
	TrackingCancelled TrackingOutcome = "Cancelled"
)

// TrackingAttempt is one entry of the session price/time path.
type TrackingAttempt struct {
	Attempt          int
	ClientOrderIndex uint64
	Price            int64
	Size             int64
	SubmittedAt      time.Time
	FinalState       OrderState
	FilledSize       int64
}

// TrackingReport is the diagnostic artifact a session returns:
// cumulative fill, outcome, and the full per-attempt price path.
type TrackingReport struct {
	SessionID  string
	Venue      string
	Symbol     string
	Side       OrderSide
	TargetSize int64
	FilledSize int64
	Outcome    TrackingOutcome
	FinalState OrderState
	Attempts   int
	Path       []TrackingAttempt
	StartedAt  time.Time
	FinishedAt time.Time
}

// Complete reports whether the session crossed the fill tolerance.
func (r *TrackingReport) Complete() bool {
	return fillComplete(r.FilledSize, r.TargetSize)
}

// FillComplete exposes the ε-threshold check shared with the order
// state machine: filled ≥ 99.9% of requested counts as complete.
func FillComplete(filled, size int64) bool {
	return fillComplete(filled, size)
}
