package connector

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady      = errors.New("connector not ready")
	ErrOrderNotFound = errors.New("order not found on venue")
	ErrUnknownSymbol = errors.New("symbol not listed on venue")
)

// RejectionError is a venue refusing an order: terminal for the order,
// never retried by the engine itself.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected by venue: %s", e.Reason)
}

// IsRejection reports whether err is a venue rejection as opposed to a
// transient transport failure.
func IsRejection(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}
