package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine facade. Adapters map these onto
// their own wire-level failure shapes; use errors.Is to classify.
var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrMarketNotOpen     = errors.New("market not open")
	ErrAlreadyExists     = errors.New("instrument already exists")
	ErrNotFound          = errors.New("instrument not found")
	ErrNotEmpty          = errors.New("instrument has resting orders")
)

// InvalidOrderError reports a structural violation in a submitted order:
// missing price on a limit order, price on a market order, non-positive
// quantity, or a duplicate live order id.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s", e.Reason)
}

func invalidOrder(format string, args ...any) error {
	return &InvalidOrderError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidOrder reports whether err is an InvalidOrderError.
func IsInvalidOrder(err error) bool {
	var ioe *InvalidOrderError
	return errors.As(err, &ioe)
}
