package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGridStep      = errors.New("grid step must be positive")
	ErrHedgeModeDisabled    = errors.New("account must be in hedge (dual side) mode")
	ErrWorkerAlreadyRunning = errors.New("trading already active for symbol")
	ErrWorkerNotRunning     = errors.New("trading not active for symbol")
	ErrPositionNotOpen      = errors.New("position is not open")
	ErrUnknownInstrument    = errors.New("no instrument info for symbol")
	ErrZeroQuantity         = errors.New("quantity rounds to zero, increase position notional")
	ErrFillTimeout          = errors.New("order not filled within confirmation window")
	ErrPairNotFound         = errors.New("trading pair not found")
	// ErrEntryPlaced marks a failure after the entry order reached the exchange. Such a
	// cycle is never retried: a retry would place a second entry.
	ErrEntryPlaced = errors.New("entry order already placed")
)

// ConfigurationError is fatal for the symbol it belongs to.
type ConfigurationError struct {
	Symbol string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %v", e.Symbol, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ExchangeTransientError covers network failures, timeouts and rate limits.
// The current iteration is abandoned and retried on the next tick.
type ExchangeTransientError struct {
	Op  string
	Err error
}

func (e *ExchangeTransientError) Error() string {
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *ExchangeTransientError) Unwrap() error { return e.Err }

type RejectionKind string

const (
	RejectionImmediateTrigger RejectionKind = "immediate_trigger"
	RejectionOrderNotFound    RejectionKind = "order_not_found"
	RejectionOther            RejectionKind = "other"
)

// ExchangeRejectionError is an order or request refused by the exchange.
type ExchangeRejectionError struct {
	Op      string
	Code    int64
	Kind    RejectionKind
	Message string
}

func (e *ExchangeRejectionError) Error() string {
	return fmt.Sprintf("exchange %s rejected (%s, code %d): %s", e.Op, e.Kind, e.Code, e.Message)
}

// UnprotectedPositionError is returned by OpenPosition when the entry filled but the
// protective stop was refused. Position describes the filled entry.
type UnprotectedPositionError struct {
	Position *Position
	Cause    error
}

func (e *UnprotectedPositionError) Error() string {
	return fmt.Sprintf("position %s %s opened without stop loss: %v", e.Position.Symbol, e.Position.Side, e.Cause)
}

func (e *UnprotectedPositionError) Unwrap() error { return e.Cause }

// PersistenceError wraps any store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying on the next tick without alarm.
func IsTransient(err error) bool {
	if errors.Is(err, ErrEntryPlaced) {
		return false
	}
	var te *ExchangeTransientError
	return errors.As(err, &te)
}

// IsRejection reports whether err is a rejection of the given kind.
func IsRejection(err error, kind RejectionKind) bool {
	var re *ExchangeRejectionError
	return errors.As(err, &re) && re.Kind == kind
}
