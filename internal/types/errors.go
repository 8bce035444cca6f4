package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for the tracker.
var (
	// Detection errors
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// Execution errors
	ErrConnectivity  = errors.New("exchange gateway unreachable")
	ErrLeverageSet   = errors.New("failed to set leverage")
	ErrProtectiveLeg = errors.New("protective leg submission failed")
	ErrOrderRejected = errors.New("order rejected by exchange")

	// Session errors
	ErrUnknownAgent = errors.New("unknown agent")

	// Gateway errors
	ErrNotConnected  = errors.New("gateway not connected")
	ErrInvalidSymbol = errors.New("invalid symbol")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidPlan   = errors.New("invalid trading plan")
)

// InsufficientMarginError reports a margin check failure with the computed
// deficit. It is plan-scoped and never auto-retried within a cycle.
type InsufficientMarginError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin for %s: required %s, available %s (deficit %s)",
		e.Symbol, e.Required.StringFixed(2), e.Available.StringFixed(2), e.Deficit().StringFixed(2))
}

// Deficit returns how much margin is missing.
func (e *InsufficientMarginError) Deficit() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// IsInsufficientMargin reports whether err is an InsufficientMarginError.
func IsInsufficientMargin(err error) bool {
	var ime *InsufficientMarginError
	return errors.As(err, &ime)
}
