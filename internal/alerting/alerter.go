// Package alerting delivers execution outcomes to operator channels.
// Delivery is best effort and never blocks or reverses a trade outcome.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for degraded but non-fatal conditions.
	SeverityWarning
	// SeverityCritical is for conditions requiring operator attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a formatted string.
func FormatFields(fields ...any) string {
	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, fields[i+1])
	}
	return result
}

// Event is a predefined alert event type.
type Event string

const (
	// EventTradeExecuted is sent when a plan's primary order fills.
	EventTradeExecuted Event = "trade_executed"
	// EventTradeFailed is sent when a plan fails before or at submission.
	EventTradeFailed Event = "trade_failed"
	// EventProtectiveLegMissing is sent when an entry filled but a
	// protective leg could not be placed.
	EventProtectiveLegMissing Event = "protective_leg_missing"
	// EventMarginRejected is sent when a plan fails the margin check.
	EventMarginRejected Event = "margin_rejected"
	// EventFollowStarted is sent when a following session starts.
	EventFollowStarted Event = "follow_started"
	// EventFollowStopped is sent when a following session stops.
	EventFollowStopped Event = "follow_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event Event) Severity {
	switch event {
	case EventProtectiveLegMissing:
		return SeverityCritical
	case EventTradeFailed, EventMarginRejected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
