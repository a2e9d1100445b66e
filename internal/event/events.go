package event

import (
	"context"
	"time"
)

// Type identifies a domain event in the audit log.
type Type uint16

const (
	EvOrderNew Type = iota + 1
	EvOrderUpdate
	EvFill
	EvPositionOpened
	EvPositionMarked
	EvPositionClosed
	EvFundingCharge
	EvAccountSnapshot
	EvStrategyNote
	EvSignalRejected
	EvSignalFailed
	EvSystemNote
)

func (t Type) String() string {
	switch t {
	case EvOrderNew:
		return "order_new"
	case EvOrderUpdate:
		return "order_update"
	case EvFill:
		return "fill"
	case EvPositionOpened:
		return "position_opened"
	case EvPositionMarked:
		return "position_marked"
	case EvPositionClosed:
		return "position_closed"
	case EvFundingCharge:
		return "funding_charge"
	case EvAccountSnapshot:
		return "account_snapshot"
	case EvStrategyNote:
		return "strategy_note"
	case EvSignalRejected:
		return "signal_rejected"
	case EvSignalFailed:
		return "signal_failed"
	case EvSystemNote:
		return "system_note"
	default:
		return "unknown"
	}
}

// Event is the append-only audit envelope. Payload is an event-specific
// struct; the sink owns serialization.
type Event struct {
	RunID   string    `json:"run_id"`
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Sink is the write-only audit log the engine appends to.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Rejection is the payload of a signal_rejected event.
type Rejection struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Note is the payload of strategy_note and system_note events.
type Note struct {
	Text string `json:"text"`
}

// NopSink discards everything. Used when no audit log is configured.
type NopSink struct{}

func (NopSink) Append(context.Context, Event) error { return nil }
