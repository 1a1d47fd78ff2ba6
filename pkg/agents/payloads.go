// Package agents implements the four workers of the trading team: the
// signal producer, the executor, the risk guardian and the optimizer. They
// coordinate exclusively through the message bus and the shared state store.
package agents

import (
	"tradeteam/pkg/exchange"
)

// Worker identifiers used as bus addresses.
const (
	WorkerSignalProducer = "signal_producer"
	WorkerExecutor       = "executor"
	WorkerRiskGuardian   = "risk_guardian"
	WorkerOptimizer      = "optimizer"
)

// SignalPayload is broadcast by the signal producer when the decision is not
// hold. DryRun is set while the shadow capital pool is active.
type SignalPayload struct {
	Action     string
	Confidence float64
	Reason     string
	Source     string
	Price      float64
	DryRun     bool
}

// TradeRequestPayload is sent by the executor to the risk guardian for
// approval.
type TradeRequestPayload struct {
	RequestID  string
	Action     string
	Side       exchange.Side
	ReduceOnly bool
	Size       float64
	Price      float64
	Leverage   float64
	Confidence float64
	Reason     string
	DryRun     bool
}

// TradeResultPayload is broadcast by the executor after a fill.
type TradeResultPayload struct {
	RequestID string
	OrderID   string
	Action    string
	Side      exchange.Side
	Size      float64
	AvgPrice  float64
	PnL       float64
	DryRun    bool
}

// ApprovalPayload answers a requiresApproval message positively.
type ApprovalPayload struct {
	RequestID string
	Reason    string
}

// RejectionPayload answers a requiresApproval message negatively.
type RejectionPayload struct {
	RequestID string
	Reason    string
}

// ParamChangePayload proposes strategy parameter changes for approval.
type ParamChangePayload struct {
	RequestID string
	Changes   map[string]float64
	Reason    string
}

// CodeChangePayload asks the guardian to review a change already proposed to
// the change manager under ChangeID.
type CodeChangePayload struct {
	RequestID string
	ChangeID  string
	Target    string
	Reason    string
}

// EmergencyPayload is broadcast when the circuit breaker trips fully.
type EmergencyPayload struct {
	Reason      string
	DrawdownPct float64
}

// StatusEventPayload carries operational notifications between workers.
type StatusEventPayload struct {
	Event  string
	Reason string
}

// EventEntryBlocked notifies the optimizer that entries were just blocked.
const EventEntryBlocked = "entry_blocked"
