package bus

import "time"

// Message types exchanged between workers.
const (
	TypeSignal        = "SIGNAL"         // signal producer → broadcast trading signal
	TypeTradeRequest  = "TRADE_REQUEST"  // executor → guardian approval request
	TypeTradeResult   = "TRADE_RESULT"   // executor → broadcast execution outcome
	TypeParamChange   = "PARAM_CHANGE"   // optimizer → guardian parameter proposal
	TypeCodeChange    = "CODE_CHANGE"    // optimizer → guardian code-change proposal
	TypeApproval      = "APPROVAL"       // guardian → requester
	TypeRejection     = "REJECTION"      // guardian → requester
	TypeEmergencyStop = "EMERGENCY_STOP" // guardian → broadcast emergency halt
	TypeStatus        = "STATUS"         // status/event notifications
)

// Broadcast is the destination that delivers to every subscriber.
const Broadcast = "all"

// Message is an immutable envelope published through the Bus. Seq is assigned
// by the bus at publish time and is the only total order in the system.
type Message struct {
	Type             string
	From             string
	To               string
	Timestamp        time.Time
	Seq              uint64
	Payload          any
	RequiresApproval bool
}
