package repo

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/agents"
	"tradeteam/pkg/bus"
)

const workerAuditor = "auditor"

// AuditStore is where the auditor writes its rows. *AuditRepo satisfies it.
type AuditStore interface {
	SaveTrade(ctx context.Context, row TradeRow) error
	SaveDecision(ctx context.Context, row DecisionRow) error
}

// Auditor is a passive worker that mirrors bus traffic into the audit
// tables. Trade results are broadcast and arrive through its mailbox;
// approvals and rejections are addressed to the requester only, so those
// are mirrored from the bus history instead.
type Auditor struct {
	interval   time.Duration
	b          *bus.Bus
	store      AuditStore
	instrument string

	lastDecisionSeq uint64
}

// NewAuditor subscribes the auditor to trade-result traffic.
func NewAuditor(interval time.Duration, b *bus.Bus, store AuditStore, instrument string) *Auditor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	b.Subscribe(workerAuditor, bus.TypeTradeResult)
	return &Auditor{interval: interval, b: b, store: store, instrument: instrument}
}

// Name implements worker.Worker.
func (a *Auditor) Name() string { return workerAuditor }

// Interval implements worker.Worker.
func (a *Auditor) Interval() time.Duration { return a.interval }

// RunCycle implements worker.Worker.
func (a *Auditor) RunCycle(ctx context.Context) error {
	for _, msg := range a.b.Receive(workerAuditor, 100*time.Millisecond) {
		p, ok := msg.Payload.(agents.TradeResultPayload)
		if !ok {
			continue
		}
		err := a.store.SaveTrade(ctx, TradeRow{
			RequestID:  p.RequestID,
			Instrument: a.instrument,
			Action:     p.Action,
			Side:       string(p.Side),
			Size:       p.Size,
			AvgPrice:   p.AvgPrice,
			PnL:        p.PnL,
			DryRun:     p.DryRun,
		})
		if err != nil {
			logx.Errorf("[%s] persist trade row: %v", workerAuditor, err)
		}
	}
	a.mirrorDecisions(ctx)
	return nil
}

// mirrorDecisions persists every approval and rejection published since the
// previous cycle. Decisions evicted from the history ring before the first
// sighting are lost, acceptable for a mirror polling every few seconds.
func (a *Auditor) mirrorDecisions(ctx context.Context) {
	maxSeq := a.lastDecisionSeq
	for _, typ := range []string{bus.TypeApproval, bus.TypeRejection} {
		hist := a.b.History(0, typ)
		// History is most-recent-first; replay oldest-first.
		for i := len(hist) - 1; i >= 0; i-- {
			msg := hist[i]
			if msg.Seq <= a.lastDecisionSeq {
				continue
			}
			if msg.Seq > maxSeq {
				maxSeq = msg.Seq
			}
			var err error
			switch p := msg.Payload.(type) {
			case agents.ApprovalPayload:
				err = a.store.SaveDecision(ctx, DecisionRow{RequestID: p.RequestID, Kind: msg.Type, Approved: true, Reason: p.Reason})
			case agents.RejectionPayload:
				err = a.store.SaveDecision(ctx, DecisionRow{RequestID: p.RequestID, Kind: msg.Type, Approved: false, Reason: p.Reason})
			}
			if err != nil {
				logx.Errorf("[%s] persist decision row: %v", workerAuditor, err)
			}
		}
	}
	a.lastDecisionSeq = maxSeq
}
