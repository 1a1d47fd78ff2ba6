package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/advisor"
	"tradeteam/pkg/bus"
	"tradeteam/pkg/changemgr"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/journal"
	"tradeteam/pkg/state"
)

// GuardianConfig carries the hard limits the guardian enforces.
type GuardianConfig struct {
	Interval    time.Duration
	ReceiveWait time.Duration

	WarnDrawdown  float64 // log only
	BlockDrawdown float64 // block new entries, notify optimizer
	StopDrawdown  float64 // flatten everything and halt

	MinSignalConfidence float64
	MaxPositionRatio    float64 // max margin as a fraction of equity
}

// RiskGuardian owns the drawdown circuit breaker and reviews every
// requiresApproval message. It is the only worker exempt from the
// emergency-stop skip, since it alone clears the flag.
type RiskGuardian struct {
	cfg     GuardianConfig
	b       *bus.Bus
	store   *state.Store
	client  exchange.Client
	adv     advisor.Advisor
	changes *changemgr.Manager
	journal *journal.Writer
}

// NewRiskGuardian wires the guardian and subscribes it to approval traffic.
func NewRiskGuardian(cfg GuardianConfig, b *bus.Bus, store *state.Store, client exchange.Client, adv advisor.Advisor, changes *changemgr.Manager, jw *journal.Writer) *RiskGuardian {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = time.Second
	}
	if cfg.WarnDrawdown <= 0 {
		cfg.WarnDrawdown = 0.05
	}
	if cfg.BlockDrawdown <= 0 {
		cfg.BlockDrawdown = 0.10
	}
	if cfg.StopDrawdown <= 0 {
		cfg.StopDrawdown = 0.15
	}
	if cfg.MinSignalConfidence <= 0 {
		cfg.MinSignalConfidence = 0.7
	}
	if cfg.MaxPositionRatio <= 0 {
		cfg.MaxPositionRatio = 0.95
	}
	b.Subscribe(WorkerRiskGuardian, bus.TypeTradeRequest, bus.TypeParamChange, bus.TypeCodeChange)
	return &RiskGuardian{cfg: cfg, b: b, store: store, client: client, adv: adv, changes: changes, journal: jw}
}

// Name implements worker.Worker.
func (g *RiskGuardian) Name() string { return WorkerRiskGuardian }

// Interval implements worker.Worker.
func (g *RiskGuardian) Interval() time.Duration { return g.cfg.Interval }

// RunCycle implements worker.Worker.
func (g *RiskGuardian) RunCycle(ctx context.Context) error {
	if _, err := g.store.RefreshBalance(ctx); err != nil {
		return fmt.Errorf("agents: risk guardian: %w", err)
	}
	if _, err := g.store.RefreshPositions(ctx); err != nil {
		return fmt.Errorf("agents: risk guardian: %w", err)
	}

	if err := g.evaluateBreaker(ctx); err != nil {
		return err
	}

	for _, msg := range g.b.Receive(WorkerRiskGuardian, g.cfg.ReceiveWait) {
		switch msg.Type {
		case bus.TypeTradeRequest:
			if p, ok := msg.Payload.(TradeRequestPayload); ok {
				g.handleTradeRequest(ctx, msg.From, p)
			}
		case bus.TypeParamChange:
			if p, ok := msg.Payload.(ParamChangePayload); ok {
				g.handleParamChange(msg.From, p)
			}
		case bus.TypeCodeChange:
			if p, ok := msg.Payload.(CodeChangePayload); ok {
				g.handleCodeChange(ctx, msg.From, p)
			}
		}
	}
	return nil
}

// evaluateBreaker runs the three-threshold drawdown state machine.
func (g *RiskGuardian) evaluateBreaker(ctx context.Context) error {
	dd := g.store.GetDrawdownPct()

	if g.store.IsEmergencyStopped() {
		if dd < g.cfg.BlockDrawdown {
			g.store.ClearEmergencyStop()
			g.store.SetEntryBlocked(false, "")
			logx.Infof("[%s] drawdown recovered to %.2f%%, resuming trading", WorkerRiskGuardian, dd*100)
		}
		return nil
	}

	switch {
	case dd >= g.cfg.StopDrawdown:
		reason := fmt.Sprintf("drawdown %.2f%% breached emergency threshold %.0f%%", dd*100, g.cfg.StopDrawdown*100)
		g.store.SetEmergencyStop(reason)
		if err := g.client.CloseAllPositions(ctx); err != nil {
			logx.Errorf("[%s] flatten positions: %v", WorkerRiskGuardian, err)
		}
		if err := g.b.Publish(bus.Message{
			Type:    bus.TypeEmergencyStop,
			From:    WorkerRiskGuardian,
			Payload: EmergencyPayload{Reason: reason, DrawdownPct: dd},
		}); err != nil {
			logx.Errorf("[%s] publish emergency stop: %v", WorkerRiskGuardian, err)
		}
		g.writeJournal(&journal.Entry{Worker: WorkerRiskGuardian, Event: "emergency_stop", Error: reason})

	case dd >= g.cfg.BlockDrawdown:
		if !g.store.IsEntryBlocked() {
			reason := fmt.Sprintf("drawdown %.2f%% breached entry-block threshold %.0f%%", dd*100, g.cfg.BlockDrawdown*100)
			g.store.SetEntryBlocked(true, reason)
			if err := g.b.Publish(bus.Message{
				Type:    bus.TypeStatus,
				From:    WorkerRiskGuardian,
				To:      WorkerOptimizer,
				Payload: StatusEventPayload{Event: EventEntryBlocked, Reason: reason},
			}); err != nil {
				logx.Errorf("[%s] notify optimizer: %v", WorkerRiskGuardian, err)
			}
		}

	default:
		// Any drawdown below the block threshold lifts the entry block,
		// warning band included.
		if g.store.IsEntryBlocked() {
			g.store.SetEntryBlocked(false, "")
			logx.Infof("[%s] drawdown recovered to %.2f%%, entries allowed again", WorkerRiskGuardian, dd*100)
		}
		if dd >= g.cfg.WarnDrawdown {
			logx.Infof("[%s] drawdown warning: %.2f%%", WorkerRiskGuardian, dd*100)
		}
	}
	return nil
}

// handleTradeRequest validates a trade request against the hard limits.
// Close requests skip the confidence, position-ratio and advisory checks so
// that exposure can always be reduced; they stay approvable while entries
// are blocked, but nothing is approved during a full emergency stop.
func (g *RiskGuardian) handleTradeRequest(ctx context.Context, from string, p TradeRequestPayload) {
	if g.store.IsEmergencyStopped() {
		g.reject(from, p.RequestID, "emergency stop active, all trading halted")
		return
	}

	if !p.ReduceOnly {
		if g.store.IsEntryBlocked() {
			g.reject(from, p.RequestID, "new entries are blocked")
			return
		}
		if p.Confidence < g.cfg.MinSignalConfidence {
			g.reject(from, p.RequestID, fmt.Sprintf("confidence %.2f below required floor %.2f", p.Confidence, g.cfg.MinSignalConfidence))
			return
		}
		equity := g.store.CurrentEquity()
		if p.Leverage > 0 && equity > 0 {
			margin := p.Size * p.Price / p.Leverage
			if margin > equity*g.cfg.MaxPositionRatio {
				g.reject(from, p.RequestID, fmt.Sprintf("margin %.2f exceeds %.0f%% of equity %.2f", margin, g.cfg.MaxPositionRatio*100, equity))
				return
			}
		}
		if g.adv != nil && g.adv.IsAvailable(ctx) && !p.DryRun {
			v, err := g.adv.EvaluateTradeRequest(ctx, advisor.TradeContext{
				Action:       p.Action,
				Size:         p.Size,
				Confidence:   p.Confidence,
				Reason:       p.Reason,
				Equity:       equity,
				DrawdownPct:  g.store.GetDrawdownPct(),
				EntryBlocked: g.store.IsEntryBlocked(),
			})
			if err != nil {
				logx.Errorf("[%s] advisory review failed, falling back to rule checks: %v", WorkerRiskGuardian, err)
			} else if !v.Approve {
				g.reject(from, p.RequestID, "advisory rejection: "+v.Reasoning)
				return
			}
		}
	}

	g.approve(from, p.RequestID, "within risk limits")
}

// handleParamChange validates proposed parameters against the bound table
// and applies them on approval.
func (g *RiskGuardian) handleParamChange(from string, p ParamChangePayload) {
	if g.store.IsEmergencyStopped() {
		g.reject(from, p.RequestID, "emergency stop active")
		return
	}
	if len(p.Changes) == 0 {
		g.reject(from, p.RequestID, "empty parameter change")
		return
	}
	if err := g.store.UpdateStrategyParams(p.Changes); err != nil {
		g.reject(from, p.RequestID, err.Error())
		return
	}
	logx.Infof("[%s] parameter change %s applied: %v (%s)", WorkerRiskGuardian, p.RequestID, p.Changes, p.Reason)
	g.approve(from, p.RequestID, "parameters applied")
}

// handleCodeChange reviews a proposed source change. Without a reviewer the
// default is rejection: unreviewed code never reaches a live system.
func (g *RiskGuardian) handleCodeChange(ctx context.Context, from string, p CodeChangePayload) {
	if g.changes == nil {
		g.reject(from, p.RequestID, "change manager not configured")
		return
	}
	req, ok := g.changes.Request(p.ChangeID)
	if !ok {
		g.reject(from, p.RequestID, "unknown change id "+p.ChangeID)
		return
	}

	if g.adv == nil || !g.adv.IsAvailable(ctx) {
		_ = g.changes.Rollback(p.ChangeID)
		g.reject(from, p.RequestID, "no reviewer available, code changes are rejected by default")
		return
	}

	v, err := g.adv.ReviewCodeChange(ctx, advisor.CodeChangeContext{
		TargetPath:      req.TargetPath,
		Reason:          req.Reason,
		OriginalContent: req.OriginalContent,
		ProposedContent: req.ProposedContent,
	})
	if err != nil {
		_ = g.changes.Rollback(p.ChangeID)
		g.reject(from, p.RequestID, fmt.Sprintf("review failed: %v", err))
		return
	}
	if !v.Approve {
		_ = g.changes.Rollback(p.ChangeID)
		g.reject(from, p.RequestID, "review rejection: "+v.Reasoning)
		return
	}
	if err := g.changes.Apply(p.ChangeID); err != nil {
		g.reject(from, p.RequestID, fmt.Sprintf("apply failed: %v", err))
		return
	}
	g.approve(from, p.RequestID, "change applied: "+v.Reasoning)
}

func (g *RiskGuardian) approve(to, requestID, reason string) {
	if err := g.b.Publish(bus.Message{
		Type:    bus.TypeApproval,
		From:    WorkerRiskGuardian,
		To:      to,
		Payload: ApprovalPayload{RequestID: requestID, Reason: reason},
	}); err != nil {
		logx.Errorf("[%s] publish approval: %v", WorkerRiskGuardian, err)
	}
}

func (g *RiskGuardian) reject(to, requestID, reason string) {
	logx.Infof("[%s] rejecting %s: %s", WorkerRiskGuardian, requestID, reason)
	if err := g.b.Publish(bus.Message{
		Type:    bus.TypeRejection,
		From:    WorkerRiskGuardian,
		To:      to,
		Payload: RejectionPayload{RequestID: requestID, Reason: reason},
	}); err != nil {
		logx.Errorf("[%s] publish rejection: %v", WorkerRiskGuardian, err)
	}
	g.writeJournal(&journal.Entry{Worker: WorkerRiskGuardian, Event: "rejection", RequestID: requestID, Error: reason})
}

func (g *RiskGuardian) writeJournal(rec *journal.Entry) {
	if g.journal == nil {
		return
	}
	if _, err := g.journal.Write(rec); err != nil {
		logx.Errorf("[%s] journal write: %v", WorkerRiskGuardian, err)
	}
}
