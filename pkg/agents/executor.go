package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/bus"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/journal"
	"tradeteam/pkg/state"
	"tradeteam/pkg/strategy"
)

// ExecutorConfig tunes the executor's polling and approval bookkeeping.
type ExecutorConfig struct {
	Interval        time.Duration
	ApprovalTimeout time.Duration
	ReceiveWait     time.Duration
}

type pendingRequest struct {
	payload TradeRequestPayload
	sentAt  time.Time
}

// Executor turns signals into approved orders. Every trade request goes to
// the risk guardian first; the executor only touches the exchange after an
// approval whose id it still remembers.
type Executor struct {
	cfg     ExecutorConfig
	b       *bus.Bus
	store   *state.Store
	client  exchange.Client
	journal *journal.Writer

	pending map[string]pendingRequest
	nowFn   func() time.Time
}

// NewExecutor wires the executor and subscribes it to signal and approval
// traffic.
func NewExecutor(cfg ExecutorConfig, b *bus.Bus, store *state.Store, client exchange.Client, jw *journal.Writer) *Executor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 60 * time.Second
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = time.Second
	}
	b.Subscribe(WorkerExecutor, bus.TypeSignal, bus.TypeApproval, bus.TypeRejection, bus.TypeEmergencyStop)
	return &Executor{
		cfg:     cfg,
		b:       b,
		store:   store,
		client:  client,
		journal: jw,
		pending: make(map[string]pendingRequest),
		nowFn:   time.Now,
	}
}

// Name implements worker.Worker.
func (e *Executor) Name() string { return WorkerExecutor }

// Interval implements worker.Worker.
func (e *Executor) Interval() time.Duration { return e.cfg.Interval }

// RunCycle implements worker.Worker.
func (e *Executor) RunCycle(ctx context.Context) error {
	for _, msg := range e.b.Receive(WorkerExecutor, e.cfg.ReceiveWait) {
		switch msg.Type {
		case bus.TypeSignal:
			if p, ok := msg.Payload.(SignalPayload); ok {
				e.handleSignal(p)
			}
		case bus.TypeApproval:
			if p, ok := msg.Payload.(ApprovalPayload); ok {
				e.handleApproval(ctx, p)
			}
		case bus.TypeRejection:
			if p, ok := msg.Payload.(RejectionPayload); ok {
				e.handleRejection(p)
			}
		case bus.TypeEmergencyStop:
			e.clearPending()
		}
	}
	e.expirePending()
	return nil
}

// PendingCount reports how many trade requests await approval.
func (e *Executor) PendingCount() int { return len(e.pending) }

func (e *Executor) handleSignal(p SignalPayload) {
	hasPos := e.store.HasOpenPosition()
	dir := e.store.PositionDirection()

	var side exchange.Side
	var reduceOnly bool
	switch p.Action {
	case strategy.ActionBuy:
		side = exchange.SideBuy
	case strategy.ActionShort:
		side = exchange.SideSell
	case strategy.ActionSell:
		side, reduceOnly = exchange.SideSell, true
	case strategy.ActionCover:
		side, reduceOnly = exchange.SideBuy, true
	default:
		return
	}

	// Local sanity checks before bothering the guardian.
	if !reduceOnly && hasPos {
		logx.Infof("[%s] ignoring %s signal, position already open (%s)", WorkerExecutor, p.Action, dir)
		return
	}
	if reduceOnly {
		want := "long"
		if p.Action == strategy.ActionCover {
			want = "short"
		}
		if !hasPos || dir != want {
			logx.Infof("[%s] ignoring %s signal, no %s position to close", WorkerExecutor, p.Action, want)
			return
		}
	}

	price := p.Price
	if price <= 0 {
		price = e.store.CurrentPrice()
	}
	if price <= 0 {
		logx.Errorf("[%s] no price available for %s signal", WorkerExecutor, p.Action)
		return
	}

	params := strategy.ParamsFromMap(e.store.StrategyParams())
	var size float64
	if reduceOnly {
		if positions := e.store.Positions(); len(positions) > 0 {
			size = positions[0].Size
		}
	} else {
		size = e.store.CurrentEquity() * params.CapitalUse * params.Leverage / price
	}
	if size <= 0 {
		return
	}

	req := TradeRequestPayload{
		RequestID:  uuid.NewString()[:8],
		Action:     p.Action,
		Side:       side,
		ReduceOnly: reduceOnly,
		Size:       size,
		Price:      price,
		Leverage:   params.Leverage,
		Confidence: p.Confidence,
		Reason:     p.Reason,
		DryRun:     p.DryRun,
	}
	if err := e.b.Publish(bus.Message{
		Type:             bus.TypeTradeRequest,
		From:             WorkerExecutor,
		To:               WorkerRiskGuardian,
		Payload:          req,
		RequiresApproval: true,
	}); err != nil {
		logx.Errorf("[%s] publish trade request: %v", WorkerExecutor, err)
		return
	}
	e.pending[req.RequestID] = pendingRequest{payload: req, sentAt: e.nowFn()}
	logx.Infof("[%s] trade request %s: %s %.6f @ %.2f", WorkerExecutor, req.RequestID, req.Action, req.Size, req.Price)
}

func (e *Executor) handleApproval(ctx context.Context, ap ApprovalPayload) {
	pend, ok := e.pending[ap.RequestID]
	if !ok {
		logx.Infof("[%s] approval for unknown request %s, ignoring", WorkerExecutor, ap.RequestID)
		return
	}
	delete(e.pending, ap.RequestID)

	req := pend.payload
	result, err := e.execute(ctx, req)
	if err != nil {
		logx.Errorf("[%s] execution of %s failed: %v", WorkerExecutor, req.RequestID, err)
		e.writeJournal(&journal.Entry{
			Worker: WorkerExecutor, Event: "trade_failed", RequestID: req.RequestID,
			Action: req.Action, Size: req.Size, Price: req.Price, Error: err.Error(),
		})
		return
	}

	e.store.RecordTrade(state.TradeRecord{
		Action:  req.Action,
		Side:    req.Side,
		Size:    result.Size,
		OrderID: result.OrderID,
		PnL:     result.PnL,
		DryRun:  result.DryRun,
	})
	if err := e.b.Publish(bus.Message{Type: bus.TypeTradeResult, From: WorkerExecutor, Payload: *result}); err != nil {
		logx.Errorf("[%s] publish trade result: %v", WorkerExecutor, err)
	}
	e.writeJournal(&journal.Entry{
		Worker: WorkerExecutor, Event: "trade_result", RequestID: req.RequestID,
		Action: req.Action, Size: result.Size, Price: result.AvgPrice, PnL: result.PnL, DryRun: result.DryRun,
	})
}

func (e *Executor) execute(ctx context.Context, req TradeRequestPayload) (*TradeResultPayload, error) {
	if req.DryRun {
		price := e.store.CurrentPrice()
		if price <= 0 {
			price = req.Price
		}
		return &TradeResultPayload{
			RequestID: req.RequestID,
			OrderID:   "dry_" + req.RequestID,
			Action:    req.Action,
			Side:      req.Side,
			Size:      req.Size,
			AvgPrice:  price,
			DryRun:    true,
		}, nil
	}

	var entry float64
	var posSide exchange.PositionSide
	if req.ReduceOnly {
		if positions := e.store.Positions(); len(positions) > 0 {
			entry = positions[0].EntryPrice
			posSide = positions[0].Side
		}
	}

	res, err := e.client.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Instrument: e.store.Instrument(),
		Side:       req.Side,
		Size:       req.Size,
		Leverage:   int(req.Leverage),
		ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("agents: place order: %w", err)
	}

	var pnl float64
	if req.ReduceOnly && entry > 0 {
		if posSide == exchange.PositionShort {
			pnl = (entry - res.AvgPrice) * res.Size
		} else {
			pnl = (res.AvgPrice - entry) * res.Size
		}
	}
	return &TradeResultPayload{
		RequestID: req.RequestID,
		OrderID:   res.OrderID,
		Action:    req.Action,
		Side:      req.Side,
		Size:      res.Size,
		AvgPrice:  res.AvgPrice,
		PnL:       pnl,
	}, nil
}

func (e *Executor) handleRejection(rej RejectionPayload) {
	if _, ok := e.pending[rej.RequestID]; !ok {
		return
	}
	delete(e.pending, rej.RequestID)
	logx.Infof("[%s] request %s rejected: %s", WorkerExecutor, rej.RequestID, rej.Reason)
	e.writeJournal(&journal.Entry{Worker: WorkerExecutor, Event: "trade_rejected", RequestID: rej.RequestID, Error: rej.Reason})
}

func (e *Executor) clearPending() {
	if len(e.pending) == 0 {
		return
	}
	logx.Infof("[%s] emergency stop, discarding %d pending request(s)", WorkerExecutor, len(e.pending))
	e.pending = make(map[string]pendingRequest)
}

func (e *Executor) expirePending() {
	for id, pend := range e.pending {
		if e.nowFn().Sub(pend.sentAt) > e.cfg.ApprovalTimeout {
			delete(e.pending, id)
			logx.Infof("[%s] request %s expired without approval", WorkerExecutor, id)
		}
	}
}

func (e *Executor) writeJournal(rec *journal.Entry) {
	if e.journal == nil {
		return
	}
	if _, err := e.journal.Write(rec); err != nil {
		logx.Errorf("[%s] journal write: %v", WorkerExecutor, err)
	}
}
