package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/advisor"
	"tradeteam/pkg/bus"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/indicators"
	"tradeteam/pkg/state"
	"tradeteam/pkg/strategy"
)

// OptimizerConfig tunes when and how often optimization is attempted.
type OptimizerConfig struct {
	Interval      time.Duration // mailbox poll
	OptimizeEvery time.Duration // scheduled full pass
	Cooldown      time.Duration // minimum spacing between attempts
	MinTrades     int
	Bar           string
	CandleLimit   int
	ReceiveWait   time.Duration
}

// Optimizer reviews performance on a slow schedule, or immediately when the
// guardian reports that entries were just blocked, and proposes parameter
// changes through the approval workflow. It polls faster than it optimizes
// so notifications are picked up without waiting out the full schedule.
type Optimizer struct {
	cfg    OptimizerConfig
	b      *bus.Bus
	store  *state.Store
	client exchange.Client
	adv    advisor.Advisor

	lastScheduled time.Time
	lastAttempt   time.Time
	nowFn         func() time.Time
}

// NewOptimizer wires the optimizer and subscribes it to status events.
func NewOptimizer(cfg OptimizerConfig, b *bus.Bus, store *state.Store, client exchange.Client, adv advisor.Advisor) *Optimizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.OptimizeEvery <= 0 {
		cfg.OptimizeEvery = 6 * time.Hour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = 3
	}
	if cfg.Bar == "" {
		cfg.Bar = "15m"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 96
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = 50 * time.Millisecond
	}
	b.Subscribe(WorkerOptimizer, bus.TypeStatus)
	return &Optimizer{
		cfg:           cfg,
		b:             b,
		store:         store,
		client:        client,
		adv:           adv,
		lastScheduled: time.Now(),
		nowFn:         time.Now,
	}
}

// Name implements worker.Worker.
func (o *Optimizer) Name() string { return WorkerOptimizer }

// Interval implements worker.Worker.
func (o *Optimizer) Interval() time.Duration { return o.cfg.Interval }

// RunCycle implements worker.Worker.
func (o *Optimizer) RunCycle(ctx context.Context) error {
	triggered := ""
	for _, msg := range o.b.Receive(WorkerOptimizer, o.cfg.ReceiveWait) {
		if p, ok := msg.Payload.(StatusEventPayload); ok && p.Event == EventEntryBlocked {
			triggered = p.Reason
		}
	}
	if o.nowFn().Sub(o.lastScheduled) >= o.cfg.OptimizeEvery {
		o.lastScheduled = o.nowFn()
		if triggered == "" {
			triggered = "scheduled review"
		}
	}
	if triggered == "" {
		return nil
	}
	return o.optimize(ctx, triggered)
}

func (o *Optimizer) optimize(ctx context.Context, trigger string) error {
	if o.nowFn().Sub(o.lastAttempt) < o.cfg.Cooldown {
		logx.Infof("[%s] within cooldown, skipping (%s)", WorkerOptimizer, trigger)
		return nil
	}

	trades := o.store.TradeHistory(0)
	closed, winRate := closedTradeStats(trades)
	if closed < o.cfg.MinTrades {
		logx.Infof("[%s] only %d closed trades, need %d before optimizing", WorkerOptimizer, closed, o.cfg.MinTrades)
		return nil
	}

	dd := o.store.GetDrawdownPct()
	profit := o.store.CumulativeProfit()
	if winRate >= 0.40 && dd < 0.05 && profit >= 0 {
		logx.Infof("[%s] performance acceptable (win=%.2f dd=%.2f%% pnl=%.2f), no change", WorkerOptimizer, winRate, dd*100, profit)
		return nil
	}
	o.lastAttempt = o.nowFn()

	pc := advisor.PerformanceContext{
		TotalTrades:      closed,
		WinRate:          winRate,
		CumulativeProfit: profit,
		DrawdownPct:      dd,
		Volatility:       o.marketVolatility(ctx),
		CurrentParams:    o.store.StrategyParams(),
		ParamBounds:      boundsTable(o.store.ParamBounds()),
	}

	proposal := o.propose(ctx, pc)
	if proposal == nil || len(proposal.Changes) == 0 {
		logx.Infof("[%s] no parameter changes proposed", WorkerOptimizer)
		return nil
	}

	req := ParamChangePayload{
		RequestID: uuid.NewString()[:8],
		Changes:   proposal.Changes,
		Reason:    fmt.Sprintf("%s (trigger: %s)", proposal.Reasoning, trigger),
	}
	if err := o.b.Publish(bus.Message{
		Type:             bus.TypeParamChange,
		From:             WorkerOptimizer,
		To:               WorkerRiskGuardian,
		Payload:          req,
		RequiresApproval: true,
	}); err != nil {
		return fmt.Errorf("agents: optimizer: publish proposal: %w", err)
	}
	logx.Infof("[%s] proposed %s: %v", WorkerOptimizer, req.RequestID, req.Changes)
	return nil
}

func (o *Optimizer) propose(ctx context.Context, pc advisor.PerformanceContext) *advisor.ParamProposal {
	if o.adv != nil && o.adv.IsAvailable(ctx) {
		proposal, err := o.adv.OptimizeStrategy(ctx, pc)
		if err == nil {
			return proposal
		}
		logx.Errorf("[%s] advisory optimization failed, using rule table: %v", WorkerOptimizer, err)
	}
	return advisor.RuleBasedProposal(pc)
}

func (o *Optimizer) marketVolatility(ctx context.Context) float64 {
	candles, err := o.client.Candles(ctx, o.store.Instrument(), o.cfg.Bar, o.cfg.CandleLimit)
	if err != nil {
		logx.Errorf("[%s] fetch candles for volatility: %v", WorkerOptimizer, err)
		return 0
	}
	klines := make([]indicators.Kline, len(candles))
	for i, c := range candles {
		klines[i] = indicators.Kline{High: c.High, Low: c.Low, Close: c.Close}
	}
	return indicators.RangeVolatility(klines)
}

// closedTradeStats counts closing trades and the share of them that were
// profitable.
func closedTradeStats(trades []state.TradeRecord) (closed int, winRate float64) {
	wins := 0
	for _, tr := range trades {
		if tr.Action != strategy.ActionSell && tr.Action != strategy.ActionCover {
			continue
		}
		closed++
		if tr.PnL > 0 {
			wins++
		}
	}
	if closed == 0 {
		return 0, 0
	}
	return closed, float64(wins) / float64(closed)
}

func boundsTable(b state.BoundsTable) map[string][2]float64 {
	out := make(map[string][2]float64, len(b))
	for k, v := range b {
		out[k] = [2]float64{v.Min, v.Max}
	}
	return out
}
