package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/advisor"
	"tradeteam/pkg/bus"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/state"
	"tradeteam/pkg/strategy"
)

// SignalProducerConfig tunes the signal producer's polling and data window.
type SignalProducerConfig struct {
	Interval    time.Duration
	Bar         string
	CandleLimit int
	ReceiveWait time.Duration
}

// SignalProducer evaluates the strategy engine every cycle and broadcasts a
// signal when the decision is not hold. Fills reported on the bus are
// mirrored into the engine so the capital pools and the trailing stop track
// reality, paper trades included.
type SignalProducer struct {
	cfg    SignalProducerConfig
	b      *bus.Bus
	store  *state.Store
	client exchange.Client
	engine *strategy.Engine
	adv    advisor.Advisor

	holdStreak int
}

// NewSignalProducer wires the producer and subscribes it to fill and
// emergency traffic.
func NewSignalProducer(cfg SignalProducerConfig, b *bus.Bus, store *state.Store, client exchange.Client, engine *strategy.Engine, adv advisor.Advisor) *SignalProducer {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Bar == "" {
		cfg.Bar = "1m"
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 300
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = 50 * time.Millisecond
	}
	b.Subscribe(WorkerSignalProducer, bus.TypeTradeResult, bus.TypeEmergencyStop)
	return &SignalProducer{cfg: cfg, b: b, store: store, client: client, engine: engine, adv: adv}
}

// Name implements worker.Worker.
func (p *SignalProducer) Name() string { return WorkerSignalProducer }

// Interval implements worker.Worker.
func (p *SignalProducer) Interval() time.Duration { return p.cfg.Interval }

// RunCycle implements worker.Worker.
func (p *SignalProducer) RunCycle(ctx context.Context) error {
	params := strategy.ParamsFromMap(p.store.StrategyParams())
	p.absorbFills(params)

	price, err := p.store.RefreshPrice(ctx)
	if err != nil {
		return fmt.Errorf("agents: signal producer: %w", err)
	}
	p.engine.Track(price)

	// The trailing stop preempts the indicator evaluation.
	if p.engine.HasPosition() && p.engine.TrailingStopHit(price, params.TrailingStop) {
		action := strategy.ActionSell
		if p.engine.Direction() == exchange.PositionShort {
			action = strategy.ActionCover
		}
		sig := strategy.Signal{
			Action:     action,
			Confidence: 0.9,
			Reason:     fmt.Sprintf("trailing stop hit: price %.2f vs level %.2f", price, p.engine.Position().StopLevel(params.TrailingStop)),
			Source:     "technical",
			Price:      price,
		}
		return p.broadcast(sig)
	}

	candles, err := p.client.Candles(ctx, p.store.Instrument(), p.cfg.Bar, p.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("agents: signal producer: fetch candles: %w", err)
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	snap, err := strategy.BuildSnapshot(closes, params)
	if err != nil {
		return fmt.Errorf("agents: signal producer: %w", err)
	}

	hasPos := p.store.HasOpenPosition()
	dir := exchange.PositionSide(p.store.PositionDirection())
	technical := strategy.Evaluate(snap, dir, hasPos)
	final := strategy.Blend(technical, p.advisorySignal(ctx, snap, hasPos))

	if final.Action == strategy.ActionHold {
		p.holdStreak++
		if p.holdStreak%5 == 0 {
			logx.Infof("[%s] holding (%d cycles): %s", WorkerSignalProducer, p.holdStreak, final.Reason)
		}
		return nil
	}
	p.holdStreak = 0
	return p.broadcast(final)
}

// absorbFills drains the mailbox, replaying fills into the engine and
// closing out its position when the guardian has flattened everything.
func (p *SignalProducer) absorbFills(params strategy.Params) {
	for _, msg := range p.b.Receive(WorkerSignalProducer, p.cfg.ReceiveWait) {
		switch res := msg.Payload.(type) {
		case TradeResultPayload:
			switch res.Action {
			case strategy.ActionBuy, strategy.ActionShort:
				side := exchange.PositionLong
				if res.Action == strategy.ActionShort {
					side = exchange.PositionShort
				}
				if err := p.engine.Opened(side, res.AvgPrice, res.Size); err != nil {
					logx.Errorf("[%s] fill replay: %v", WorkerSignalProducer, err)
				}
			case strategy.ActionSell, strategy.ActionCover:
				if _, err := p.engine.Closed(res.AvgPrice, params.FeeRate); err != nil {
					logx.Errorf("[%s] fill replay: %v", WorkerSignalProducer, err)
				}
			}
		case EmergencyPayload:
			p.absorbFlatten(res.Reason, params.FeeRate)
		}
	}
}

// absorbFlatten mirrors the guardian's flatten-all into the engine so the
// pool books the forced exit and the trailing stop stops tracking a
// position that no longer exists.
func (p *SignalProducer) absorbFlatten(reason string, feeRate float64) {
	if !p.engine.HasPosition() {
		return
	}
	price := p.store.CurrentPrice()
	if price <= 0 {
		price = p.engine.Position().EntryPrice
	}
	if _, err := p.engine.Closed(price, feeRate); err != nil {
		logx.Errorf("[%s] emergency flatten replay: %v", WorkerSignalProducer, err)
		return
	}
	logx.Infof("[%s] emergency stop (%s), position closed out @ %.2f", WorkerSignalProducer, reason, price)
}

func (p *SignalProducer) advisorySignal(ctx context.Context, snap *strategy.Snapshot, hasPos bool) *strategy.Signal {
	if p.adv == nil || !p.adv.IsAvailable(ctx) {
		return nil
	}
	mc := advisor.MarketContext{
		Instrument:        p.store.Instrument(),
		Price:             snap.Price,
		TrendFastEMA:      snap.TrendFast,
		TrendSlowEMA:      snap.TrendSlow,
		EntryFastEMA:      snap.EntryFast,
		EntrySlowEMA:      snap.EntrySlow,
		PositionDirection: p.store.PositionDirection(),
	}
	v, err := p.adv.AnalyzeMarket(ctx, mc)
	if err != nil {
		logx.Errorf("[%s] advisory analysis failed, using technical only: %v", WorkerSignalProducer, err)
		return nil
	}
	return &strategy.Signal{
		Action:     v.Action,
		Confidence: v.Confidence,
		Reason:     v.Reasoning,
		Source:     "advisory",
		Price:      snap.Price,
	}
}

func (p *SignalProducer) broadcast(sig strategy.Signal) error {
	payload := SignalPayload{
		Action:     sig.Action,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
		Source:     sig.Source,
		Price:      sig.Price,
		DryRun:     !p.engine.Pool().IsLive(),
	}
	logx.Infof("[%s] %s @ %.2f conf=%.2f dry_run=%v: %s", WorkerSignalProducer, sig.Action, sig.Price, sig.Confidence, payload.DryRun, sig.Reason)
	return p.b.Publish(bus.Message{Type: bus.TypeSignal, From: WorkerSignalProducer, Payload: payload})
}
