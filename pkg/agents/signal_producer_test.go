package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeteam/pkg/bus"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/strategy"
)

func trendingCandles(n int, start, step float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	px := start
	for i := range out {
		out[i] = exchange.Candle{Open: px, High: px * 1.001, Low: px * 0.999, Close: px}
		px += step
	}
	return out
}

func newProducerHarness(t *testing.T, candles []exchange.Candle) (*SignalProducer, *bus.Bus, *stubClient) {
	t.Helper()
	client := &stubClient{price: 50000, equity: 1000, candles: candles}
	st := newTestState(client, 1000)
	b := bus.New()
	engine := strategy.NewEngine(1000, 0.20, 0.30)
	p := NewSignalProducer(SignalProducerConfig{Interval: time.Millisecond, ReceiveWait: shortWait, CandleLimit: len(candles)}, b, st, client, engine, nil)
	b.Subscribe("observer", bus.TypeSignal)
	return p, b, client
}

func observerSignals(b *bus.Bus) []SignalPayload {
	var out []SignalPayload
	for _, msg := range b.Receive("observer", shortWait) {
		if p, ok := msg.Payload.(SignalPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestSignalProducerHoldsOnFlatMarket(t *testing.T) {
	p, b, _ := newProducerHarness(t, trendingCandles(250, 50000, 0))
	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, observerSignals(b), "flat market produces no signal")
}

func TestSignalProducerTrailingStopEmitsClose(t *testing.T) {
	p, b, client := newProducerHarness(t, trendingCandles(250, 50000, 10))
	require.NoError(t, p.engine.Opened(exchange.PositionLong, 50000, 0.1))
	p.engine.Track(56000)

	// 10% trailing stop off the 56000 peak sits at 50400.
	client.set(func(c *stubClient) { c.price = 50000 })
	require.NoError(t, p.RunCycle(context.Background()))

	got := observerSignals(b)
	require.Len(t, got, 1)
	assert.Equal(t, strategy.ActionSell, got[0].Action)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-9)
	assert.Contains(t, got[0].Reason, "trailing stop")
}

func TestSignalProducerReplaysFillsIntoEngine(t *testing.T) {
	p, b, _ := newProducerHarness(t, trendingCandles(250, 50000, 0))

	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeTradeResult, From: WorkerExecutor,
		Payload: TradeResultPayload{Action: strategy.ActionBuy, AvgPrice: 50000, Size: 0.1},
	}))
	require.NoError(t, p.RunCycle(context.Background()))
	require.True(t, p.engine.HasPosition())
	assert.Equal(t, exchange.PositionLong, p.engine.Direction())

	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeTradeResult, From: WorkerExecutor,
		Payload: TradeResultPayload{Action: strategy.ActionSell, AvgPrice: 51000, Size: 0.1},
	}))
	require.NoError(t, p.RunCycle(context.Background()))
	assert.False(t, p.engine.HasPosition())
	assert.Greater(t, p.engine.Pool().ActiveBalance(), 1000.0, "realized gain lands in the active pool")
}

func TestSignalProducerFlattensEngineOnEmergencyStop(t *testing.T) {
	p, b, _ := newProducerHarness(t, trendingCandles(250, 50000, 0))
	require.NoError(t, p.engine.Opened(exchange.PositionLong, 50000, 0.1))

	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeEmergencyStop, From: WorkerRiskGuardian,
		Payload: EmergencyPayload{Reason: "drawdown limit"},
	}))
	require.NoError(t, p.RunCycle(context.Background()))

	assert.False(t, p.engine.HasPosition(), "guardian flatten is mirrored into the engine")
	assert.Less(t, p.engine.Pool().ActiveBalance(), 1000.0, "forced exit books its fees")
}

func TestSignalProducerMarksDryRunInShadowMode(t *testing.T) {
	p, b, client := newProducerHarness(t, trendingCandles(250, 50000, 10))

	// Drive the pool into shadow mode with a realized loss.
	p.engine.Pool().ApplyPnL(-200)
	require.True(t, p.engine.Pool().CheckSwitch())
	require.False(t, p.engine.Pool().IsLive())

	require.NoError(t, p.engine.Opened(exchange.PositionLong, 50000, 0.1))
	p.engine.Track(56000)
	client.set(func(c *stubClient) { c.price = 50000 })
	require.NoError(t, p.RunCycle(context.Background()))

	got := observerSignals(b)
	require.Len(t, got, 1)
	assert.True(t, got[0].DryRun, "shadow-mode signals are paper only")
}
