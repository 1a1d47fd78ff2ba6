package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeteam/pkg/advisor"
	"tradeteam/pkg/bus"
	"tradeteam/pkg/exchange"
	"tradeteam/pkg/strategy"
)

func newGuardianHarness(t *testing.T) (*RiskGuardian, *bus.Bus, *stubClient) {
	t.Helper()
	client := &stubClient{price: 50000, equity: 1000}
	st := newTestState(client, 1000)
	b := bus.New()
	g := NewRiskGuardian(GuardianConfig{Interval: time.Millisecond, ReceiveWait: shortWait}, b, st, client, nil, nil, nil)
	b.Subscribe(WorkerExecutor, bus.TypeApproval, bus.TypeRejection, bus.TypeEmergencyStop)
	b.Subscribe(WorkerOptimizer, bus.TypeStatus)
	return g, b, client
}

type decision struct {
	approved bool
	reason   string
}

func executorInbox(b *bus.Bus) map[string]decision {
	out := make(map[string]decision)
	for _, msg := range b.Receive(WorkerExecutor, shortWait) {
		switch p := msg.Payload.(type) {
		case ApprovalPayload:
			out[p.RequestID] = decision{approved: true, reason: p.Reason}
		case RejectionPayload:
			out[p.RequestID] = decision{approved: false, reason: p.Reason}
		}
	}
	return out
}

func sendTradeRequest(t *testing.T, b *bus.Bus, p TradeRequestPayload) {
	t.Helper()
	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeTradeRequest, From: WorkerExecutor, To: WorkerRiskGuardian,
		Payload: p, RequiresApproval: true,
	}))
}

func TestGuardianConfidenceFloor(t *testing.T) {
	g, b, _ := newGuardianHarness(t)
	ctx := context.Background()

	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "req1", Action: strategy.ActionBuy, Side: exchange.SideBuy,
		Size: 0.01, Price: 50000, Leverage: 10, Confidence: 0.65,
	})
	require.NoError(t, g.RunCycle(ctx))
	decisions := executorInbox(b)
	require.Contains(t, decisions, "req1")
	assert.False(t, decisions["req1"].approved)
	assert.Contains(t, decisions["req1"].reason, "0.65")
	assert.Contains(t, decisions["req1"].reason, "0.70")

	// Identical request above the floor is approved.
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "req2", Action: strategy.ActionBuy, Side: exchange.SideBuy,
		Size: 0.01, Price: 50000, Leverage: 10, Confidence: 0.75,
	})
	require.NoError(t, g.RunCycle(ctx))
	decisions = executorInbox(b)
	require.Contains(t, decisions, "req2")
	assert.True(t, decisions["req2"].approved)
}

func TestGuardianPositionRatioLimit(t *testing.T) {
	g, b, _ := newGuardianHarness(t)

	// margin = size*price/leverage = 0.2*50000/10 = 1000, above 95% of
	// equity 1000.
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "big", Action: strategy.ActionBuy, Side: exchange.SideBuy,
		Size: 0.2, Price: 50000, Leverage: 10, Confidence: 0.9,
	})
	require.NoError(t, g.RunCycle(context.Background()))
	decisions := executorInbox(b)
	require.Contains(t, decisions, "big")
	assert.False(t, decisions["big"].approved)
	assert.Contains(t, decisions["big"].reason, "margin")
}

func TestGuardianBlocksEntriesAtTenPercentAndNotifiesOptimizer(t *testing.T) {
	g, b, client := newGuardianHarness(t)
	ctx := context.Background()

	require.NoError(t, g.RunCycle(ctx)) // peak at 1000
	client.set(func(c *stubClient) { c.equity = 890 })
	require.NoError(t, g.RunCycle(ctx))

	assert.True(t, g.store.IsEntryBlocked())
	assert.False(t, g.store.IsEmergencyStopped())

	var events []StatusEventPayload
	for _, msg := range b.Receive(WorkerOptimizer, shortWait) {
		if p, ok := msg.Payload.(StatusEventPayload); ok {
			events = append(events, p)
		}
	}
	require.Len(t, events, 1)
	assert.Equal(t, EventEntryBlocked, events[0].Event)

	// A close request is still approvable while entries are blocked.
	client.set(func(c *stubClient) {
		c.positions = []exchange.Position{{Instrument: "BTC-USDT-SWAP", Side: exchange.PositionLong, Size: 0.1, EntryPrice: 50000}}
	})
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "close1", Action: strategy.ActionSell, Side: exchange.SideSell,
		ReduceOnly: true, Size: 0.1, Price: 44500, Confidence: 0.2,
	})
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "open1", Action: strategy.ActionBuy, Side: exchange.SideBuy,
		Size: 0.01, Price: 44500, Leverage: 10, Confidence: 0.9,
	})
	require.NoError(t, g.RunCycle(ctx))
	decisions := executorInbox(b)
	assert.True(t, decisions["close1"].approved, "closes skip confidence and ratio checks")
	assert.False(t, decisions["open1"].approved)
}

func TestGuardianEmergencyStopAtFifteenPercent(t *testing.T) {
	g, b, client := newGuardianHarness(t)
	ctx := context.Background()

	require.NoError(t, g.RunCycle(ctx))
	client.set(func(c *stubClient) { c.equity = 840 })
	require.NoError(t, g.RunCycle(ctx))

	assert.True(t, g.store.IsEmergencyStopped())
	client.mu.Lock()
	assert.True(t, client.flattened, "all positions flattened on emergency stop")
	client.mu.Unlock()

	var emergencies []EmergencyPayload
	for _, msg := range b.Receive(WorkerExecutor, shortWait) {
		if p, ok := msg.Payload.(EmergencyPayload); ok {
			emergencies = append(emergencies, p)
		}
	}
	require.Len(t, emergencies, 1)

	// Nothing is approvable while fully stopped, closes included.
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "close2", Action: strategy.ActionSell, Side: exchange.SideSell,
		ReduceOnly: true, Size: 0.1, Price: 42000, Confidence: 0.9,
	})
	require.NoError(t, g.RunCycle(ctx))
	decisions := executorInbox(b)
	require.Contains(t, decisions, "close2")
	assert.False(t, decisions["close2"].approved)
}

func TestGuardianRecoveryClearsFlags(t *testing.T) {
	g, _, client := newGuardianHarness(t)
	ctx := context.Background()

	require.NoError(t, g.RunCycle(ctx))
	client.set(func(c *stubClient) { c.equity = 840 })
	require.NoError(t, g.RunCycle(ctx))
	require.True(t, g.store.IsEmergencyStopped())

	// Recovery below the block threshold clears both flags.
	client.set(func(c *stubClient) { c.equity = 950 })
	require.NoError(t, g.RunCycle(ctx))
	assert.False(t, g.store.IsEmergencyStopped())
	assert.False(t, g.store.IsEntryBlocked())
}

func TestGuardianEntryBlockRecovery(t *testing.T) {
	g, _, client := newGuardianHarness(t)
	ctx := context.Background()

	require.NoError(t, g.RunCycle(ctx))
	client.set(func(c *stubClient) { c.equity = 890 })
	require.NoError(t, g.RunCycle(ctx))
	require.True(t, g.store.IsEntryBlocked())

	// Recovery into the warning band (7%) already lifts the block; the
	// block is tied to the 10% threshold, not the 5% warning.
	client.set(func(c *stubClient) { c.equity = 930 })
	require.NoError(t, g.RunCycle(ctx))
	assert.False(t, g.store.IsEntryBlocked())

	client.set(func(c *stubClient) { c.equity = 890 })
	require.NoError(t, g.RunCycle(ctx))
	require.True(t, g.store.IsEntryBlocked())

	client.set(func(c *stubClient) { c.equity = 980 })
	require.NoError(t, g.RunCycle(ctx))
	assert.False(t, g.store.IsEntryBlocked())
}

func TestGuardianBreakerThresholdBoundaries(t *testing.T) {
	g, _, client := newGuardianHarness(t)
	ctx := context.Background()

	require.NoError(t, g.RunCycle(ctx)) // peak at 1000

	// Exactly 10% drawdown blocks entries without stopping.
	client.set(func(c *stubClient) { c.equity = 900 })
	require.NoError(t, g.RunCycle(ctx))
	assert.True(t, g.store.IsEntryBlocked())
	assert.False(t, g.store.IsEmergencyStopped())

	// 14.5% is still only a block.
	client.set(func(c *stubClient) { c.equity = 855 })
	require.NoError(t, g.RunCycle(ctx))
	assert.True(t, g.store.IsEntryBlocked())
	assert.False(t, g.store.IsEmergencyStopped())

	// Exactly 15% trips the emergency stop.
	client.set(func(c *stubClient) { c.equity = 850 })
	require.NoError(t, g.RunCycle(ctx))
	assert.True(t, g.store.IsEmergencyStopped())
}

func TestGuardianApprovesDefaultSizedEntry(t *testing.T) {
	g, b, _ := newGuardianHarness(t)

	// The executor's default sizing: equity × capital_use × leverage / price,
	// i.e. margin = 0.80 × equity, which must clear the default ratio cap.
	size := 1000 * 0.80 * 10 / 50000.0
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "std", Action: strategy.ActionBuy, Side: exchange.SideBuy,
		Size: size, Price: 50000, Leverage: 10, Confidence: 0.85,
	})
	require.NoError(t, g.RunCycle(context.Background()))
	decisions := executorInbox(b)
	require.Contains(t, decisions, "std")
	assert.True(t, decisions["std"].approved, "default sizing fits inside the default margin cap")
}

// vetoAdvisor rejects every request it is shown.
type vetoAdvisor struct{}

func (vetoAdvisor) Backend() string { return "stub" }

func (vetoAdvisor) IsAvailable(ctx context.Context) bool { return true }

func (vetoAdvisor) AnalyzeMarket(ctx context.Context, mc advisor.MarketContext) (*advisor.SignalVerdict, error) {
	return nil, errors.New("not used")
}

func (vetoAdvisor) EvaluateTradeRequest(ctx context.Context, tc advisor.TradeContext) (*advisor.Verdict, error) {
	return &advisor.Verdict{Approve: false, Reasoning: "too risky"}, nil
}

func (vetoAdvisor) OptimizeStrategy(ctx context.Context, pc advisor.PerformanceContext) (*advisor.ParamProposal, error) {
	return nil, errors.New("not used")
}

func (vetoAdvisor) ReviewCodeChange(ctx context.Context, cc advisor.CodeChangeContext) (*advisor.Verdict, error) {
	return &advisor.Verdict{Approve: false, Reasoning: "too risky"}, nil
}

func TestGuardianAdvisoryVetoNeverBlocksCloses(t *testing.T) {
	client := &stubClient{price: 50000, equity: 1000,
		positions: []exchange.Position{{Instrument: "BTC-USDT-SWAP", Side: exchange.PositionLong, Size: 0.1, EntryPrice: 50000}}}
	st := newTestState(client, 1000)
	b := bus.New()
	g := NewRiskGuardian(GuardianConfig{Interval: time.Millisecond, ReceiveWait: shortWait}, b, st, client, vetoAdvisor{}, nil, nil)
	b.Subscribe(WorkerExecutor, bus.TypeApproval, bus.TypeRejection)

	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "close", Action: strategy.ActionSell, Side: exchange.SideSell,
		ReduceOnly: true, Size: 0.1, Price: 50000, Confidence: 0.9,
	})
	sendTradeRequest(t, b, TradeRequestPayload{
		RequestID: "open", Action: strategy.ActionBuy, Side: exchange.SideBuy,
		Size: 0.01, Price: 50000, Leverage: 10, Confidence: 0.9,
	})
	require.NoError(t, g.RunCycle(context.Background()))

	decisions := executorInbox(b)
	require.Contains(t, decisions, "close")
	assert.True(t, decisions["close"].approved, "closes are exempt from advisory review")
	require.Contains(t, decisions, "open")
	assert.False(t, decisions["open"].approved)
	assert.Contains(t, decisions["open"].reason, "advisory rejection")
}

func TestGuardianParamChangeWorkflow(t *testing.T) {
	g, b, _ := newGuardianHarness(t)
	ctx := context.Background()
	b.Subscribe(WorkerOptimizer, bus.TypeStatus, bus.TypeApproval, bus.TypeRejection)

	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeParamChange, From: WorkerOptimizer, To: WorkerRiskGuardian,
		Payload: ParamChangePayload{RequestID: "pc1", Changes: map[string]float64{"leverage": 8}},
	}))
	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeParamChange, From: WorkerOptimizer, To: WorkerRiskGuardian,
		Payload: ParamChangePayload{RequestID: "pc2", Changes: map[string]float64{"leverage": 99}},
	}))
	require.NoError(t, g.RunCycle(ctx))

	decisions := make(map[string]decision)
	for _, msg := range b.Receive(WorkerOptimizer, shortWait) {
		switch p := msg.Payload.(type) {
		case ApprovalPayload:
			decisions[p.RequestID] = decision{approved: true}
		case RejectionPayload:
			decisions[p.RequestID] = decision{approved: false, reason: p.Reason}
		}
	}
	assert.True(t, decisions["pc1"].approved)
	assert.False(t, decisions["pc2"].approved)
	assert.InDelta(t, 8, g.store.StrategyParams()["leverage"], 1e-9, "approved change applied")
}

func TestGuardianCodeChangeRejectedWithoutReviewer(t *testing.T) {
	g, b, _ := newGuardianHarness(t)

	require.NoError(t, b.Publish(bus.Message{
		Type: bus.TypeCodeChange, From: WorkerOptimizer, To: WorkerRiskGuardian,
		Payload: CodeChangePayload{RequestID: "cc1", ChangeID: "nope"},
	}))
	require.NoError(t, g.RunCycle(context.Background()))

	b.Subscribe(WorkerOptimizer, bus.TypeStatus, bus.TypeRejection)
	// The rejection went out before this late subscribe, so check history.
	history := b.History(0, bus.TypeRejection)
	require.NotEmpty(t, history)
	p, ok := history[0].Payload.(RejectionPayload)
	require.True(t, ok)
	assert.Equal(t, "cc1", p.RequestID)
}
