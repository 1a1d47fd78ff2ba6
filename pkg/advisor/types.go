package advisor

import "context"

// SignalVerdict is the advisory answer to a market analysis request.
type SignalVerdict struct {
	Action     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Verdict is a binary approve/reject answer with reasoning.
type Verdict struct {
	Approve   bool   `json:"approve"`
	Reasoning string `json:"reasoning"`
}

// ParamProposal is a set of strategy parameter changes with reasoning.
type ParamProposal struct {
	Changes   map[string]float64 `json:"changes"`
	Reasoning string             `json:"reasoning"`
}

// MarketContext is the structured snapshot fed to market analysis.
type MarketContext struct {
	Instrument        string  `json:"instrument"`
	Price             float64 `json:"price"`
	TrendFastEMA      float64 `json:"trend_fast_ema"`
	TrendSlowEMA      float64 `json:"trend_slow_ema"`
	EntryFastEMA      float64 `json:"entry_fast_ema"`
	EntrySlowEMA      float64 `json:"entry_slow_ema"`
	PositionDirection string  `json:"position_direction"`
	RecentCloses      []float64 `json:"recent_closes,omitempty"`
}

// TradeContext describes a trade request under risk review.
type TradeContext struct {
	Action       string  `json:"action"`
	Size         float64 `json:"size"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	Equity       float64 `json:"equity"`
	DrawdownPct  float64 `json:"drawdown_pct"`
	EntryBlocked bool    `json:"entry_blocked"`
}

// PerformanceContext summarizes recent results for optimization.
type PerformanceContext struct {
	TotalTrades      int                `json:"total_trades"`
	WinRate          float64            `json:"win_rate"`
	CumulativeProfit float64            `json:"cumulative_profit"`
	DrawdownPct      float64            `json:"drawdown_pct"`
	Volatility       float64            `json:"volatility"`
	CurrentParams    map[string]float64 `json:"current_params"`
	ParamBounds      map[string][2]float64 `json:"param_bounds"`
}

// CodeChangeContext describes a proposed source change under review.
type CodeChangeContext struct {
	TargetPath      string `json:"target_path"`
	Reason          string `json:"reason"`
	OriginalContent string `json:"original_content"`
	ProposedContent string `json:"proposed_content"`
}

// Advisor is a pure judgment function over structured context. Backends are
// interchangeable; callers must tolerate unavailability and fall back to
// rule-based decisions.
type Advisor interface {
	Backend() string
	IsAvailable(ctx context.Context) bool
	AnalyzeMarket(ctx context.Context, mc MarketContext) (*SignalVerdict, error)
	EvaluateTradeRequest(ctx context.Context, tc TradeContext) (*Verdict, error)
	OptimizeStrategy(ctx context.Context, pc PerformanceContext) (*ParamProposal, error)
	ReviewCodeChange(ctx context.Context, cc CodeChangeContext) (*Verdict, error)
}
