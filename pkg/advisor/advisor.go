// Package advisor provides the team's external judgment service: structured
// market, risk and optimization questions answered by an LLM backend, with
// rule-based fallbacks for when no backend is available.
package advisor

import (
	"fmt"
	"math"
)

// New selects the backend named by the configuration. BackendOff returns
// (nil, nil); callers treat a nil Advisor as "use rule-based fallbacks".
func New(cfg *Config) (Advisor, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Backend {
	case BackendHosted:
		return NewHosted(cfg)
	case BackendCLI:
		return NewCLI(cfg)
	case BackendOff:
		return nil, nil
	default:
		return nil, fmt.Errorf("advisor: unknown backend %q", cfg.Backend)
	}
}

// RuleBasedProposal is the fixed fallback used when no advisory backend can
// be consulted: deep drawdown cuts leverage and capital use, a poor win rate
// tightens the trailing stop. Returns nil when no rule fires.
func RuleBasedProposal(pc PerformanceContext) *ParamProposal {
	changes := make(map[string]float64)

	if pc.DrawdownPct >= 0.07 {
		if lev, ok := pc.CurrentParams["leverage"]; ok {
			changes["leverage"] = math.Max(1, lev-2)
		}
		if cu, ok := pc.CurrentParams["capital_use_ratio"]; ok {
			changes["capital_use_ratio"] = math.Max(0.20, cu-0.10)
		}
	}
	if pc.WinRate < 0.35 {
		if ts, ok := pc.CurrentParams["trailing_stop"]; ok {
			changes["trailing_stop"] = math.Min(0.15, ts+0.02)
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return &ParamProposal{
		Changes:   changes,
		Reasoning: fmt.Sprintf("rule-based adjustment (win_rate=%.2f drawdown=%.2f%%)", pc.WinRate, pc.DrawdownPct*100),
	}
}
