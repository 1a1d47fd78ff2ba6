package strategy

import (
	"fmt"
	"math"

	"tradeteam/pkg/exchange"
	"tradeteam/pkg/indicators"
)

// Trade actions carried on signal and trade-request messages.
const (
	ActionBuy   = "BUY"   // open long
	ActionSell  = "SELL"  // close long
	ActionShort = "SHORT" // open short
	ActionCover = "COVER" // close short
	ActionHold  = "HOLD"
)

// Signal is one trading decision with its confidence and provenance.
type Signal struct {
	Action     string
	Confidence float64
	Reason     string
	Source     string
	Price      float64
}

// IsClose reports whether the action reduces an existing position.
func (s Signal) IsClose() bool {
	return s.Action == ActionSell || s.Action == ActionCover
}

// IsOpen reports whether the action opens a new position.
func (s Signal) IsOpen() bool {
	return s.Action == ActionBuy || s.Action == ActionShort
}

// Params are the tunable inputs of the strategy engine, hydrated from the
// shared parameter map so optimizer-approved changes take effect on the next
// evaluation.
type Params struct {
	TrendFast int
	TrendSlow int
	EntryFast int
	EntrySlow int
	ExitFast  int
	ExitSlow  int

	TrailingStop float64
	Leverage     float64
	CapitalUse   float64
	FeeRate      float64
}

// DefaultParams returns the parameter set the team starts with.
func DefaultParams() Params {
	return Params{
		TrendFast:    150,
		TrendSlow:    200,
		EntryFast:    20,
		EntrySlow:    50,
		ExitFast:     20,
		ExitSlow:     100,
		TrailingStop: 0.10,
		Leverage:     10,
		CapitalUse:   0.80,
		FeeRate:      0.0005,
	}
}

// ParamsFromMap overlays shared-state values onto the defaults. Unknown keys
// are ignored; missing keys keep their defaults.
func ParamsFromMap(m map[string]float64) Params {
	p := DefaultParams()
	if v, ok := m["trend_fast"]; ok {
		p.TrendFast = int(v)
	}
	if v, ok := m["trend_slow"]; ok {
		p.TrendSlow = int(v)
	}
	if v, ok := m["entry_fast"]; ok {
		p.EntryFast = int(v)
	}
	if v, ok := m["entry_slow"]; ok {
		p.EntrySlow = int(v)
	}
	if v, ok := m["exit_fast"]; ok {
		p.ExitFast = int(v)
	}
	if v, ok := m["exit_slow"]; ok {
		p.ExitSlow = int(v)
	}
	if v, ok := m["trailing_stop"]; ok {
		p.TrailingStop = v
	}
	if v, ok := m["leverage"]; ok {
		p.Leverage = v
	}
	if v, ok := m["capital_use_ratio"]; ok {
		p.CapitalUse = v
	}
	return p
}

// Snapshot holds the EMA values the entry/exit rules read: the trend pair on
// the current bar plus current and previous bars for the entry and exit
// pairs.
type Snapshot struct {
	Price float64

	TrendFast float64
	TrendSlow float64

	EntryFastPrev float64
	EntrySlowPrev float64
	EntryFast     float64
	EntrySlow     float64

	ExitFastPrev float64
	ExitSlowPrev float64
	ExitFast     float64
	ExitSlow     float64
}

// BuildSnapshot computes the three EMA pairs from a close series, newest
// last. The series must cover the slow trend period so the trend filter is
// meaningful.
func BuildSnapshot(closes []float64, p Params) (*Snapshot, error) {
	if len(closes) < p.TrendSlow {
		return nil, fmt.Errorf("strategy: need %d closes for the trend filter, have %d", p.TrendSlow, len(closes))
	}
	last := len(closes) - 1

	trendFast := indicators.EWM(closes, p.TrendFast)
	trendSlow := indicators.EWM(closes, p.TrendSlow)
	entryFast := indicators.EWM(closes, p.EntryFast)
	entrySlow := indicators.EWM(closes, p.EntrySlow)
	exitFast := indicators.EWM(closes, p.ExitFast)
	exitSlow := indicators.EWM(closes, p.ExitSlow)

	snap := &Snapshot{
		Price:         closes[last],
		TrendFast:     trendFast[last],
		TrendSlow:     trendSlow[last],
		EntryFastPrev: entryFast[last-1],
		EntrySlowPrev: entrySlow[last-1],
		EntryFast:     entryFast[last],
		EntrySlow:     entrySlow[last],
		ExitFastPrev:  exitFast[last-1],
		ExitSlowPrev:  exitSlow[last-1],
		ExitFast:      exitFast[last],
		ExitSlow:      exitSlow[last],
	}
	return snap, nil
}

// Uptrend reports whether the slow trend pair points up.
func (s *Snapshot) Uptrend() bool { return s.TrendFast > s.TrendSlow }

// Evaluate turns an EMA snapshot and the current position direction into a
// signal. Entries require the trend filter and an entry-pair cross on the
// current bar; exits fire on an exit-pair cross or on the trend flipping
// against the position.
func Evaluate(snap *Snapshot, direction exchange.PositionSide, hasPosition bool) Signal {
	if !hasPosition {
		if snap.Uptrend() && indicators.CrossedAbove(snap.EntryFastPrev, snap.EntrySlowPrev, snap.EntryFast, snap.EntrySlow) {
			return Signal{Action: ActionBuy, Confidence: 0.85, Reason: "entry golden cross in uptrend", Source: "technical", Price: snap.Price}
		}
		if !snap.Uptrend() && indicators.CrossedBelow(snap.EntryFastPrev, snap.EntrySlowPrev, snap.EntryFast, snap.EntrySlow) {
			return Signal{Action: ActionShort, Confidence: 0.85, Reason: "entry dead cross in downtrend", Source: "technical", Price: snap.Price}
		}
		return Signal{Action: ActionHold, Confidence: 0.5, Reason: "no entry setup", Source: "technical", Price: snap.Price}
	}

	if direction == exchange.PositionLong {
		if indicators.CrossedBelow(snap.ExitFastPrev, snap.ExitSlowPrev, snap.ExitFast, snap.ExitSlow) {
			return Signal{Action: ActionSell, Confidence: 0.85, Reason: "exit dead cross", Source: "technical", Price: snap.Price}
		}
		if !snap.Uptrend() {
			return Signal{Action: ActionSell, Confidence: 0.75, Reason: "trend flipped down", Source: "technical", Price: snap.Price}
		}
	} else {
		if indicators.CrossedAbove(snap.ExitFastPrev, snap.ExitSlowPrev, snap.ExitFast, snap.ExitSlow) {
			return Signal{Action: ActionCover, Confidence: 0.85, Reason: "exit golden cross", Source: "technical", Price: snap.Price}
		}
		if snap.Uptrend() {
			return Signal{Action: ActionCover, Confidence: 0.75, Reason: "trend flipped up", Source: "technical", Price: snap.Price}
		}
	}
	return Signal{Action: ActionHold, Confidence: 0.5, Reason: "holding position", Source: "technical", Price: snap.Price}
}

// Blend merges the engine's technical signal with an advisory verdict. A
// close from either source always wins over an open; when both agree the
// confidence is boosted; otherwise the higher-confidence source wins. An
// advisory-only close is discounted slightly since it lacks the engine's
// price-structure confirmation.
func Blend(technical Signal, advisory *Signal) Signal {
	if advisory == nil {
		return technical
	}
	if technical.IsClose() && !advisory.IsClose() {
		return technical
	}
	if advisory.IsClose() && !technical.IsClose() {
		out := *advisory
		out.Confidence *= 0.9
		out.Source = "advisory"
		return out
	}
	if technical.Action == advisory.Action {
		out := technical
		out.Confidence = math.Min(1.0, (technical.Confidence+advisory.Confidence)/2+0.1)
		out.Reason = fmt.Sprintf("%s; advisory agrees: %s", technical.Reason, advisory.Reason)
		out.Source = "blended"
		return out
	}
	if advisory.Confidence > technical.Confidence {
		out := *advisory
		out.Source = "advisory"
		return out
	}
	return technical
}
