package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/exchange"
)

// Bounds is the allowed range for a single strategy parameter.
type Bounds struct {
	Min float64
	Max float64
}

// BoundsTable maps parameter names to their allowed ranges.
type BoundsTable map[string]Bounds

// TradeRecord is one executed (or simulated) trade kept for performance
// accounting.
type TradeRecord struct {
	Action    string
	Side      exchange.Side
	Size      float64
	OrderID   string
	PnL       float64
	DryRun    bool
	Timestamp time.Time
}

// TeamStatus is a point-in-time snapshot of everything the team shares.
type TeamStatus struct {
	Timestamp         time.Time
	Instrument        string
	InitialCapital    float64
	CurrentEquity     float64
	CurrentPnL        float64
	CumulativeProfit  float64
	PeakEquity        float64
	DrawdownPct       float64
	CurrentPrice      float64
	OpenPositions     int
	TotalTrades       int
	EmergencyStopped  bool
	EmergencyReason   string
	EntryBlocked      bool
	StrategyParams    map[string]float64
	LastBalanceUpdate time.Time
}

// Store is the single source of truth shared by all workers. Every field is
// guarded by one mutex; refresh operations call the exchange collaborator
// outside the lock and commit the result inside it, so a slow network call
// never stalls readers beyond the commit itself.
type Store struct {
	mu sync.Mutex

	client         exchange.Client
	instrument     string
	initialCapital float64

	balance           *exchange.Balance
	positions         []exchange.Position
	currentPrice      float64
	lastBalanceUpdate time.Time
	lastPriceUpdate   time.Time

	cumulativeProfit float64
	peakEquity       float64
	trades           []TradeRecord

	params map[string]float64
	bounds BoundsTable

	emergencyStopped bool
	emergencyReason  string
	entryBlocked     bool
}

// New constructs a store seeded with the initial capital, the default
// strategy parameters and the parameter bounds used to validate every write.
func New(client exchange.Client, instrument string, initialCapital float64, params map[string]float64, bounds BoundsTable) *Store {
	p := make(map[string]float64, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &Store{
		client:         client,
		instrument:     instrument,
		initialCapital: initialCapital,
		peakEquity:     initialCapital,
		params:         p,
		bounds:         bounds,
	}
}

// Instrument returns the traded instrument identifier.
func (s *Store) Instrument() string { return s.instrument }

// InitialCapital returns the starting capital.
func (s *Store) InitialCapital() float64 { return s.initialCapital }

// ---- refresh (collaborator call outside the lock, commit inside) ----

// RefreshBalance pulls account equity from the exchange and commits it,
// advancing the peak-equity watermark when equity makes a new high.
func (s *Store) RefreshBalance(ctx context.Context) (*exchange.Balance, error) {
	bal, err := s.client.RefreshBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: refresh balance: %w", err)
	}
	s.mu.Lock()
	s.balance = bal
	s.lastBalanceUpdate = time.Now()
	if bal.Equity > s.peakEquity {
		s.peakEquity = bal.Equity
	}
	s.mu.Unlock()
	return bal, nil
}

// RefreshPositions pulls open positions from the exchange and commits them.
func (s *Store) RefreshPositions(ctx context.Context) ([]exchange.Position, error) {
	positions, err := s.client.RefreshPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: refresh positions: %w", err)
	}
	s.mu.Lock()
	s.positions = positions
	s.mu.Unlock()
	return positions, nil
}

// RefreshPrice pulls the latest price and commits it.
func (s *Store) RefreshPrice(ctx context.Context) (float64, error) {
	px, err := s.client.RefreshPrice(ctx, s.instrument)
	if err != nil {
		return 0, fmt.Errorf("state: refresh price: %w", err)
	}
	s.mu.Lock()
	s.currentPrice = px
	s.lastPriceUpdate = time.Now()
	s.mu.Unlock()
	return px, nil
}

// ---- cached reads ----

// CurrentPrice returns the last committed price.
func (s *Store) CurrentPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPrice
}

// Positions returns a copy of the cached positions.
func (s *Store) Positions() []exchange.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]exchange.Position(nil), s.positions...)
}

// HasOpenPosition reports whether any position is cached.
func (s *Store) HasOpenPosition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions) > 0
}

// PositionDirection returns "long", "short" or "none" for the first cached
// position; the team trades a single instrument with at most one position.
func (s *Store) PositionDirection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.positions) == 0 {
		return "none"
	}
	return string(s.positions[0].Side)
}

// CurrentEquity returns cached equity, falling back to the initial capital
// before the first balance refresh.
func (s *Store) CurrentEquity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equityLocked()
}

func (s *Store) equityLocked() float64 {
	if s.balance == nil {
		return s.initialCapital
	}
	return s.balance.Equity
}

// CurrentPnL is current equity minus initial capital.
func (s *Store) CurrentPnL() float64 {
	return s.CurrentEquity() - s.initialCapital
}

// GetDrawdownPct returns the fractional decline from peak equity, never
// negative.
func (s *Store) GetDrawdownPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peakEquity <= 0 {
		return 0
	}
	dd := (s.peakEquity - s.equityLocked()) / s.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// PeakEquity returns the equity high-water mark.
func (s *Store) PeakEquity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakEquity
}

// ---- PnL accounting ----

// RecordTrade appends an executed trade and folds its PnL into the
// cumulative realized profit.
func (s *Store) RecordTrade(tr TradeRecord) {
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.trades = append(s.trades, tr)
	s.cumulativeProfit += tr.PnL
	s.mu.Unlock()
}

// CumulativeProfit returns realized profit across all recorded trades.
func (s *Store) CumulativeProfit() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulativeProfit
}

// TradeHistory returns up to limit most recent trades, oldest-first.
func (s *Store) TradeHistory(limit int) []TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades := s.trades
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return append([]TradeRecord(nil), trades...)
}

// ---- strategy parameters ----

// StrategyParams returns a copy of the current parameter set.
func (s *Store) StrategyParams() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// UpdateStrategyParams validates every change against the bounds table and
// applies the batch atomically. There is no unvalidated write path.
func (s *Store) UpdateStrategyParams(changes map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range changes {
		if b, ok := s.bounds[key]; ok {
			if value < b.Min || value > b.Max {
				return fmt.Errorf("state: parameter %s=%v out of bounds [%v, %v]", key, value, b.Min, b.Max)
			}
		}
	}
	for key, value := range changes {
		s.params[key] = value
	}
	logx.Infof("[state] strategy parameters updated: %v", changes)
	return nil
}

// ParamBounds returns the bounds table used to validate parameter writes.
func (s *Store) ParamBounds() BoundsTable { return s.bounds }

// ---- safety flags ----

// IsEmergencyStopped reports whether the global emergency stop is set.
func (s *Store) IsEmergencyStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergencyStopped
}

// SetEmergencyStop latches the emergency stop. Only ClearEmergencyStop,
// called by the risk guardian after drawdown recovery, releases it.
func (s *Store) SetEmergencyStop(reason string) {
	s.mu.Lock()
	s.emergencyStopped = true
	s.emergencyReason = reason
	s.mu.Unlock()
	logx.Errorf("[state] emergency stop: %s", reason)
}

// ClearEmergencyStop releases the emergency stop.
func (s *Store) ClearEmergencyStop() {
	s.mu.Lock()
	s.emergencyStopped = false
	s.emergencyReason = ""
	s.mu.Unlock()
	logx.Infof("[state] emergency stop cleared")
}

// IsEntryBlocked reports whether new entries are blocked, either explicitly
// or implicitly through the emergency stop.
func (s *Store) IsEntryBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryBlocked || s.emergencyStopped
}

// SetEntryBlocked toggles the entry block independently of the emergency
// stop.
func (s *Store) SetEntryBlocked(blocked bool, reason string) {
	s.mu.Lock()
	s.entryBlocked = blocked
	s.mu.Unlock()
	if blocked {
		logx.Infof("[state] new entries blocked: %s", reason)
	} else {
		logx.Infof("[state] new entries allowed")
	}
}

// ---- snapshot ----

// Status aggregates the shared state for advisory prompts and journaling.
func (s *Store) Status() TeamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	equity := s.equityLocked()
	dd := 0.0
	if s.peakEquity > 0 {
		if d := (s.peakEquity - equity) / s.peakEquity; d > 0 {
			dd = d
		}
	}
	params := make(map[string]float64, len(s.params))
	for k, v := range s.params {
		params[k] = v
	}
	return TeamStatus{
		Timestamp:         time.Now(),
		Instrument:        s.instrument,
		InitialCapital:    s.initialCapital,
		CurrentEquity:     equity,
		CurrentPnL:        equity - s.initialCapital,
		CumulativeProfit:  s.cumulativeProfit,
		PeakEquity:        s.peakEquity,
		DrawdownPct:       dd,
		CurrentPrice:      s.currentPrice,
		OpenPositions:     len(s.positions),
		TotalTrades:       len(s.trades),
		EmergencyStopped:  s.emergencyStopped,
		EmergencyReason:   s.emergencyReason,
		EntryBlocked:      s.entryBlocked,
		StrategyParams:    params,
		LastBalanceUpdate: s.lastBalanceUpdate,
	}
}
