package strategy

import (
	"github.com/zeromicro/go-zero/core/logx"
)

// PoolMode identifies which capital pool is active.
type PoolMode string

const (
	// PoolLive trades real capital.
	PoolLive PoolMode = "live"
	// PoolShadow accrues paper results while the live pool sits out a
	// drawdown.
	PoolShadow PoolMode = "shadow"
)

// DualPool is the two-pool capital state machine. Exactly one pool is active;
// realized PnL accrues only to the active pool and balances are never merged.
//
// While live, falling to peak*(1-stopLossRatio) switches to shadow: the
// shadow pool is seeded with the live balance and its trough tracker reset to
// that value, while the live peak is kept as-is for later resumption. While
// shadow, rising to trough*(1+reentryGainRatio) switches back: the live
// balance is restored to the shadow pool's current value and its peak reset.
type DualPool struct {
	mode PoolMode

	liveBalance float64
	livePeak    float64

	shadowBalance float64
	shadowTrough  float64

	stopLossRatio    float64
	reentryGainRatio float64
}

// NewDualPool starts in live mode with both trackers at the initial balance.
func NewDualPool(initial, stopLossRatio, reentryGainRatio float64) *DualPool {
	return &DualPool{
		mode:             PoolLive,
		liveBalance:      initial,
		livePeak:         initial,
		shadowBalance:    initial,
		shadowTrough:     initial,
		stopLossRatio:    stopLossRatio,
		reentryGainRatio: reentryGainRatio,
	}
}

// Mode returns the active pool.
func (d *DualPool) Mode() PoolMode { return d.mode }

// IsLive reports whether trades hit real capital.
func (d *DualPool) IsLive() bool { return d.mode == PoolLive }

// ActiveBalance returns the balance of whichever pool is active.
func (d *DualPool) ActiveBalance() float64 {
	if d.mode == PoolLive {
		return d.liveBalance
	}
	return d.shadowBalance
}

// LiveBalance returns the live pool balance regardless of mode.
func (d *DualPool) LiveBalance() float64 { return d.liveBalance }

// LivePeak returns the live pool's high-water mark.
func (d *DualPool) LivePeak() float64 { return d.livePeak }

// ShadowTrough returns the shadow pool's low-water mark.
func (d *DualPool) ShadowTrough() float64 { return d.shadowTrough }

// ApplyPnL folds a realized result into the active pool and advances that
// pool's watermark: the live peak only rises, the shadow trough only falls.
func (d *DualPool) ApplyPnL(pnl float64) {
	if d.mode == PoolLive {
		d.liveBalance += pnl
		if d.liveBalance > d.livePeak {
			d.livePeak = d.liveBalance
		}
		return
	}
	d.shadowBalance += pnl
	if d.shadowBalance < d.shadowTrough {
		d.shadowTrough = d.shadowBalance
	}
}

// CheckSwitch evaluates the switch thresholds and flips the active pool when
// one holds exactly. Values strictly inside the dead zone between thresholds
// never trigger a switch. Returns true when the mode changed.
func (d *DualPool) CheckSwitch() bool {
	if d.mode == PoolLive {
		if d.liveBalance <= d.livePeak*(1-d.stopLossRatio) {
			d.mode = PoolShadow
			d.shadowBalance = d.liveBalance
			d.shadowTrough = d.shadowBalance
			logx.Infof("[strategy] pool switch live -> shadow (balance %.2f, peak %.2f)", d.liveBalance, d.livePeak)
			return true
		}
		return false
	}
	if d.shadowBalance >= d.shadowTrough*(1+d.reentryGainRatio) {
		d.mode = PoolLive
		d.liveBalance = d.shadowBalance
		d.livePeak = d.liveBalance
		logx.Infof("[strategy] pool switch shadow -> live (balance %.2f)", d.shadowBalance)
		return true
	}
	return false
}
