// Package worker runs the team's agents as supervised polling loops.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

// ErrStopTimeout is returned when a loop does not exit within the join
// timeout.
var ErrStopTimeout = errors.New("worker: stop timed out")

// skipLogInterval throttles the emergency-skip log line.
const skipLogInterval = 60 * time.Second

// Worker is one polling agent: a name, a fixed interval and a single cycle
// operation. A failing cycle is recorded, never fatal.
type Worker interface {
	Name() string
	Interval() time.Duration
	RunCycle(ctx context.Context) error
}

// EmergencyGate reports the global emergency-stop flag. The shared state
// store satisfies this.
type EmergencyGate interface {
	IsEmergencyStopped() bool
}

// Runner supervises one worker loop. Start and Stop are idempotent; the
// cycle counter is monotonic across restarts.
type Runner struct {
	worker Worker
	gate   EmergencyGate
	exempt bool

	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	stopOnce    *sync.Once
	wg          sync.WaitGroup
	cycles      uint64
	lastErr     error
	lastSkipLog time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEmergencyExempt lets the worker keep cycling during an emergency stop.
// Only the risk guardian opts out, since it alone can clear the flag.
func WithEmergencyExempt() RunnerOption {
	return func(r *Runner) { r.exempt = true }
}

// NewRunner wraps a worker with its lifecycle loop.
func NewRunner(w Worker, gate EmergencyGate, opts ...RunnerOption) *Runner {
	r := &Runner{worker: w, gate: gate}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the loop. Calling Start on a running loop is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.stopOnce = &sync.Once{}
	stop := r.stopChan

	r.wg.Add(1)
	threading.GoSafe(func() {
		defer r.wg.Done()
		r.loop(ctx, stop)
	})
	logx.Infof("[%s] started (interval %s)", r.worker.Name(), r.worker.Interval())
}

// Stop signals the loop and joins it with a bounded timeout. Calling Stop on
// a stopped loop is a no-op.
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	once, stop := r.stopOnce, r.stopChan
	r.mu.Unlock()

	once.Do(func() { close(stop) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logx.Infof("[%s] stopped", r.worker.Name())
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Cycles returns the number of cycles executed since the runner was built.
func (r *Runner) Cycles() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// LastError returns the most recent cycle error, nil after a clean cycle.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Runner) loop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if r.gate != nil && r.gate.IsEmergencyStopped() && !r.exempt {
			r.mu.Lock()
			if time.Since(r.lastSkipLog) >= skipLogInterval {
				r.lastSkipLog = time.Now()
				logx.Infof("[%s] emergency stop active, skipping cycle", r.worker.Name())
			}
			r.mu.Unlock()
			if !r.sleep(ctx, stop) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.cycles++
		r.mu.Unlock()

		err := r.worker.RunCycle(ctx)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		if err != nil {
			logx.Errorf("[%s] cycle failed: %v", r.worker.Name(), err)
		}

		if !r.sleep(ctx, stop) {
			return
		}
	}
}

// sleep waits one interval, returning false when the loop should exit.
func (r *Runner) sleep(ctx context.Context, stop <-chan struct{}) bool {
	timer := time.NewTimer(r.worker.Interval())
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Group starts and stops a set of runners together.
type Group struct {
	runners []*Runner
}

// NewGroup collects runners in start order; Stop runs in reverse.
func NewGroup(runners ...*Runner) *Group {
	return &Group{runners: runners}
}

// Start launches every runner.
func (g *Group) Start(ctx context.Context) {
	for _, r := range g.runners {
		r.Start(ctx)
	}
}

// Stop joins every runner in reverse order, collecting timeout errors.
func (g *Group) Stop(timeout time.Duration) error {
	var errs []error
	for i := len(g.runners) - 1; i >= 0; i-- {
		if err := g.runners[i].Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
