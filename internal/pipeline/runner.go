package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Runner drives scheduling cycles, expiry sweeps and the slower maintenance
// pass (deal revalidation, tier adjustment) on fixed intervals.
type Runner struct {
	p             *Pipeline
	cycleEvery    time.Duration
	sweepEvery    time.Duration
	maintainEvery time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewRunner(p *Pipeline, cycleEvery, sweepEvery time.Duration) *Runner {
	return &Runner{p: p, cycleEvery: cycleEvery, sweepEvery: sweepEvery}
}

// WithMaintenance enables the maintenance pass. It first runs one interval
// after Start, never at startup, so restarts do not shift tiers.
func (r *Runner) WithMaintenance(every time.Duration) *Runner {
	r.maintainEvery = every
	return r
}

// Start runs a first cycle immediately, then keeps ticking until Stop or ctx
// is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		log.Println("[Scheduler] Already running")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.running = true
	log.Printf("[Scheduler] 🚀 Started: cycle every %v, sweep every %v", r.cycleEvery, r.sweepEvery)

	go func() {
		defer close(r.done)
		cycle := time.NewTicker(r.cycleEvery)
		defer cycle.Stop()
		sweep := time.NewTicker(r.sweepEvery)
		defer sweep.Stop()
		var maintain <-chan time.Time
		if r.maintainEvery > 0 {
			t := time.NewTicker(r.maintainEvery)
			defer t.Stop()
			maintain = t.C
		}

		r.runCycle(ctx)
		r.runSweep(ctx)
		for {
			select {
			case <-cycle.C:
				r.runCycle(ctx)
			case <-sweep.C:
				r.runSweep(ctx)
			case <-maintain:
				r.runMaintenance(ctx)
			case <-ctx.Done():
				log.Println("[Scheduler] 🛑 Stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for the current cycle to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()
	<-done
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) runCycle(ctx context.Context) {
	if _, err := r.p.RunSchedulingCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Scheduler] ❌ cycle failed: %v", err)
	}
}

func (r *Runner) runSweep(ctx context.Context) {
	if _, err := r.p.SweepExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Scheduler] ❌ sweep failed: %v", err)
	}
}

func (r *Runner) runMaintenance(ctx context.Context) {
	if _, err := r.p.RevalidateDeals(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Scheduler] ❌ revalidation failed: %v", err)
	}
	if _, err := r.p.AdjustRouteTiers(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Scheduler] ❌ tier adjustment failed: %v", err)
	}
}
