package quota

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestLedger(daily, monthly int, start time.Time) (*Ledger, *fakeClock) {
	clock := &fakeClock{now: start}
	return NewLedger(daily, monthly, time.UTC, WithClock(clock.Now)), clock
}

func TestLedger_StatusThresholds(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		calls int
		want  Status
	}{
		{"empty", 0, StatusHealthy},
		{"just below warning", 69, StatusHealthy},
		{"warning", 70, StatusWarning},
		{"just below critical", 84, StatusWarning},
		{"critical", 85, StatusCritical},
		{"just below over limit", 94, StatusCritical},
		{"over limit", 95, StatusOverLimit},
		{"exhausted", 100, StatusOverLimit},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ledger, _ := newTestLedger(100, 10000, start)
			for i := 0; i < tc.calls; i++ {
				ledger.RecordCall()
			}
			snap := ledger.Status()
			if snap.Status != tc.want {
				t.Fatalf("expected %s at %d calls, got %s", tc.want, tc.calls, snap.Status)
			}
			if snap.RemainingToday != 100-tc.calls {
				t.Fatalf("expected remaining %d, got %d", 100-tc.calls, snap.RemainingToday)
			}
		})
	}
}

func TestLedger_MonthlyPercentDominates(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(333, 10000, start)
	ledger.Restore(0, 8600)

	snap := ledger.Status()
	if snap.Status != StatusCritical {
		t.Fatalf("expected critical from monthly usage, got %s", snap.Status)
	}
	if snap.Mode != ModeCrisis {
		t.Fatalf("expected crisis mode, got %s", snap.Mode)
	}
}

func TestLedger_ExceedingLimitIsOverLimit(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(10, 10000, start)
	for i := 0; i < 11; i++ {
		ledger.RecordCall()
	}

	snap := ledger.Status()
	if snap.Status != StatusOverLimit {
		t.Fatalf("expected over_limit, got %s", snap.Status)
	}
	if snap.RemainingToday != 0 {
		t.Fatalf("expected no remaining budget, got %d", snap.RemainingToday)
	}
	if !snap.Status.Paused() {
		t.Fatal("expected over_limit to pause scanning")
	}
}

func TestLedger_RemainingBoundedByMonth(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(333, 10000, start)
	ledger.Restore(0, 9900)

	if got := ledger.Status().RemainingToday; got != 100 {
		t.Fatalf("expected remaining today capped at monthly remainder 100, got %d", got)
	}
}

func TestLedger_DailyRollover(t *testing.T) {
	start := time.Date(2026, 2, 12, 23, 59, 0, 0, time.UTC)
	ledger, clock := newTestLedger(100, 10000, start)
	for i := 0; i < 40; i++ {
		ledger.RecordCall()
	}

	clock.Set(start.Add(2 * time.Minute))
	snap := ledger.Status()
	if snap.TodayCalls != 0 {
		t.Fatalf("expected today reset after midnight, got %d", snap.TodayCalls)
	}
	if snap.MonthlyCalls != 40 {
		t.Fatalf("expected monthly calls kept, got %d", snap.MonthlyCalls)
	}
}

func TestLedger_MonthlyRollover(t *testing.T) {
	start := time.Date(2026, 2, 28, 22, 0, 0, 0, time.UTC)
	ledger, clock := newTestLedger(100, 10000, start)
	ledger.RecordCall()

	clock.Set(time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC))
	snap := ledger.RecordCall()
	if snap.TodayCalls != 1 || snap.MonthlyCalls != 1 {
		t.Fatalf("expected fresh counters on the 1st, got today=%d month=%d", snap.TodayCalls, snap.MonthlyCalls)
	}
}

func TestLedger_RolloverUsesLocalMidnight(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// 23:30 UTC on Feb 12 is already Feb 13 in Paris.
	clock := &fakeClock{now: time.Date(2026, 2, 12, 22, 30, 0, 0, time.UTC)}
	ledger := NewLedger(100, 10000, paris, WithClock(clock.Now))
	ledger.RecordCall()

	clock.Set(time.Date(2026, 2, 12, 23, 30, 0, 0, time.UTC))
	if got := ledger.Status().TodayCalls; got != 0 {
		t.Fatalf("expected reset at Paris midnight, got %d", got)
	}
}

func TestLedger_ConcurrentRecordsAreExact(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(5000, 10000, start)

	var wg sync.WaitGroup
	for w := 0; w < 50; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				ledger.RecordCall()
			}
		}()
	}
	wg.Wait()

	snap := ledger.Status()
	if snap.TodayCalls != 1000 || snap.MonthlyCalls != 1000 {
		t.Fatalf("expected 1000 calls, got today=%d month=%d", snap.TodayCalls, snap.MonthlyCalls)
	}
}

func TestLedger_RestoreNeverLowersCounts(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(100, 10000, start)
	for i := 0; i < 5; i++ {
		ledger.RecordCall()
	}

	ledger.Restore(2, 3)
	snap := ledger.Status()
	if snap.TodayCalls != 5 || snap.MonthlyCalls != 5 {
		t.Fatalf("expected counts kept at 5, got today=%d month=%d", snap.TodayCalls, snap.MonthlyCalls)
	}
}

func TestLedger_AcquireRefusesWhenExhausted(t *testing.T) {
	start := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

	t.Run("daily", func(t *testing.T) {
		ledger, _ := newTestLedger(1, 1, start)
		if _, err := ledger.Acquire(); err != nil {
			t.Fatalf("expected first call admitted, got %v", err)
		}
		for i := 0; i < 2; i++ {
			if _, err := ledger.Acquire(); !errors.Is(err, ErrExhausted) {
				t.Fatalf("expected ErrExhausted, got %v", err)
			}
		}
		snap := ledger.Status()
		if snap.TodayCalls != 1 || snap.MonthlyCalls != 1 {
			t.Fatalf("expected 1/1 counted, got %d/%d", snap.TodayCalls, snap.MonthlyCalls)
		}
	})

	t.Run("monthly", func(t *testing.T) {
		ledger, clock := newTestLedger(10, 2, start)
		ledger.Acquire()
		ledger.Acquire()
		clock.Set(start.AddDate(0, 0, 1))
		if _, err := ledger.Acquire(); !errors.Is(err, ErrExhausted) {
			t.Fatalf("expected the month cap to refuse, got %v", err)
		}
		if snap := ledger.Status(); snap.TodayCalls != 0 {
			t.Fatalf("expected nothing counted today, got %d", snap.TodayCalls)
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		ledger, _ := newTestLedger(25, 1000, start)
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ledger.Acquire()
			}()
		}
		wg.Wait()
		if got := ledger.Status().TodayCalls; got != 25 {
			t.Fatalf("expected exactly 25 admitted, got %d", got)
		}
	})
}
