package quota

import (
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned by Acquire once the daily or monthly budget is
// spent.
var ErrExhausted = errors.New("call quota exhausted")

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusOverLimit Status = "over_limit"
)

// Paused reports whether new scans must not be issued.
func (s Status) Paused() bool {
	return s == StatusCritical || s == StatusOverLimit
}

// Mode is the operating mode label reported alongside a status.
type Mode string

const (
	ModeNormal       Mode = "normal"
	ModeConservative Mode = "conservative"
	ModeCrisis       Mode = "crisis"
	ModeEmergency    Mode = "emergency"
)

func (s Status) Mode() Mode {
	switch s {
	case StatusWarning:
		return ModeConservative
	case StatusCritical:
		return ModeCrisis
	case StatusOverLimit:
		return ModeEmergency
	}
	return ModeNormal
}

type Snapshot struct {
	TodayCalls       int       `json:"today_calls"`
	DailyLimit       int       `json:"daily_limit"`
	MonthlyCalls     int       `json:"monthly_calls"`
	MonthlyLimit     int       `json:"monthly_limit"`
	DailyPercent     float64   `json:"daily_percent"`
	MonthlyPercent   float64   `json:"monthly_percent"`
	RemainingToday   int       `json:"remaining_today"`
	RemainingMonthly int       `json:"remaining_monthly"`
	Status           Status    `json:"status"`
	Mode             Mode      `json:"mode"`
	TakenAt          time.Time `json:"taken_at"`
}

// Ledger is the single counter of external calls against the daily and
// monthly budgets. All mutation happens under one mutex.
type Ledger struct {
	mu           sync.Mutex
	dailyLimit   int
	monthlyLimit int
	today        int
	monthly      int
	dayKey       string
	monthKey     string
	loc          *time.Location
	now          func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(dailyLimit, monthlyLimit int, loc *time.Location, opts ...Option) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	l := &Ledger{
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		loc:          loc,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	now := l.now().In(l.loc)
	l.dayKey = now.Format("2006-01-02")
	l.monthKey = now.Format("2006-01")
	return l
}

// RecordCall counts one external call. Calls are never un-recorded, even
// when the request that made them fails.
func (l *Ledger) RecordCall() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.rollLocked()
	l.today++
	l.monthly++
	return l.snapshotLocked(now)
}

// Acquire counts one call only if both budgets still have room. Callers
// acquire before sending so concurrent attempts can never overspend.
func (l *Ledger) Acquire() (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.rollLocked()
	if l.today >= l.dailyLimit || l.monthly >= l.monthlyLimit {
		return l.snapshotLocked(now), ErrExhausted
	}
	l.today++
	l.monthly++
	return l.snapshotLocked(now), nil
}

func (l *Ledger) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.rollLocked()
	return l.snapshotLocked(now)
}

// Restore seeds the counters from a persisted call log, typically at startup.
func (l *Ledger) Restore(today, monthly int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked()
	if today > l.today {
		l.today = today
	}
	if monthly > l.monthly {
		l.monthly = monthly
	}
	if l.today > l.monthly {
		l.monthly = l.today
	}
}

// Windows returns the local start of the current day and month.
func (l *Ledger) Windows() (dayStart, monthStart time.Time) {
	now := l.now().In(l.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.loc), time.Date(y, m, 1, 0, 0, 0, 0, l.loc)
}

func (l *Ledger) rollLocked() time.Time {
	now := l.now().In(l.loc)
	if day := now.Format("2006-01-02"); day != l.dayKey {
		l.dayKey = day
		l.today = 0
	}
	if month := now.Format("2006-01"); month != l.monthKey {
		l.monthKey = month
		l.monthly = 0
	}
	return now
}

func (l *Ledger) snapshotLocked(now time.Time) Snapshot {
	s := Snapshot{
		TodayCalls:     l.today,
		DailyLimit:     l.dailyLimit,
		MonthlyCalls:   l.monthly,
		MonthlyLimit:   l.monthlyLimit,
		DailyPercent:   percent(l.today, l.dailyLimit),
		MonthlyPercent: percent(l.monthly, l.monthlyLimit),
		TakenAt:        now,
	}
	s.RemainingMonthly = max(0, l.monthlyLimit-l.monthly)
	s.RemainingToday = min(max(0, l.dailyLimit-l.today), s.RemainingMonthly)
	s.Status = classify(s)
	s.Mode = s.Status.Mode()
	return s
}

func classify(s Snapshot) Status {
	if s.TodayCalls > s.DailyLimit || s.MonthlyCalls > s.MonthlyLimit {
		return StatusOverLimit
	}
	pct := max(s.DailyPercent, s.MonthlyPercent)
	switch {
	case pct >= 95:
		return StatusOverLimit
	case pct >= 85:
		return StatusCritical
	case pct >= 70:
		return StatusWarning
	}
	return StatusHealthy
}

func percent(used, limit int) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) / float64(limit) * 100
}
