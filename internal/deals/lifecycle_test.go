package deals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/david/fare-finder/internal/anomaly"
	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
	"github.com/david/fare-finder/internal/validate"
	"github.com/google/uuid"
)

// Thursday.
var now = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

type countingAlerter struct {
	mu    sync.Mutex
	calls []models.Deal
}

func (a *countingAlerter) DealActivated(_ context.Context, d models.Deal, _ models.Route) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, d)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func newManager(t *testing.T) (*Manager, *MemoryStore, *countingAlerter, *time.Time) {
	t.Helper()
	clock := now
	store := NewMemoryStore()
	alerter := &countingAlerter{}
	m := NewManager(testConfig(t), store, alerter).WithClock(func() time.Time { return clock })
	return m, store, alerter, &clock
}

func testRoute(t *testing.T, region models.Region, seed config.RouteSeed) models.Route {
	t.Helper()
	seed.Origin, seed.Destination, seed.Tier, seed.Region = "CDG", "MAD", 1, region
	r := testConfig(t).NewRoute(seed)
	r.ID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	return r
}

func trip(price float64, departure time.Time, nights int) models.PriceSample {
	ret := departure.AddDate(0, 0, nights)
	return models.PriceSample{
		ID:            uuid.New(),
		Price:         price,
		Currency:      "EUR",
		DepartureDate: departure,
		ReturnDate:    &ret,
		ObservedAt:    now,
	}
}

func verdict(class models.Classification, baseline float64) anomaly.Result {
	return anomaly.Result{Classification: class, BaselinePrice: baseline, AnomalyScore: 0.9, Confidence: 0.8}
}

func approved(d models.Decision) validate.Result {
	return validate.Result{Decision: d, CrossValidationScore: 0.9}
}

func date(month time.Month, day int) time.Time {
	return time.Date(2026, month, day, 0, 0, 0, 0, time.UTC)
}

func TestCommit_ErrorFareBecomesActive(t *testing.T) {
	m, store, alerter, _ := newManager(t)
	route := testRoute(t, models.RegionPopular, config.RouteSeed{})

	res, err := m.Commit(context.Background(), route, trip(50, date(time.April, 14), 10),
		verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Rejected || res.Deal == nil {
		t.Fatalf("expected active deal, got %+v", res)
	}
	d := res.Deal
	if d.State != models.DealActive || !d.IsErrorFare {
		t.Fatalf("expected active error fare, got %+v", d)
	}
	if !d.ExpiresAt.Equal(now.Add(6 * time.Hour)) {
		t.Fatalf("expected expiry detected_at+6h, got %s", d.ExpiresAt)
	}
	if d.DiscountPercentage != 72.22 {
		t.Fatalf("expected 72.22%% discount, got %v", d.DiscountPercentage)
	}
	if d.StayDurationNights != 10 || d.AdvanceBookingDays != 61 {
		t.Fatalf("unexpected trip shape %d nights %d days", d.StayDurationNights, d.AdvanceBookingDays)
	}
	if len(alerter.calls) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerter.calls))
	}
	if active, _ := store.ListDeals(context.Background(), models.DealActive, 0); len(active) != 1 {
		t.Fatalf("expected one stored active deal, got %d", len(active))
	}
}

func TestCommit_ExpiryByClassification(t *testing.T) {
	tests := []struct {
		class models.Classification
		want  time.Duration
	}{
		{models.ClassErrorFare, 6 * time.Hour},
		{models.ClassGreatDeal, 24 * time.Hour},
		{models.ClassGoodDeal, 48 * time.Hour},
	}
	for _, tc := range tests {
		t.Run(string(tc.class), func(t *testing.T) {
			m, _, _, _ := newManager(t)
			route := testRoute(t, models.RegionPopular, config.RouteSeed{})
			res, err := m.Commit(context.Background(), route, trip(100, date(time.April, 14), 10),
				verdict(tc.class, 180), approved(models.DecisionApproveMedium))
			if err != nil || res.Deal == nil {
				t.Fatalf("expected deal, got %+v err=%v", res, err)
			}
			if got := res.Deal.ExpiresAt.Sub(res.Deal.DetectedAt); got != tc.want {
				t.Fatalf("expected ttl %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCommit_ShortStayWrongWeekdays(t *testing.T) {
	m, store, alerter, _ := newManager(t)
	route := testRoute(t, models.RegionShortHaul, config.RouteSeed{AllowTueFri: true})

	// Monday to Friday is four nights, but four-night stays must depart Tuesday.
	res, err := m.Commit(context.Background(), route, trip(40, date(time.April, 13), 4),
		verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res.Rejected || !contains(res.Reasons, ViolationPatternMismatch) {
		t.Fatalf("expected short-stay rejection, got %+v", res)
	}
	if all, _ := store.ListDeals(context.Background(), "", 0); len(all) != 0 {
		t.Fatalf("rejected candidates must not be stored, got %d", len(all))
	}
	if len(alerter.calls) != 0 {
		t.Fatal("rejected candidates must not alert")
	}
}

func TestCommit_ShortStayPatterns(t *testing.T) {
	tests := []struct {
		name       string
		seed       config.RouteSeed
		departure  time.Time
		nights     int
		wantReason string
	}{
		{"tuesday through friday permitted", config.RouteSeed{AllowTueFri: true}, date(time.April, 14), 4, ""},
		{"tuesday through friday forbidden", config.RouteSeed{}, date(time.April, 14), 4, ViolationPatternForbidden},
		{"monday through wednesday", config.RouteSeed{AllowMonWed: true}, date(time.April, 13), 3, ""},
		{"three nights from thursday", config.RouteSeed{AllowMonWed: true}, date(time.April, 16), 3, ViolationPatternMismatch},
		{"wednesday through sunday", config.RouteSeed{AllowWedSun: true}, date(time.April, 15), 5, ""},
		{"six nights any weekday", config.RouteSeed{}, date(time.April, 16), 6, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _, _ := newManager(t)
			route := testRoute(t, models.RegionShortHaul, tc.seed)
			res, err := m.Commit(context.Background(), route, trip(60, tc.departure, tc.nights),
				verdict(models.ClassGreatDeal, 180), approved(models.DecisionApproveHigh))
			if err != nil {
				t.Fatalf("commit: %v", err)
			}
			if tc.wantReason == "" && res.Rejected {
				t.Fatalf("expected acceptance, got %v", res.Reasons)
			}
			if tc.wantReason != "" && !contains(res.Reasons, tc.wantReason) {
				t.Fatalf("expected %s, got %v", tc.wantReason, res.Reasons)
			}
		})
	}
}

func TestCommit_StayOutsideRegionBoundsRejected(t *testing.T) {
	regions := []struct {
		region   models.Region
		min, max int
	}{
		{models.RegionShortHaul, 3, 7},
		{models.RegionPopular, 7, 14},
		{models.RegionLongHaul, 15, 30},
	}

	for _, rc := range regions {
		t.Run(string(rc.region), func(t *testing.T) {
			permissive := config.RouteSeed{AllowMonWed: true, AllowTueFri: true, AllowWedSun: true}
			for _, nights := range []int{0, 1, rc.min - 1, rc.max + 1, rc.max + 10} {
				m, _, _, _ := newManager(t)
				route := testRoute(t, rc.region, permissive)
				res, err := m.Commit(context.Background(), route, trip(50, date(time.April, 14), nights),
					verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
				if err != nil {
					t.Fatalf("commit: %v", err)
				}
				if !res.Rejected {
					t.Fatalf("%d nights outside %d..%d accepted", nights, rc.min, rc.max)
				}
			}

			m, _, _, _ := newManager(t)
			route := testRoute(t, rc.region, permissive)
			res, err := m.Commit(context.Background(), route, trip(50, date(time.April, 16), rc.max),
				verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
			if err != nil {
				t.Fatalf("commit: %v", err)
			}
			if res.Rejected {
				t.Fatalf("expected %d nights accepted for %s, got %v", rc.max, rc.region, res.Reasons)
			}
		})
	}
}

func TestCommit_AdvanceBookingWindow(t *testing.T) {
	tests := []struct {
		days int
		want bool
	}{
		{29, false},
		{30, true},
		{270, true},
		{271, false},
	}
	for _, tc := range tests {
		m, _, _, _ := newManager(t)
		route := testRoute(t, models.RegionPopular, config.RouteSeed{})
		res, err := m.Commit(context.Background(), route, trip(50, now.AddDate(0, 0, tc.days), 10),
			verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		if accepted := !res.Rejected; accepted != tc.want {
			t.Fatalf("%d days advance: expected accepted=%v, got %v", tc.days, tc.want, res.Reasons)
		}
	}
}

func TestCommit_RejectsWithoutApprovalOrDiscount(t *testing.T) {
	tests := []struct {
		name   string
		class  models.Classification
		price  float64
		v      validate.Result
		reason string
	}{
		{"review required", models.ClassGreatDeal, 80, approved(models.DecisionReview), ReasonNotApproved},
		{"rejected", models.ClassGreatDeal, 80, approved(models.DecisionReject), ReasonNotApproved},
		{"discount too small", models.ClassGoodDeal, 130, approved(models.DecisionApproveHigh), ReasonDiscountTooLow},
		{"normal price", models.ClassNormal, 80, approved(models.DecisionApproveHigh), ReasonNotAnomalous},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, store, _, _ := newManager(t)
			route := testRoute(t, models.RegionPopular, config.RouteSeed{})
			res, err := m.Commit(context.Background(), route, trip(tc.price, date(time.April, 14), 10), verdict(tc.class, 180), tc.v)
			if err != nil {
				t.Fatalf("commit: %v", err)
			}
			if !res.Rejected || !contains(res.Reasons, tc.reason) {
				t.Fatalf("expected %s, got %+v", tc.reason, res)
			}
			if all, _ := store.ListDeals(context.Background(), "", 0); len(all) != 0 {
				t.Fatal("rejected candidate was stored")
			}
		})
	}
}

func TestCommit_DuplicateActiveDeal(t *testing.T) {
	m, _, alerter, _ := newManager(t)
	route := testRoute(t, models.RegionPopular, config.RouteSeed{})
	s := trip(50, date(time.April, 14), 10)

	if res, err := m.Commit(context.Background(), route, s, verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh)); err != nil || res.Rejected {
		t.Fatalf("first commit: %+v %v", res, err)
	}
	res, err := m.Commit(context.Background(), route, s, verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if !res.Rejected || !contains(res.Reasons, ReasonDuplicateActive) {
		t.Fatalf("expected duplicate rejection, got %+v", res)
	}
	if len(alerter.calls) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerter.calls))
	}
}

func TestCommit_InvalidRouteIsAnError(t *testing.T) {
	m, _, _, _ := newManager(t)
	route := testRoute(t, models.RegionPopular, config.RouteSeed{})
	route.MinStayNights, route.MaxStayNights = 14, 7

	_, err := m.Commit(context.Background(), route, trip(50, date(time.April, 14), 10), verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh))
	if !errors.Is(err, models.ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
}

func TestSweep_IsIdempotent(t *testing.T) {
	m, store, _, clock := newManager(t)
	route := testRoute(t, models.RegionPopular, config.RouteSeed{})
	if _, err := m.Commit(context.Background(), route, trip(50, date(time.April, 14), 10), verdict(models.ClassErrorFare, 180), approved(models.DecisionApproveHigh)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if n, _ := m.Sweep(context.Background()); n != 0 {
		t.Fatalf("expected nothing expired yet, got %d", n)
	}

	*clock = now.Add(7 * time.Hour)
	if n, err := m.Sweep(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d err=%v", n, err)
	}
	if n, err := m.Sweep(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %d err=%v", n, err)
	}
	expired, _ := store.ListDeals(context.Background(), models.DealExpired, 0)
	if len(expired) != 1 {
		t.Fatalf("expected one expired deal, got %d", len(expired))
	}
}

func TestDiscount_RoundsToCents(t *testing.T) {
	if got := Discount(180, 95).String(); got != "47.22" {
		t.Fatalf("expected 47.22, got %s", got)
	}
	if got := Discount(200, 140).String(); got != "30" {
		t.Fatalf("expected 30, got %s", got)
	}
}

func TestMemoryStore_Performance(t *testing.T) {
	store := NewMemoryStore()
	id := uuid.New()
	old := now.AddDate(0, 0, -45)
	recent := now.AddDate(0, 0, -3)
	for _, d := range []models.Deal{
		{RouteID: id, DiscountPercentage: 50, DetectedAt: old},
		{RouteID: id, DiscountPercentage: 40, DetectedAt: recent},
		{RouteID: id, DiscountPercentage: 60, DetectedAt: recent},
	} {
		d := d
		_ = store.CreateDeal(context.Background(), &d)
	}

	perf, _ := store.Performance(context.Background(), now.AddDate(0, 0, -30))
	p := perf[id]
	if p.DealCount30d != 2 || p.AvgDiscount30d != 50 {
		t.Fatalf("unexpected performance %+v", p)
	}
	if p.LastDealAt == nil || !p.LastDealAt.Equal(recent) {
		t.Fatalf("expected last deal %s, got %v", recent, p.LastDealAt)
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
