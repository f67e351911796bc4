package seasonal

import (
	"testing"
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
)

func md(t *testing.T, raw string) config.MonthDay {
	t.Helper()
	v, err := config.ParseMonthDay(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return v
}

func day(month time.Month, d int) time.Time {
	return time.Date(2026, month, d, 12, 0, 0, 0, time.UTC)
}

func TestWindowActive_Months(t *testing.T) {
	w := config.WindowConfig{Name: "winter", Months: []int{12, 1, 2}}

	if !WindowActive(w, day(time.January, 15)) {
		t.Fatal("expected January inside winter")
	}
	if WindowActive(w, day(time.March, 1)) {
		t.Fatal("expected March outside winter")
	}
}

func TestWindowActive_WrapsNewYear(t *testing.T) {
	w := config.WindowConfig{Name: "holidays", Start: md(t, "12-20"), End: md(t, "01-10")}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", day(time.December, 19), false},
		{"start boundary", day(time.December, 20), true},
		{"late december", day(time.December, 31), true},
		{"early january", day(time.January, 5), true},
		{"end boundary", day(time.January, 10), true},
		{"after end", day(time.January, 11), false},
		{"mid year", day(time.July, 1), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := WindowActive(w, tc.now); got != tc.want {
				t.Fatalf("expected %v on %s, got %v", tc.want, tc.now.Format("01-02"), got)
			}
		})
	}
}

func TestWindowActive_FixedRange(t *testing.T) {
	w := config.WindowConfig{Name: "oktoberfest", Start: md(t, "09-15"), End: md(t, "10-05")}

	if !WindowActive(w, day(time.October, 5)) {
		t.Fatal("expected Oct 5 inside the range")
	}
	if WindowActive(w, day(time.September, 14)) {
		t.Fatal("expected Sep 14 outside the range")
	}
}

func TestCatalog_ActiveRoutes(t *testing.T) {
	catalog := NewCatalog([]config.WindowConfig{
		{Name: "summer", Months: []int{6, 7, 8}, Routes: []config.WindowRoute{{Origin: "CDG", Destination: "PMI"}}},
		{Name: "always", AllYear: true, Routes: []config.WindowRoute{{Origin: "cdg", Destination: "dxb"}}},
		{Name: "art_basel_miami", Start: md(t, "12-01"), End: md(t, "12-10"), Routes: []config.WindowRoute{{Origin: "CDG", Destination: "MIA"}}},
	})

	active := catalog.ActiveRoutes(day(time.July, 4))
	if _, ok := active[models.NewRoutePair("CDG", "PMI")]; !ok {
		t.Fatal("expected CDG-PMI active in July")
	}
	if _, ok := active[models.NewRoutePair("CDG", "DXB")]; !ok {
		t.Fatal("expected year-round CDG-DXB active")
	}
	if _, ok := active[models.NewRoutePair("CDG", "MIA")]; ok {
		t.Fatal("expected CDG-MIA inactive in July")
	}

	names := catalog.ActiveWindows(day(time.December, 5))
	if len(names) != 2 || names[0] != "always" || names[1] != "art_basel_miami" {
		t.Fatalf("unexpected active windows %v", names)
	}
}

func TestCatalog_ProvisionSkipsTrackedRoutes(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	catalog := NewCatalog([]config.WindowConfig{
		{Name: "oktoberfest", Start: md(t, "09-15"), End: md(t, "10-05"), Routes: []config.WindowRoute{
			{Origin: "MRS", Destination: "MUC", Region: models.RegionShortHaul},
			{Origin: "CDG", Destination: "MUC"},
		}},
	})
	tracked := []models.Route{{Origin: "CDG", Destination: "MUC", Tier: 1, Region: models.RegionPopular}}

	got := catalog.Provision(tracked, day(time.September, 20), cfg)
	if len(got) != 1 {
		t.Fatalf("expected one provisioned route, got %d", len(got))
	}
	r := got[0]
	if r.Pair().String() != "MRS-MUC" || r.Tier != 2 || !r.Seasonal {
		t.Fatalf("unexpected provisioned route %+v", r)
	}
	if r.MinStayNights != 3 || r.MaxStayNights != 7 {
		t.Fatalf("expected short-haul stay bounds, got %d..%d", r.MinStayNights, r.MaxStayNights)
	}

	if out := catalog.Provision(tracked, day(time.November, 1), cfg); len(out) != 0 {
		t.Fatalf("expected nothing provisioned outside the window, got %d", len(out))
	}
}
