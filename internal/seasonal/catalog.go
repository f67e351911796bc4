package seasonal

import (
	"sort"
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
)

// Catalog answers which routes deserve a seasonal boost on a given date.
type Catalog struct {
	windows []config.WindowConfig
}

func NewCatalog(windows []config.WindowConfig) *Catalog {
	return &Catalog{windows: windows}
}

// ActiveWindows lists the names of windows that contain now, sorted.
func (c *Catalog) ActiveWindows(now time.Time) []string {
	var names []string
	for _, w := range c.windows {
		if WindowActive(w, now) {
			names = append(names, w.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ActiveRoutes returns every route pair that belongs to an active window.
func (c *Catalog) ActiveRoutes(now time.Time) map[models.RoutePair]struct{} {
	active := make(map[models.RoutePair]struct{})
	for _, w := range c.windows {
		if !WindowActive(w, now) {
			continue
		}
		for _, r := range w.Routes {
			active[models.NewRoutePair(r.Origin, r.Destination)] = struct{}{}
		}
	}
	return active
}

// Provision returns tier-2 routes for active seasonal pairs that are not
// tracked yet. Routes are returned in pair order.
func (c *Catalog) Provision(tracked []models.Route, now time.Time, cfg *config.Config) []models.Route {
	known := make(map[models.RoutePair]bool, len(tracked))
	for _, r := range tracked {
		known[r.Pair()] = true
	}

	var out []models.Route
	for _, w := range c.windows {
		if !WindowActive(w, now) {
			continue
		}
		for _, wr := range w.Routes {
			pair := models.NewRoutePair(wr.Origin, wr.Destination)
			if known[pair] {
				continue
			}
			known[pair] = true

			region := wr.Region
			if region == "" {
				region = models.RegionPopular
			}
			route := cfg.NewRoute(config.RouteSeed{
				Origin:      pair.Origin,
				Destination: pair.Destination,
				Tier:        2,
				Region:      region,
			})
			route.Seasonal = true
			out = append(out, route)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair().String() < out[j].Pair().String()
	})
	return out
}

// WindowActive reports whether now falls inside the window.
func WindowActive(w config.WindowConfig, now time.Time) bool {
	switch {
	case w.AllYear:
		return true
	case w.IsRange():
		return inRange(w.Start, w.End, now)
	}
	for _, m := range w.Months {
		if time.Month(m) == now.Month() {
			return true
		}
	}
	return false
}

// inRange checks a day range inclusively. A range whose end month precedes
// its start month spans New Year; when now is before this year's start
// boundary the start belongs to the previous year.
func inRange(start, end config.MonthDay, now time.Time) bool {
	loc := now.Location()
	year := now.Year()
	today := time.Date(year, now.Month(), now.Day(), 0, 0, 0, 0, loc)

	from := time.Date(year, start.Month, start.Day, 0, 0, 0, 0, loc)
	to := time.Date(year, end.Month, end.Day, 0, 0, 0, 0, loc)

	if end.Month < start.Month {
		if today.Before(from) {
			from = from.AddDate(-1, 0, 0)
		} else {
			to = to.AddDate(1, 0, 0)
		}
	}

	return !today.Before(from) && !today.After(to)
}
