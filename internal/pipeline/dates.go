package pipeline

import (
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
)

const (
	maxDepartures   = 10
	departureStride = 7
	maxAdvanceCap   = 270
)

// TripDates is one candidate (departure, return) pair to search.
type TripDates struct {
	Departure time.Time
	Return    time.Time
}

func (d TripDates) Nights() int { return models.StayNights(d.Departure, d.Return) }

// CandidateDates lists the trips a scan may search for a route: departures
// every week from the minimum advance, crossed with the shortest, middle and
// longest allowed stays. Stays that fall on a short-stay pattern are only
// generated on the pattern's weekday and only when the route permits it.
func CandidateDates(route models.Route, patterns []config.ShortStayPattern, now time.Time) []TripDates {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	minAdv, maxAdv := route.MinAdvanceDays, min(route.MaxAdvanceDays, maxAdvanceCap)
	if maxAdv < minAdv {
		return nil
	}

	var departures []time.Time
	for days := minAdv; days <= maxAdv && len(departures) < maxDepartures; days += departureStride {
		departures = append(departures, today.AddDate(0, 0, days))
	}

	patternNights := make(map[int]config.ShortStayPattern, len(patterns))
	for _, p := range patterns {
		patternNights[p.Nights] = p
	}

	var stays []int
	mid := (route.MinStayNights + route.MaxStayNights) / 2
	for _, n := range []int{route.MinStayNights, mid, route.MaxStayNights} {
		if _, short := patternNights[n]; short || n <= 0 {
			continue
		}
		if len(stays) > 0 && stays[len(stays)-1] == n {
			continue
		}
		stays = append(stays, n)
	}

	var out []TripDates
	for _, dep := range departures {
		for _, n := range stays {
			out = append(out, TripDates{Departure: dep, Return: dep.AddDate(0, 0, n)})
		}
	}

	for _, p := range patterns {
		if !p.Permits(route) || p.Nights < route.MinStayNights || p.Nights > route.MaxStayNights {
			continue
		}
		want := p.Departure.Time()
		for _, dep := range departures {
			shift := (int(want) - int(dep.Weekday()) + 7) % 7
			aligned := dep.AddDate(0, 0, shift)
			if models.DaysBetween(today, aligned) > maxAdv {
				continue
			}
			out = append(out, TripDates{Departure: aligned, Return: aligned.AddDate(0, 0, p.Nights)})
		}
	}
	return out
}

// NextDates picks the trip for a route's next scan, rotating by scan count.
func NextDates(route models.Route, patterns []config.ShortStayPattern, now time.Time) (TripDates, bool) {
	candidates := CandidateDates(route, patterns, now)
	if len(candidates) == 0 {
		return TripDates{}, false
	}
	return candidates[route.ScanCount%len(candidates)], true
}
