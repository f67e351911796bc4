package deals

import (
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
)

const (
	ViolationMissingReturn    = "missing_return_date"
	ViolationStayTooShort     = "stay_below_region_minimum"
	ViolationStayTooLong      = "stay_above_region_maximum"
	ViolationAdvanceTooShort  = "advance_below_minimum"
	ViolationAdvanceTooLong   = "advance_above_maximum"
	ViolationPatternMismatch  = "short_stay_pattern_mismatch"
	ViolationPatternForbidden = "short_stay_not_permitted"
)

// RuleCheck is the outcome of the round-trip business rules for one trip.
type RuleCheck struct {
	StayNights  int
	AdvanceDays int
	Violations  []string
}

func (c RuleCheck) OK() bool { return len(c.Violations) == 0 }

type Rules struct {
	regions    map[models.Region]config.RegionConfig
	shortStays []config.ShortStayPattern
}

func NewRules(cfg *config.Config) *Rules {
	return &Rules{regions: cfg.Regions, shortStays: cfg.ShortStays}
}

// Check applies stay, advance-booking and short-stay weekday rules.
func (r *Rules) Check(route models.Route, departure time.Time, ret *time.Time, now time.Time) RuleCheck {
	check := RuleCheck{AdvanceDays: models.DaysBetween(now, departure)}

	minStay, maxStay, minAdv, maxAdv := r.bounds(route)
	if check.AdvanceDays < minAdv {
		check.Violations = append(check.Violations, ViolationAdvanceTooShort)
	}
	if check.AdvanceDays > maxAdv {
		check.Violations = append(check.Violations, ViolationAdvanceTooLong)
	}

	if ret == nil {
		check.Violations = append(check.Violations, ViolationMissingReturn)
		return check
	}

	check.StayNights = models.StayNights(departure, *ret)
	if check.StayNights < minStay {
		check.Violations = append(check.Violations, ViolationStayTooShort)
	}
	if check.StayNights > maxStay {
		check.Violations = append(check.Violations, ViolationStayTooLong)
	}

	for _, p := range r.shortStays {
		if p.Nights != check.StayNights {
			continue
		}
		if !p.Matches(departure, *ret) {
			check.Violations = append(check.Violations, ViolationPatternMismatch)
		}
		if !p.Permits(route) {
			check.Violations = append(check.Violations, ViolationPatternForbidden)
		}
	}
	return check
}

// bounds intersects the region limits with any tighter limits on the route.
func (r *Rules) bounds(route models.Route) (minStay, maxStay, minAdv, maxAdv int) {
	rc := r.regions[route.Region]
	minStay, maxStay = rc.MinStayNights, rc.MaxStayNights
	minAdv, maxAdv = rc.MinAdvanceDays, rc.MaxAdvanceDays

	if route.MaxStayNights > 0 {
		minStay = max(minStay, route.MinStayNights)
		maxStay = min(maxStay, route.MaxStayNights)
	}
	if route.MaxAdvanceDays > 0 {
		minAdv = max(minAdv, route.MinAdvanceDays)
		maxAdv = min(maxAdv, route.MaxAdvanceDays)
	}
	return minStay, maxStay, minAdv, maxAdv
}
