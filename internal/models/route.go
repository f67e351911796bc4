package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRoute = errors.New("invalid route")

// Region groups routes that share stay and advance-booking bounds.
type Region string

const (
	RegionShortHaul Region = "short_haul"
	RegionPopular   Region = "popular"
	RegionLongHaul  Region = "long_haul"
)

func (r Region) Valid() bool {
	switch r {
	case RegionShortHaul, RegionPopular, RegionLongHaul:
		return true
	}
	return false
}

// RoutePair identifies a route by its airports only.
type RoutePair struct {
	Origin      string `json:"origin" yaml:"origin"`
	Destination string `json:"destination" yaml:"destination"`
}

func NewRoutePair(origin, destination string) RoutePair {
	return RoutePair{
		Origin:      strings.ToUpper(strings.TrimSpace(origin)),
		Destination: strings.ToUpper(strings.TrimSpace(destination)),
	}
}

func (p RoutePair) String() string {
	return p.Origin + "-" + p.Destination
}

type Route struct {
	ID                uuid.UUID  `json:"id"`
	Origin            string     `json:"origin"`
	Destination       string     `json:"destination"`
	Tier              int        `json:"tier"`
	Region            Region     `json:"region"`
	MinStayNights     int        `json:"min_stay_nights"`
	MaxStayNights     int        `json:"max_stay_nights"`
	MinAdvanceDays    int        `json:"min_advance_days"`
	MaxAdvanceDays    int        `json:"max_advance_days"`
	AllowMonWed       bool       `json:"allow_mon_wed"`
	AllowTueFri       bool       `json:"allow_tue_fri"`
	AllowWedSun       bool       `json:"allow_wed_sun"`
	Active            bool       `json:"active"`
	Seasonal          bool       `json:"seasonal"`
	DailyScans        int        `json:"daily_scans"`
	ScanIntervalHours float64    `json:"scan_interval_hours"`
	ScanCount         int        `json:"scan_count"`
	LastScannedAt     *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (r Route) Pair() RoutePair {
	return NewRoutePair(r.Origin, r.Destination)
}

// Validate reports broken route invariants. A route that fails here is a
// programming or seeding error, not a business-rule rejection.
func (r Route) Validate() error {
	if r.Tier < 1 || r.Tier > 3 {
		return fmt.Errorf("%w: %s tier %d not in 1..3", ErrInvalidRoute, r.Pair(), r.Tier)
	}
	if !r.Region.Valid() {
		return fmt.Errorf("%w: %s unknown region %q", ErrInvalidRoute, r.Pair(), r.Region)
	}
	if r.Origin == "" || r.Destination == "" {
		return fmt.Errorf("%w: missing airport code", ErrInvalidRoute)
	}
	if r.MinStayNights > r.MaxStayNights {
		return fmt.Errorf("%w: %s min stay %d > max stay %d", ErrInvalidRoute, r.Pair(), r.MinStayNights, r.MaxStayNights)
	}
	if r.MinAdvanceDays > r.MaxAdvanceDays {
		return fmt.Errorf("%w: %s min advance %d > max advance %d", ErrInvalidRoute, r.Pair(), r.MinAdvanceDays, r.MaxAdvanceDays)
	}
	if r.ScanIntervalHours <= 0 {
		return fmt.Errorf("%w: %s scan interval must be positive", ErrInvalidRoute, r.Pair())
	}
	return nil
}

// DueForScan reports whether the route's scan interval has elapsed.
func (r Route) DueForScan(now time.Time) bool {
	if r.LastScannedAt == nil {
		return true
	}
	interval := time.Duration(r.ScanIntervalHours * float64(time.Hour))
	return !now.Before(r.LastScannedAt.Add(interval))
}
