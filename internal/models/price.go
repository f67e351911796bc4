package models

import (
	"time"

	"github.com/google/uuid"
)

// PriceSample is one observed round-trip price. Samples are append-only.
type PriceSample struct {
	ID            uuid.UUID  `json:"id"`
	RouteID       uuid.UUID  `json:"route_id"`
	Price         float64    `json:"price"`
	Currency      string     `json:"currency"`
	Source        string     `json:"source"`
	Carrier       string     `json:"carrier,omitempty"`
	FlightNumber  string     `json:"flight_number,omitempty"`
	DepartureDate time.Time  `json:"departure_date"`
	ReturnDate    *time.Time `json:"return_date,omitempty"`
	ObservedAt    time.Time  `json:"observed_at"`
}

// PriceQuote is a single fare as reported by an upstream provider.
type PriceQuote struct {
	Price        float64    `json:"price"`
	Currency     string     `json:"currency"`
	Carrier      string     `json:"carrier"`
	FlightNumber string     `json:"flight_number"`
	DepartureAt  time.Time  `json:"departure_at"`
	ReturnAt     *time.Time `json:"return_at,omitempty"`
}

// Cheapest returns the lowest positive-price quote.
func Cheapest(quotes []PriceQuote) (PriceQuote, bool) {
	var best PriceQuote
	found := false
	for _, q := range quotes {
		if q.Price <= 0 {
			continue
		}
		if !found || q.Price < best.Price {
			best = q
			found = true
		}
	}
	return best, found
}

// StayNights counts calendar nights between two dates.
func StayNights(departure, ret time.Time) int {
	return DaysBetween(departure, ret)
}

// DaysBetween counts whole calendar days from a to b, ignoring time of day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
