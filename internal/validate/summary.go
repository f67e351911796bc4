package validate

import (
	"sort"

	"github.com/david/fare-finder/internal/models"
)

type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeNoData Outcome = "no_data"
	OutcomeError  Outcome = "error"
)

// Summary condenses what the secondary source reported for a sample's route
// and travel dates.
type Summary struct {
	Outcome       Outcome  `json:"outcome"`
	RouteExists   bool     `json:"route_exists"`
	Carriers      []string `json:"carriers"`
	Count         int      `json:"count"`
	MinPrice      float64  `json:"min_price"`
	AvgPrice      float64  `json:"avg_price"`
	MaxPrice      float64  `json:"max_price"`
	HistoricalMin float64  `json:"historical_min,omitempty"`
	HistoricalAvg float64  `json:"historical_avg,omitempty"`
}

// Comparable reports whether the secondary source returned prices for the
// same trip.
func (s Summary) Comparable() bool {
	return s.Outcome == OutcomeOK && s.Count > 0
}

// HasPrices reports whether any quote carries a positive price.
func HasPrices(quotes []models.PriceQuote) bool {
	for _, q := range quotes {
		if q.Price > 0 {
			return true
		}
	}
	return false
}

// Summarize builds a summary from round-trip quotes for the sample's dates
// and quotes from a looser one-way search that only confirms the route
// exists. outcome is the result of the round-trip lookup.
func Summarize(roundTrip, oneWay []models.PriceQuote, outcome Outcome) Summary {
	s := Summary{Outcome: outcome}
	carriers := map[string]bool{}

	sum := 0.0
	for _, q := range roundTrip {
		if q.Price <= 0 {
			continue
		}
		if s.Count == 0 || q.Price < s.MinPrice {
			s.MinPrice = q.Price
		}
		if q.Price > s.MaxPrice {
			s.MaxPrice = q.Price
		}
		sum += q.Price
		s.Count++
		if q.Carrier != "" {
			carriers[q.Carrier] = true
		}
	}
	if s.Count > 0 {
		s.AvgPrice = sum / float64(s.Count)
	} else if s.Outcome == OutcomeOK {
		s.Outcome = OutcomeNoData
	}

	for _, q := range oneWay {
		if q.Carrier != "" {
			carriers[q.Carrier] = true
		}
	}
	s.RouteExists = s.Count > 0 || len(oneWay) > 0

	for c := range carriers {
		s.Carriers = append(s.Carriers, c)
	}
	sort.Strings(s.Carriers)
	return s
}
