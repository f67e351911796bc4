package planner

import (
	"math"
	"sort"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
)

var defaultTierBase = map[int]float64{1: 100, 2: 50, 3: 25}

const (
	seasonalBoost   = 1.5
	freshnessWindow = 30.0
)

// Scorer ranks routes by how much they deserve scan budget.
type Scorer struct {
	tierBase map[int]float64
}

func NewScorer(tierBase map[int]float64) *Scorer {
	if len(tierBase) == 0 {
		tierBase = defaultTierBase
	}
	return &Scorer{tierBase: tierBase}
}

type Ranked struct {
	Route    models.Route
	Score    float64
	Seasonal bool
	Rank     int
}

// Score is tierBase x freshness x seasonalBoost + performanceBonus.
func (s *Scorer) Score(route models.Route, perf models.RoutePerformance, seasonal bool, now time.Time) float64 {
	boost := 1.0
	if seasonal {
		boost = seasonalBoost
	}
	bonus := float64(perf.DealCount30d)*10 + perf.AvgDiscount30d/10
	return s.tierBase[route.Tier]*freshness(perf.LastDealAt, now)*boost + bonus
}

// freshness grows with the time since the last deal, capped at 30 days.
// Routes that never produced a deal get the maximum.
func freshness(lastDeal *time.Time, now time.Time) float64 {
	if lastDeal == nil {
		return 2
	}
	days := now.Sub(*lastDeal).Hours() / 24
	days = math.Max(0, math.Min(days, freshnessWindow))
	return 1 + days/freshnessWindow
}

// Rank scores every route and sorts by descending score, ties by ascending
// route identifier. Ranks start at 0.
func (s *Scorer) Rank(routes []models.Route, perf map[uuid.UUID]models.RoutePerformance, seasonal map[models.RoutePair]struct{}, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(routes))
	for _, r := range routes {
		_, isSeasonal := seasonal[r.Pair()]
		ranked = append(ranked, Ranked{
			Route:    r,
			Score:    s.Score(r, perf[r.ID], isSeasonal, now),
			Seasonal: isSeasonal,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Route.ID.String() < ranked[j].Route.ID.String()
	})
	for i := range ranked {
		ranked[i].Rank = i
	}
	return ranked
}
