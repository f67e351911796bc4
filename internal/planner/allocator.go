package planner

import (
	"github.com/david/fare-finder/internal/models"
)

type Allocation struct {
	Route         models.Route `json:"route"`
	Rank          int          `json:"rank"`
	Score         float64      `json:"score"`
	Seasonal      bool         `json:"seasonal"`
	DailyScans    int          `json:"daily_scans"`
	IntervalHours float64      `json:"interval_hours"`
}

const bonusPoolSize = 10

// Baseline is the number of daily scans a route earns from its rank before
// the budget is applied.
func Baseline(rank int, seasonal bool) int {
	var scans int
	switch {
	case rank < 10:
		scans = 8
	case rank < 30:
		scans = 4
	case rank < 60:
		scans = 2
	default:
		scans = 1
	}
	if seasonal {
		scans = int(float64(scans) * seasonalBoost)
	}
	return max(scans, 1)
}

// Allocate turns a ranking into a daily scan plan that never exceeds
// budget. A non-positive budget yields an empty plan.
func Allocate(ranked []Ranked, budget int) []Allocation {
	if budget <= 0 || len(ranked) == 0 {
		return []Allocation{}
	}

	plan := make([]Allocation, 0, len(ranked))
	remaining := budget
	for _, r := range ranked {
		if remaining <= 0 {
			break
		}
		grant := min(Baseline(r.Rank, r.Seasonal), remaining)
		plan = append(plan, Allocation{
			Route:      r.Route,
			Rank:       r.Rank,
			Score:      r.Score,
			Seasonal:   r.Seasonal,
			DailyScans: grant,
		})
		remaining -= grant
	}

	if len(plan) == len(ranked) && remaining > 0 {
		top := min(bonusPoolSize, len(plan))
		if extra := remaining / top; extra > 0 {
			for i := 0; i < top; i++ {
				plan[i].DailyScans += extra
			}
		}
	}

	for i := range plan {
		plan[i].IntervalHours = 24 / float64(plan[i].DailyScans)
	}
	return plan
}

func TotalScans(plan []Allocation) int {
	total := 0
	for _, a := range plan {
		total += a.DailyScans
	}
	return total
}
