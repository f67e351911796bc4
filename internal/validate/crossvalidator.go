package validate

import (
	"math"
	"sort"

	"github.com/david/fare-finder/internal/anomaly"
	"github.com/david/fare-finder/internal/models"
)

type Result struct {
	CrossValidationScore float64         `json:"cross_validation_score"`
	Decision             models.Decision `json:"decision"`
	Reasons              []string        `json:"reasons"`
	PrimaryConfidence    float64         `json:"primary_confidence"`
	SecondaryOutcome     Outcome         `json:"secondary_outcome"`
}

// CrossValidator merges the detector's verdict with a second price source.
type CrossValidator struct {
	tolerance float64
}

func NewCrossValidator(tolerance float64) *CrossValidator {
	if tolerance <= 0 {
		tolerance = 0.2
	}
	return &CrossValidator{tolerance: tolerance}
}

func (v *CrossValidator) Validate(route models.Route, a anomaly.Result, s Summary) Result {
	reasons := map[string]bool{}
	comparable := s.Comparable()

	var primary float64
	if comparable {
		var why string
		primary, why = v.confirmPrice(a.CurrentPrice, s)
		reasons[why] = true
	} else {
		primary = a.Confidence
		reasons["no_comparable_secondary_data"] = true
		if s.Outcome == OutcomeError {
			reasons["secondary_unavailable"] = true
		}
	}

	score := 0.7 * primary
	switch {
	case a.Classification == models.ClassErrorFare && primary > 0.8:
		score += 0.1
		reasons["error_fare_confirmed"] = true
	case a.Classification == models.ClassGreatDeal:
		score += 0.05
	}

	if s.RouteExists {
		score += 0.2
		reasons["route_confirmed_secondary"] = true
		if len(s.Carriers) >= 3 {
			score += 0.05
			reasons["multiple_carriers"] = true
		}
	} else {
		reasons["route_not_confirmed_secondary"] = true
	}

	drop := a.DropPercentage
	switch {
	case drop >= 30 && drop <= 70:
		score += 0.1
		reasons["realistic_discount"] = true
	case drop > 70 && primary <= 0.8:
		score -= 0.1
		reasons["suspicious_discount"] = true
	}

	score = math.Max(0, math.Min(score, 1))

	var decision models.Decision
	if comparable {
		decision = decide(score, s.RouteExists)
	} else if score > 0.3 && s.RouteExists {
		decision = models.DecisionApproveLow
	} else {
		decision = models.DecisionReject
	}

	return Result{
		CrossValidationScore: score,
		Decision:             decision,
		Reasons:              sortedKeys(reasons),
		PrimaryConfidence:    primary,
		SecondaryOutcome:     s.Outcome,
	}
}

func decide(score float64, routeExists bool) models.Decision {
	switch {
	case score >= 0.8:
		return models.DecisionApproveHigh
	case score >= 0.6:
		if routeExists {
			return models.DecisionApproveMedium
		}
		return models.DecisionReview
	case score >= 0.4:
		return models.DecisionReview
	}
	return models.DecisionReject
}

// confirmPrice rates how well the secondary prices corroborate price.
func (v *CrossValidator) confirmPrice(price float64, s Summary) (float64, string) {
	var conf float64
	var why string

	switch {
	case s.AvgPrice > 0 && math.Abs(price-s.AvgPrice)/s.AvgPrice <= v.tolerance:
		conf, why = 0.9, "price_matches_secondary_average"
	case s.MinPrice > 0 && math.Abs(price-s.MinPrice)/s.MinPrice <= v.tolerance:
		conf, why = 0.8, "price_matches_secondary_minimum"
	case price < s.MinPrice*0.7:
		conf, why = 0.95, "price_well_below_secondary_minimum"
	case price < s.AvgPrice:
		conf, why = 0.7, "price_below_secondary_average"
	default:
		conf, why = 0, "price_mismatch"
	}

	if s.HistoricalMin > 0 && price < s.HistoricalMin {
		conf = math.Min(conf+0.1, 1)
	}
	return conf, why
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
