package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/david/fare-finder/internal/models"
)

// MinModelSamples is the history length from which the trained model
// replaces the statistical fallback.
const MinModelSamples = 10

type Result struct {
	AnomalyScore   float64               `json:"anomaly_score"`
	Classification models.Classification `json:"classification"`
	BaselinePrice  float64               `json:"baseline_price"`
	Confidence     float64               `json:"confidence"`
	CurrentPrice   float64               `json:"current_price"`
	MedianPrice    float64               `json:"median_price"`
	DropPercentage float64               `json:"drop_percentage"`
	ZScore         float64               `json:"z_score"`
	Probability    float64               `json:"probability"`
	Mode           Mode                  `json:"mode"`
	SampleSize     int                   `json:"sample_size"`
}

func (r Result) IsDeal() bool {
	return r.Classification != models.ClassNormal
}

type Detector struct {
	statistical Scorer
	model       Scorer
}

func NewDetector(statistical, model Scorer) *Detector {
	if statistical == nil {
		statistical = StatisticalScorer{}
	}
	if model == nil {
		model = NewTrainedModelScorer(nil)
	}
	return &Detector{statistical: statistical, model: model}
}

// Evaluate scores sample against history, oldest first. Samples priced at or
// above the trailing mean are always normal.
func (d *Detector) Evaluate(ctx context.Context, route models.Route, sample models.PriceSample, history []float64) (Result, error) {
	res := Result{
		Classification: models.ClassNormal,
		CurrentPrice:   sample.Price,
		SampleSize:     len(history),
		Mode:           ModeStatistical,
	}
	if len(history) == 0 {
		return res, nil
	}

	mean, std := meanStd(history)
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	res.BaselinePrice = mean
	res.MedianPrice = percentile(sorted, 50)
	res.ZScore = (sample.Price - mean) / (std + stdEpsilon)
	if mean > 0 {
		res.DropPercentage = (mean - sample.Price) / mean * 100
	}

	scorer := d.statistical
	if len(history) >= MinModelSamples {
		scorer = d.model
	}
	res.Mode = scorer.Mode()

	if sample.Price >= mean {
		res.DropPercentage = math.Min(res.DropPercentage, 0)
		res.Confidence = confidence(len(history), res.ZScore, 0)
		return res, nil
	}

	in := Input{
		Route:   route,
		Current: sample.Price,
		History: history,
		Context: ContextFor(route, sample.DepartureDate, sample.ObservedAt),
	}
	prob, err := scorer.Score(ctx, in)
	if err != nil {
		return res, fmt.Errorf("%s scorer: %w", scorer.Mode(), err)
	}

	res.Probability = prob
	res.AnomalyScore = prob
	res.Classification = Classify(res.DropPercentage, prob)
	res.Confidence = confidence(len(history), res.ZScore, prob)
	return res, nil
}

// Classify combines the drop against the trailing mean with the anomaly
// probability.
func Classify(dropPct, prob float64) models.Classification {
	switch {
	case dropPct >= 70 && prob > 0.7:
		return models.ClassErrorFare
	case dropPct >= 50 && prob > 0.5:
		return models.ClassGreatDeal
	case dropPct >= 30 && prob > 0.3:
		return models.ClassGoodDeal
	}
	return models.ClassNormal
}

func confidence(n int, z, prob float64) float64 {
	c := 0.3*math.Min(float64(n)/50, 1) + 0.4*math.Min(math.Abs(z)/3, 1) + 0.3*prob
	return math.Max(0, math.Min(c, 1))
}
