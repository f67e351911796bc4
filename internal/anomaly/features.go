package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/david/fare-finder/internal/models"
)

const (
	FeatCurrent = iota
	FeatMean
	FeatStd
	FeatP25
	FeatP50
	FeatP75
	FeatMin
	FeatMax
	FeatLast
	FeatRatio
	FeatZScore
	FeatTrend
	FeatVolatility
	FeatDistance
	FeatDaysAdvance
	FeatWeekday
	FeatMonth
	NumFeatures
)

var FeatureNames = [NumFeatures]string{
	"current_price", "mean_price", "std_price", "p25", "p50", "p75",
	"min_price", "max_price", "last_price", "price_ratio", "z_score",
	"recent_trend_slope", "volatility", "route_distance_category",
	"days_advance", "weekday", "month",
}

type Features [NumFeatures]float64

// Context carries the non-price features of a sample.
type Context struct {
	DistanceCategory float64
	DaysAdvance      float64
	Weekday          float64
	Month            float64
}

// ContextFor derives the sample context from the route and travel dates.
func ContextFor(route models.Route, departure, observedAt time.Time) Context {
	c := Context{DistanceCategory: DistanceCategory(route.Region), DaysAdvance: 30, Weekday: 3, Month: 6}
	if !departure.IsZero() {
		c.Weekday = float64(departure.Weekday())
		c.Month = float64(departure.Month())
		if !observedAt.IsZero() {
			c.DaysAdvance = float64(models.DaysBetween(observedAt, departure))
		}
	}
	return c
}

func DistanceCategory(r models.Region) float64 {
	switch r {
	case models.RegionShortHaul:
		return 1
	case models.RegionPopular:
		return 2
	case models.RegionLongHaul:
		return 4
	}
	return 2.5
}

// Extract builds the feature vector of current against history. History must
// be non-empty.
func Extract(current float64, history []float64, c Context) Features {
	mean, std := meanStd(history)
	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)

	var f Features
	f[FeatCurrent] = current
	f[FeatMean] = mean
	f[FeatStd] = std
	f[FeatP25] = percentile(sorted, 25)
	f[FeatP50] = percentile(sorted, 50)
	f[FeatP75] = percentile(sorted, 75)
	f[FeatMin] = sorted[0]
	f[FeatMax] = sorted[len(sorted)-1]
	f[FeatLast] = history[len(history)-1]
	if mean > 0 {
		f[FeatRatio] = current / mean
	}
	f[FeatZScore] = (current - mean) / (std + stdEpsilon)
	f[FeatTrend] = trendSlope(history, 5)
	f[FeatVolatility] = volatility(history)
	f[FeatDistance] = c.DistanceCategory
	f[FeatDaysAdvance] = c.DaysAdvance
	f[FeatWeekday] = c.Weekday
	f[FeatMonth] = c.Month
	return f
}

const stdEpsilon = 1e-6

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	sq := 0.0
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// percentile interpolates linearly between closest ranks of sorted data.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// trendSlope fits a least-squares line through the last n points.
func trendSlope(history []float64, n int) float64 {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	if len(history) < 2 {
		return 0
	}
	xMean := float64(len(history)-1) / 2
	yMean, _ := meanStd(history)
	num, den := 0.0, 0.0
	for i, y := range history {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	return num / den
}

// volatility is the standard deviation of period-over-period returns.
func volatility(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		if history[i-1] == 0 {
			continue
		}
		returns = append(returns, history[i]/history[i-1]-1)
	}
	_, std := meanStd(returns)
	return std
}
