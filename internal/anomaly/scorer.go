package anomaly

import (
	"context"
	"math"

	"github.com/david/fare-finder/internal/models"
)

type Mode string

const (
	ModeStatistical Mode = "statistical"
	ModeModel       Mode = "model"
)

// Input is one sample to score against its route's history.
type Input struct {
	Route   models.Route
	Current float64
	History []float64
	Context Context
}

// Scorer turns a sample into an anomaly probability in [0,1].
type Scorer interface {
	Mode() Mode
	Score(ctx context.Context, in Input) (float64, error)
}

// StatisticalScorer is the z-score fallback for short histories.
type StatisticalScorer struct{}

func (StatisticalScorer) Mode() Mode { return ModeStatistical }

// Score flags a sample only when it sits more than two deviations below the
// trailing mean.
func (StatisticalScorer) Score(_ context.Context, in Input) (float64, error) {
	if len(in.History) == 0 {
		return 0, nil
	}
	mean, std := meanStd(in.History)
	z := (mean - in.Current) / (std + stdEpsilon)
	if in.Current >= mean || z <= 2 {
		return 0, nil
	}
	return math.Min(z/4, 1), nil
}

// TrainedModelScorer scores with a per-route envelope model, training it on
// first use and whenever the route's history changes.
type TrainedModelScorer struct {
	store ModelStore
}

func NewTrainedModelScorer(store ModelStore) *TrainedModelScorer {
	if store == nil {
		store = NewMemoryModelStore()
	}
	return &TrainedModelScorer{store: store}
}

func (*TrainedModelScorer) Mode() Mode { return ModeModel }

func (s *TrainedModelScorer) Score(ctx context.Context, in Input) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := in.Route.ID.String()
	fp := Fingerprint(in.History)

	model, ok := s.store.Get(key)
	if !ok || model.Fingerprint != fp {
		model = Train(in.History, in.Context)
		s.store.Put(key, model)
	}
	return model.Probability(Extract(in.Current, in.History, in.Context)), nil
}
