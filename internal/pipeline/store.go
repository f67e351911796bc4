package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/david/fare-finder/internal/db"
	"github.com/david/fare-finder/internal/deals"
	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
)

type RouteStore interface {
	ListActiveRoutes(ctx context.Context) ([]models.Route, error)
	CreateRoute(ctx context.Context, r *models.Route) (bool, error)
	UpdateScanPlan(ctx context.Context, routeID uuid.UUID, dailyScans int, intervalHours float64) error
	MarkScanned(ctx context.Context, routeID uuid.UUID, at time.Time) error
	UpdateTier(ctx context.Context, routeID uuid.UUID, tier int, intervalHours float64) error
}

type SampleStore interface {
	AppendSamples(ctx context.Context, samples []models.PriceSample) error
	History(ctx context.Context, routeID uuid.UUID, since time.Time) ([]float64, error)
	HistoricalRange(ctx context.Context, routeID uuid.UUID, since time.Time) (float64, float64, error)
}

type DealStore interface {
	deals.Store
	ListDeals(ctx context.Context, state models.DealState, limit int) ([]models.Deal, error)
	Performance(ctx context.Context, since time.Time) (map[uuid.UUID]models.RoutePerformance, error)
	UpdateDealConfidence(ctx context.Context, id uuid.UUID, score float64) error
}

type CallLog interface {
	LogAPICall(ctx context.Context, c db.APICall) error
}

var (
	_ RouteStore  = (*db.Store)(nil)
	_ SampleStore = (*db.Store)(nil)
	_ DealStore   = (*db.Store)(nil)
	_ CallLog     = (*db.Store)(nil)
	_ DealStore   = (*deals.MemoryStore)(nil)
)

// MemoryStore keeps routes, samples and call logs in process.
type MemoryStore struct {
	mu      sync.Mutex
	routes  []*models.Route
	samples []models.PriceSample
	calls   []db.APICall
}

var (
	_ RouteStore  = (*MemoryStore)(nil)
	_ SampleStore = (*MemoryStore)(nil)
	_ CallLog     = (*MemoryStore)(nil)
)

func NewMemoryStore(routes ...models.Route) *MemoryStore {
	s := &MemoryStore{}
	for i := range routes {
		r := routes[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		s.routes = append(s.routes, &r)
	}
	return s
}

func (s *MemoryStore) ListActiveRoutes(_ context.Context) ([]models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Route
	for _, r := range s.routes {
		if r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Route returns a copy of the stored route.
func (s *MemoryStore) Route(id uuid.UUID) (models.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routes {
		if r.ID == id {
			return *r, true
		}
	}
	return models.Route{}, false
}

func (s *MemoryStore) CreateRoute(_ context.Context, r *models.Route) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.routes {
		if existing.Pair() == r.Pair() {
			*r = *existing
			return false, nil
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	s.routes = append(s.routes, &cp)
	return true, nil
}

func (s *MemoryStore) UpdateScanPlan(_ context.Context, routeID uuid.UUID, dailyScans int, intervalHours float64) error {
	return s.update(routeID, func(r *models.Route) {
		r.DailyScans = dailyScans
		r.ScanIntervalHours = intervalHours
	})
}

func (s *MemoryStore) UpdateTier(_ context.Context, routeID uuid.UUID, tier int, intervalHours float64) error {
	return s.update(routeID, func(r *models.Route) {
		r.Tier = tier
		r.ScanIntervalHours = intervalHours
	})
}

func (s *MemoryStore) MarkScanned(_ context.Context, routeID uuid.UUID, at time.Time) error {
	return s.update(routeID, func(r *models.Route) {
		r.ScanCount++
		t := at
		r.LastScannedAt = &t
	})
}

func (s *MemoryStore) update(routeID uuid.UUID, fn func(*models.Route)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routes {
		if r.ID == routeID {
			fn(r)
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *MemoryStore) AppendSamples(_ context.Context, samples []models.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range samples {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		s.samples = append(s.samples, p)
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, routeID uuid.UUID, since time.Time) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.PriceSample
	for _, p := range s.samples {
		if p.RouteID == routeID && !p.ObservedAt.Before(since) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ObservedAt.Before(matched[j].ObservedAt) })
	prices := make([]float64, len(matched))
	for i, p := range matched {
		prices[i] = p.Price
	}
	return prices, nil
}

func (s *MemoryStore) HistoricalRange(ctx context.Context, routeID uuid.UUID, since time.Time) (float64, float64, error) {
	prices, _ := s.History(ctx, routeID, since)
	if len(prices) == 0 {
		return 0, 0, nil
	}
	lo, sum := prices[0], 0.0
	for _, p := range prices {
		lo = min(lo, p)
		sum += p
	}
	return lo, sum / float64(len(prices)), nil
}

// SampleCount reports how many samples were appended for a route.
func (s *MemoryStore) SampleCount(routeID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.samples {
		if p.RouteID == routeID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) LogAPICall(_ context.Context, c db.APICall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	return nil
}

func (s *MemoryStore) Calls() []db.APICall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.APICall(nil), s.calls...)
}
