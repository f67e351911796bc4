package deals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
)

// MemoryStore keeps deals in process. It backs tests and database-less runs.
type MemoryStore struct {
	mu    sync.Mutex
	deals []*models.Deal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateDeal(_ context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deals = append(s.deals, &cp)
	return nil
}

func (s *MemoryStore) FindActiveDeal(_ context.Context, routeID uuid.UUID, departure, ret time.Time) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Deal
	for _, d := range s.deals {
		if d.State != models.DealActive || d.RouteID != routeID {
			continue
		}
		if !sameDay(d.DepartureDate, departure) || !sameDay(d.ReturnDate, ret) {
			continue
		}
		if best == nil || d.DealPrice < best.DealPrice {
			cp := *d
			best = &cp
		}
	}
	return best, nil
}

func (s *MemoryStore) ExpireDeals(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deals {
		if d.State == models.DealActive && d.Expired(now) {
			d.State = models.DealExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateDealConfidence(_ context.Context, id uuid.UUID, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deals {
		if d.ID == id {
			d.ConfidenceScore = score
			return nil
		}
	}
	return fmt.Errorf("deal %s not found", id)
}

// ListDeals returns deals in the given state, newest first. An empty state
// lists everything.
func (s *MemoryStore) ListDeals(_ context.Context, state models.DealState, limit int) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deal
	for _, d := range s.deals {
		if state == "" || d.State == state {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Performance summarizes deals detected at or after since, per route.
func (s *MemoryStore) Performance(_ context.Context, since time.Time) (map[uuid.UUID]models.RoutePerformance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perf := make(map[uuid.UUID]models.RoutePerformance)
	sums := make(map[uuid.UUID]float64)
	for _, d := range s.deals {
		p := perf[d.RouteID]
		p.RouteID = d.RouteID
		if p.LastDealAt == nil || d.DetectedAt.After(*p.LastDealAt) {
			at := d.DetectedAt
			p.LastDealAt = &at
		}
		if !d.DetectedAt.Before(since) {
			p.DealCount30d++
			sums[d.RouteID] += d.DiscountPercentage
		}
		perf[d.RouteID] = p
	}
	for id, p := range perf {
		if p.DealCount30d > 0 {
			p.AvgDiscount30d = sums[id] / float64(p.DealCount30d)
			perf[id] = p
		}
	}
	return perf, nil
}

func sameDay(a, b time.Time) bool {
	return models.DaysBetween(a, b) == 0
}
