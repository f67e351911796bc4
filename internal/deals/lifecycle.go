package deals

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/david/fare-finder/internal/anomaly"
	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
	"github.com/david/fare-finder/internal/validate"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ReasonNotApproved      = "decision_not_approved"
	ReasonNotAnomalous     = "not_anomalous"
	ReasonNoBaseline       = "no_baseline_price"
	ReasonDiscountTooLow   = "discount_below_minimum"
	ReasonDuplicateActive  = "duplicate_active_deal"
	ReasonMissingDeparture = "missing_departure_date"
)

type Store interface {
	CreateDeal(ctx context.Context, d *models.Deal) error
	FindActiveDeal(ctx context.Context, routeID uuid.UUID, departure, ret time.Time) (*models.Deal, error)
	ExpireDeals(ctx context.Context, now time.Time) (int, error)
}

// Alerter is notified once for every deal that becomes active.
type Alerter interface {
	DealActivated(ctx context.Context, d models.Deal, route models.Route) error
}

type CommitResult struct {
	Deal     *models.Deal `json:"deal,omitempty"`
	Rejected bool         `json:"rejected"`
	Reasons  []string     `json:"reasons,omitempty"`
}

// Manager is the only component that creates deals.
type Manager struct {
	store       Store
	alerter     Alerter
	rules       *Rules
	minDiscount decimal.Decimal
	ttl         map[models.Classification]time.Duration
	now         func() time.Time

	mu sync.Mutex
}

func NewManager(cfg *config.Config, store Store, alerter Alerter) *Manager {
	ttl := make(map[models.Classification]time.Duration, len(cfg.Deals.TTLHours))
	for class, hours := range cfg.Deals.TTLHours {
		ttl[class] = time.Duration(hours * float64(time.Hour))
	}
	return &Manager{
		store:       store,
		alerter:     alerter,
		rules:       NewRules(cfg),
		minDiscount: decimal.NewFromFloat(cfg.Deals.MinDiscountPct),
		ttl:         ttl,
		now:         time.Now,
	}
}

// WithClock replaces the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Commit promotes a validated candidate to an active deal or rejects it.
// Rejections are reported in the result, never as errors; errors mean the
// route was malformed or the store failed.
func (m *Manager) Commit(ctx context.Context, route models.Route, sample models.PriceSample, a anomaly.Result, v validate.Result) (CommitResult, error) {
	if err := route.Validate(); err != nil {
		return CommitResult{}, err
	}
	now := m.now()

	var reasons []string
	if !v.Decision.Approved() {
		reasons = append(reasons, ReasonNotApproved)
	}
	if a.Classification == models.ClassNormal {
		reasons = append(reasons, ReasonNotAnomalous)
	}

	discount := decimal.Zero
	if a.BaselinePrice <= 0 {
		reasons = append(reasons, ReasonNoBaseline)
	} else {
		discount = Discount(a.BaselinePrice, sample.Price)
		if discount.LessThan(m.minDiscount) {
			reasons = append(reasons, ReasonDiscountTooLow)
		}
	}

	var check RuleCheck
	if sample.DepartureDate.IsZero() {
		reasons = append(reasons, ReasonMissingDeparture)
	} else {
		check = m.rules.Check(route, sample.DepartureDate, sample.ReturnDate, now)
		reasons = append(reasons, check.Violations...)
	}

	if len(reasons) > 0 {
		log.Printf("[Deals] rejected %s at %.2f: %v", route.Pair(), sample.Price, reasons)
		return CommitResult{Rejected: true, Reasons: reasons}, nil
	}

	discountPct, _ := discount.Float64()
	deal := &models.Deal{
		ID:                 uuid.New(),
		RouteID:            route.ID,
		PriceSampleID:      sample.ID,
		NormalPrice:        money(a.BaselinePrice),
		DealPrice:          money(sample.Price),
		Currency:           sample.Currency,
		DiscountPercentage: discountPct,
		ConfidenceScore:    v.CrossValidationScore,
		AnomalyScore:       a.AnomalyScore,
		Classification:     a.Classification,
		Decision:           v.Decision,
		IsErrorFare:        a.Classification == models.ClassErrorFare,
		State:              models.DealActive,
		DepartureDate:      sample.DepartureDate,
		ReturnDate:         *sample.ReturnDate,
		StayDurationNights: check.StayNights,
		AdvanceBookingDays: check.AdvanceDays,
		Carrier:            sample.Carrier,
		DetectedAt:         now,
		ExpiresAt:          now.Add(m.ttl[a.Classification]),
	}

	m.mu.Lock()
	existing, err := m.store.FindActiveDeal(ctx, route.ID, deal.DepartureDate, deal.ReturnDate)
	if err != nil {
		m.mu.Unlock()
		return CommitResult{}, fmt.Errorf("check active deals: %w", err)
	}
	if existing != nil && existing.DealPrice <= deal.DealPrice {
		m.mu.Unlock()
		log.Printf("[Deals] %s already has an active deal at %.2f", route.Pair(), existing.DealPrice)
		return CommitResult{Rejected: true, Reasons: []string{ReasonDuplicateActive}}, nil
	}
	if err := m.store.CreateDeal(ctx, deal); err != nil {
		m.mu.Unlock()
		return CommitResult{}, fmt.Errorf("create deal: %w", err)
	}
	m.mu.Unlock()

	log.Printf("🎯 [Deals] %s %s %.2f -> %.2f (-%.1f%%) expires %s",
		deal.Classification, route.Pair(), deal.NormalPrice, deal.DealPrice, deal.DiscountPercentage, deal.ExpiresAt.Format(time.RFC3339))

	if m.alerter != nil {
		if err := m.alerter.DealActivated(ctx, *deal, route); err != nil {
			log.Printf("[Warn] alert for deal %s failed: %v", deal.ID, err)
		}
	}
	return CommitResult{Deal: deal}, nil
}

// Sweep expires active deals past their expiry. Running it twice is safe.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.store.ExpireDeals(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("expire deals: %w", err)
	}
	if n > 0 {
		log.Printf("[Deals] expired %d deals", n)
	}
	return n, nil
}

// Discount is (normal - deal) / normal x 100 rounded to two decimals.
func Discount(normal, deal float64) decimal.Decimal {
	n := decimal.NewFromFloat(normal)
	d := decimal.NewFromFloat(deal)
	return n.Sub(d).Div(n).Mul(decimal.NewFromInt(100)).Round(2)
}

func money(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
