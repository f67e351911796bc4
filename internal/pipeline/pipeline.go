package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/david/fare-finder/internal/anomaly"
	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/deals"
	"github.com/david/fare-finder/internal/models"
	"github.com/david/fare-finder/internal/planner"
	"github.com/david/fare-finder/internal/pricesource"
	"github.com/david/fare-finder/internal/quota"
	"github.com/david/fare-finder/internal/seasonal"
	"github.com/david/fare-finder/internal/validate"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const performanceWindow = 30 * 24 * time.Hour

var ErrNoRoutes = errors.New("no active routes")

// Deps are the collaborators a Pipeline is built from. Detector and Alerter
// are optional.
type Deps struct {
	Routes    RouteStore
	Samples   SampleStore
	Deals     DealStore
	Ledger    *quota.Ledger
	Primary   pricesource.Source
	Secondary pricesource.Source
	Detector  *anomaly.Detector
	Alerter   deals.Alerter
}

// Pipeline is the scheduling authority: it plans the day's scans from the
// quota, dispatches due scans and pushes every sample through detection,
// cross-validation and the deal lifecycle.
type Pipeline struct {
	cfg       *config.Config
	routes    RouteStore
	samples   SampleStore
	deals     DealStore
	ledger    *quota.Ledger
	catalog   *seasonal.Catalog
	scorer    *planner.Scorer
	detector  *anomaly.Detector
	validator *validate.CrossValidator
	manager   *deals.Manager
	primary   pricesource.Source
	secondary pricesource.Source
	now       func() time.Time

	cycleMu sync.Mutex
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(cfg *config.Config, deps Deps, opts ...Option) *Pipeline {
	detector := deps.Detector
	if detector == nil {
		detector = anomaly.NewDetector(nil, nil)
	}
	p := &Pipeline{
		cfg:       cfg,
		routes:    deps.Routes,
		samples:   deps.Samples,
		deals:     deps.Deals,
		ledger:    deps.Ledger,
		catalog:   seasonal.NewCatalog(cfg.Seasonal),
		scorer:    planner.NewScorer(cfg.TierWeights()),
		detector:  detector,
		validator: validate.NewCrossValidator(cfg.Validation.PriceTolerance),
		primary:   deps.Primary,
		secondary: deps.Secondary,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.manager = deals.NewManager(cfg, deps.Deals, deps.Alerter).WithClock(func() time.Time { return p.now() })
	return p
}

// ScanOutcome is what one dispatched scan produced.
type ScanOutcome struct {
	RouteID        uuid.UUID             `json:"route_id"`
	Route          string                `json:"route"`
	Departure      string                `json:"departure_date"`
	Return         string                `json:"return_date"`
	Outcome        pricesource.Outcome   `json:"outcome"`
	Quotes         int                   `json:"quotes"`
	CheapestPrice  float64               `json:"cheapest_price,omitempty"`
	Classification models.Classification `json:"classification,omitempty"`
	Decision       models.Decision       `json:"decision,omitempty"`
	DealID         *uuid.UUID            `json:"deal_id,omitempty"`
	Reasons        []string              `json:"reasons,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type CycleReport struct {
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	QuotaStart    quota.Snapshot       `json:"quota_start"`
	QuotaEnd      quota.Snapshot       `json:"quota_end"`
	ActiveWindows []string             `json:"active_windows"`
	Provisioned   int                  `json:"provisioned_routes"`
	Plan          []planner.Allocation `json:"plan"`
	Due           int                  `json:"due"`
	Dispatched    int                  `json:"dispatched"`
	Dropped       int                  `json:"dropped"`
	Scans         []ScanOutcome        `json:"scans"`
	Deals         []models.Deal        `json:"deals"`
}

// PlanMap is the plan keyed by route pair.
func (r *CycleReport) PlanMap() map[models.RoutePair]int {
	m := make(map[models.RoutePair]int, len(r.Plan))
	for _, a := range r.Plan {
		m[a.Route.Pair()] = a.DailyScans
	}
	return m
}

// QuotaStatus reports the ledger without touching it.
func (p *Pipeline) QuotaStatus() quota.Snapshot {
	return p.ledger.Status()
}

// PreviewPlan computes the allocation the next cycle would use. Nothing is
// persisted and no provider is called.
func (p *Pipeline) PreviewPlan(ctx context.Context) ([]planner.Allocation, error) {
	now := p.now()
	routes, err := p.routes.ListActiveRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	routes = append(routes, p.catalog.Provision(routes, now, p.cfg)...)
	for i := range routes {
		if routes[i].ID == uuid.Nil {
			routes[i].ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(routes[i].Pair().String()))
		}
	}
	return p.plan(ctx, routes, p.ledger.Status().RemainingToday, now)
}

func (p *Pipeline) plan(ctx context.Context, routes []models.Route, budget int, now time.Time) ([]planner.Allocation, error) {
	perf, err := p.deals.Performance(ctx, now.Add(-performanceWindow))
	if err != nil {
		return nil, fmt.Errorf("route performance: %w", err)
	}
	ranked := p.scorer.Rank(routes, perf, p.catalog.ActiveRoutes(now), now)
	return planner.Allocate(ranked, budget), nil
}

// RunSchedulingCycle plans today's scans from the quota snapshot taken at
// the start of the cycle and dispatches the scans that are due. Scans stop
// being issued as soon as the ledger pauses; in-flight scans complete.
func (p *Pipeline) RunSchedulingCycle(ctx context.Context) (*CycleReport, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	now := p.now()
	report := &CycleReport{
		StartedAt:     now,
		QuotaStart:    p.ledger.Status(),
		ActiveWindows: p.catalog.ActiveWindows(now),
	}

	routes, err := p.routes.ListActiveRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	for _, r := range p.catalog.Provision(routes, now, p.cfg) {
		created, err := p.routes.CreateRoute(ctx, &r)
		if err != nil {
			log.Printf("[Warn] failed to provision seasonal route %s: %v", r.Pair(), err)
			continue
		}
		if created {
			report.Provisioned++
			log.Printf("🌴 [Scheduler] provisioned seasonal route %s", r.Pair())
		}
		if r.Active {
			routes = append(routes, r)
		}
	}
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}

	plan, err := p.plan(ctx, routes, report.QuotaStart.RemainingToday, now)
	if err != nil {
		return nil, err
	}
	report.Plan = plan
	p.persistPlan(ctx, routes, plan)

	var due []models.Route
	for _, a := range plan {
		r := a.Route
		r.DailyScans, r.ScanIntervalHours = a.DailyScans, a.IntervalHours
		if a.DailyScans > 0 && r.DueForScan(now) {
			due = append(due, r)
		}
	}
	report.Due = len(due)
	if budget := report.QuotaStart.RemainingToday; len(due) > budget {
		report.Dropped += len(due) - max(budget, 0)
		due = due[:max(budget, 0)]
	}

	log.Printf("[Scheduler] cycle start: quota %s (%d/%d today), %d routes planned, %d scans due, windows %v",
		report.QuotaStart.Status, report.QuotaStart.TodayCalls, report.QuotaStart.DailyLimit,
		len(plan), report.Due, report.ActiveWindows)

	if report.QuotaStart.Status.Paused() {
		log.Printf("⚠️ [Scheduler] quota %s, mode %s: no scans this cycle", report.QuotaStart.Status, report.QuotaStart.Status.Mode())
		report.Dropped += len(due)
		return p.finish(report), nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(max(p.cfg.Scheduler.Workers, 1))
	for _, r := range due {
		g.Go(func() error {
			if ctx.Err() != nil || p.ledger.Status().Status.Paused() {
				mu.Lock()
				report.Dropped++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Dispatched++
			mu.Unlock()

			outcome, deal := p.scan(ctx, r)

			mu.Lock()
			report.Scans = append(report.Scans, outcome)
			if deal != nil {
				report.Deals = append(report.Deals, *deal)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Scans, func(i, j int) bool { return report.Scans[i].Route < report.Scans[j].Route })
	return p.finish(report), nil
}

func (p *Pipeline) finish(report *CycleReport) *CycleReport {
	report.FinishedAt = p.now()
	report.QuotaEnd = p.ledger.Status()
	log.Printf("✅ [Scheduler] cycle done: dispatched=%d dropped=%d deals=%d quota=%s mode=%s",
		report.Dispatched, report.Dropped, len(report.Deals), report.QuotaEnd.Status, report.QuotaEnd.Status.Mode())
	return report
}

// persistPlan stores each route's allocation. Routes left out of the plan
// fall back to their tier's default interval with no scans.
func (p *Pipeline) persistPlan(ctx context.Context, routes []models.Route, plan []planner.Allocation) {
	planned := make(map[uuid.UUID]planner.Allocation, len(plan))
	for _, a := range plan {
		planned[a.Route.ID] = a
	}
	for _, r := range routes {
		scans, interval := 0, p.cfg.DefaultInterval(r.Tier)
		if a, ok := planned[r.ID]; ok {
			scans, interval = a.DailyScans, a.IntervalHours
		}
		if r.DailyScans == scans && r.ScanIntervalHours == interval {
			continue
		}
		if err := p.routes.UpdateScanPlan(ctx, r.ID, scans, interval); err != nil {
			log.Printf("[Warn] failed to store plan for %s: %v", r.Pair(), err)
		}
	}
}

// scan runs one primary search for the route and evaluates the cheapest
// quote. Failures are logged and reported, never returned.
func (p *Pipeline) scan(ctx context.Context, route models.Route) (ScanOutcome, *models.Deal) {
	now := p.now()
	out := ScanOutcome{RouteID: route.ID, Route: route.Pair().String()}

	trip, ok := NextDates(route, p.cfg.ShortStays, now)
	if !ok {
		out.Outcome = pricesource.OutcomeNoData
		out.Error = "no candidate dates"
		return out, nil
	}
	ret := trip.Return
	out.Departure, out.Return = trip.Departure.Format("2006-01-02"), ret.Format("2006-01-02")

	since := now.AddDate(0, 0, -p.cfg.Scheduler.HistoryDays)
	history, err := p.samples.History(ctx, route.ID, since)
	if err != nil {
		out.Outcome, out.Error = pricesource.OutcomeError, err.Error()
		log.Printf("[Warn] history for %s: %v", route.Pair(), err)
		return out, nil
	}
	// The range must not include the samples this scan is about to store.
	var past priceRange
	if past.min, past.avg, err = p.samples.HistoricalRange(ctx, route.ID, since); err != nil {
		log.Printf("[Warn] historical range for %s: %v", route.Pair(), err)
		past = priceRange{}
	}

	res := p.primary.SearchPrices(ctx, pricesource.Request{
		Origin:        route.Origin,
		Destination:   route.Destination,
		DepartureDate: trip.Departure,
		ReturnDate:    &ret,
	})
	out.Outcome, out.Quotes = res.Outcome, len(res.Quotes)
	if err := p.routes.MarkScanned(ctx, route.ID, now); err != nil {
		log.Printf("[Warn] failed to mark %s scanned: %v", route.Pair(), err)
	}
	if res.Outcome != pricesource.OutcomeOK {
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		log.Printf("[Scheduler] %s %s: %s, skipping", route.Pair(), out.Departure, res.Outcome)
		return out, nil
	}

	samples := make([]models.PriceSample, 0, len(res.Quotes))
	for _, q := range res.Quotes {
		samples = append(samples, sampleFrom(route, q, p.primary.Name(), trip, now))
	}
	if err := p.samples.AppendSamples(ctx, samples); err != nil {
		log.Printf("[Warn] failed to store samples for %s: %v", route.Pair(), err)
	}

	cheapest, ok := models.Cheapest(res.Quotes)
	if !ok {
		return out, nil
	}
	sample := samples[0]
	for _, s := range samples {
		if s.Price == cheapest.Price {
			sample = s
			break
		}
	}
	out.CheapestPrice = sample.Price

	verdict, err := p.EvaluateSample(ctx, route, sample, history)
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}
	out.Classification = verdict.Classification
	if !verdict.IsDeal() {
		return out, nil
	}

	summary := p.secondarySummary(ctx, route, sample, past)
	v := p.CrossValidate(route, verdict, summary)
	out.Decision = v.Decision

	commit, err := p.CommitDeal(ctx, route, sample, verdict, v)
	if err != nil {
		out.Error = err.Error()
		log.Printf("[Warn] commit for %s failed: %v", route.Pair(), err)
		return out, nil
	}
	out.Reasons = commit.Reasons
	if commit.Deal != nil {
		id := commit.Deal.ID
		out.DealID = &id
	}
	return out, commit.Deal
}

func sampleFrom(route models.Route, q models.PriceQuote, source string, trip TripDates, now time.Time) models.PriceSample {
	ret := trip.Return
	return models.PriceSample{
		ID:            uuid.New(),
		RouteID:       route.ID,
		Price:         q.Price,
		Currency:      q.Currency,
		Source:        source,
		Carrier:       q.Carrier,
		FlightNumber:  q.FlightNumber,
		DepartureDate: trip.Departure,
		ReturnDate:    &ret,
		ObservedAt:    now,
	}
}

type priceRange struct{ min, avg float64 }

// secondarySummary asks the secondary source about the same trip and, when
// it has no usable round-trip prices, searches one-way to confirm the route
// exists.
func (p *Pipeline) secondarySummary(ctx context.Context, route models.Route, sample models.PriceSample, past priceRange) validate.Summary {
	if p.secondary == nil {
		return validate.Summarize(nil, nil, validate.OutcomeError)
	}
	req := pricesource.Request{
		Origin:        route.Origin,
		Destination:   route.Destination,
		DepartureDate: sample.DepartureDate,
		ReturnDate:    sample.ReturnDate,
	}
	rt := p.secondary.SearchPrices(ctx, req)

	var oneWay []models.PriceQuote
	if rt.Outcome != pricesource.OutcomeOK || !validate.HasPrices(rt.Quotes) {
		req.ReturnDate = nil
		oneWay = p.secondary.SearchPrices(ctx, req).Quotes
	}

	s := validate.Summarize(rt.Quotes, oneWay, validate.Outcome(rt.Outcome))
	s.HistoricalMin, s.HistoricalAvg = past.min, past.avg
	return s
}

// EvaluateSample scores a sample against the route's history.
func (p *Pipeline) EvaluateSample(ctx context.Context, route models.Route, sample models.PriceSample, history []float64) (anomaly.Result, error) {
	return p.detector.Evaluate(ctx, route, sample, history)
}

// CrossValidate decides how far a detected anomaly can be trusted.
func (p *Pipeline) CrossValidate(route models.Route, a anomaly.Result, s validate.Summary) validate.Result {
	return p.validator.Validate(route, a, s)
}

// CommitDeal promotes a validated candidate to an active deal or rejects it.
func (p *Pipeline) CommitDeal(ctx context.Context, route models.Route, sample models.PriceSample, a anomaly.Result, v validate.Result) (deals.CommitResult, error) {
	return p.manager.Commit(ctx, route, sample, a, v)
}

// SweepExpired expires active deals past their expiry.
func (p *Pipeline) SweepExpired(ctx context.Context) (int, error) {
	return p.manager.Sweep(ctx)
}

// ListDeals passes through to the deal store for the read API.
func (p *Pipeline) ListDeals(ctx context.Context, state models.DealState, limit int) ([]models.Deal, error) {
	return p.deals.ListDeals(ctx, state, limit)
}

func (p *Pipeline) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return p.routes.ListActiveRoutes(ctx)
}
