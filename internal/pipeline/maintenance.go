package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/david/fare-finder/internal/anomaly"
	"github.com/david/fare-finder/internal/models"
	"github.com/david/fare-finder/internal/validate"
	"github.com/google/uuid"
)

// DealRecheck is one active deal compared against fresh secondary prices.
type DealRecheck struct {
	DealID        uuid.UUID       `json:"deal_id"`
	Route         string          `json:"route"`
	OldConfidence float64         `json:"original_confidence"`
	NewConfidence float64         `json:"new_confidence"`
	Decision      models.Decision `json:"decision"`
	Updated       bool            `json:"updated"`
}

type RevalidationReport struct {
	Processed int           `json:"deals_processed"`
	Updated   int           `json:"updated"`
	Skipped   int           `json:"skipped"`
	High      int           `json:"high_confidence"`
	Medium    int           `json:"medium_confidence"`
	Low       int           `json:"low_confidence"`
	Results   []DealRecheck `json:"results"`
}

// RevalidateDeals re-runs cross-validation for the newest active deals and
// stores the new confidence when it moved by more than the configured delta.
// Only the secondary source is consulted, so the quota is never touched.
func (p *Pipeline) RevalidateDeals(ctx context.Context) (RevalidationReport, error) {
	var report RevalidationReport
	if p.secondary == nil {
		log.Printf("[Revalidate] no secondary source configured, skipping")
		return report, nil
	}

	active, err := p.deals.ListDeals(ctx, models.DealActive, p.cfg.Maintain.RevalidateLimit)
	if err != nil {
		return report, fmt.Errorf("list active deals: %w", err)
	}
	if len(active) == 0 {
		return report, nil
	}
	routes, err := p.routes.ListActiveRoutes(ctx)
	if err != nil {
		return report, fmt.Errorf("list routes: %w", err)
	}
	byID := make(map[uuid.UUID]models.Route, len(routes))
	for _, r := range routes {
		byID[r.ID] = r
	}

	log.Printf("[Revalidate] 🔄 re-checking %d active deals", len(active))
	since := p.now().AddDate(0, 0, -p.cfg.Scheduler.HistoryDays)
	for _, d := range active {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		route, ok := byID[d.RouteID]
		if !ok {
			report.Skipped++
			continue
		}

		var past priceRange
		if past.min, past.avg, err = p.samples.HistoricalRange(ctx, route.ID, since); err != nil {
			log.Printf("[Warn] historical range for %s: %v", route.Pair(), err)
			past = priceRange{}
		}
		ret := d.ReturnDate
		sample := models.PriceSample{
			RouteID:       route.ID,
			Price:         d.DealPrice,
			Currency:      d.Currency,
			DepartureDate: d.DepartureDate,
			ReturnDate:    &ret,
		}
		summary := p.secondarySummary(ctx, route, sample, past)
		v := p.CrossValidate(route, anomaly.Result{
			CurrentPrice:   d.DealPrice,
			BaselinePrice:  d.NormalPrice,
			Classification: d.Classification,
			DropPercentage: d.DiscountPercentage,
			Confidence:     d.AnomalyScore,
		}, summary)

		check := DealRecheck{
			DealID:        d.ID,
			Route:         route.Pair().String(),
			OldConfidence: d.ConfidenceScore,
			NewConfidence: v.CrossValidationScore,
			Decision:      v.Decision,
		}
		if math.Abs(check.NewConfidence-check.OldConfidence) > p.cfg.Maintain.ConfidenceDelta {
			if err := p.deals.UpdateDealConfidence(ctx, d.ID, check.NewConfidence); err != nil {
				log.Printf("[Warn] failed to update deal %s confidence: %v", d.ID, err)
			} else {
				check.Updated = true
				report.Updated++
				log.Printf("[Revalidate] %s deal %s confidence %.2f → %.2f",
					check.Route, d.ID, check.OldConfidence, check.NewConfidence)
			}
		}

		switch {
		case check.NewConfidence > 0.8:
			report.High++
		case check.NewConfidence >= 0.6:
			report.Medium++
		default:
			report.Low++
		}
		report.Processed++
		report.Results = append(report.Results, check)
	}
	log.Printf("[Revalidate] ✅ %d processed, %d updated, %d skipped", report.Processed, report.Updated, report.Skipped)
	return report, nil
}

// TierChange records one route moved between tiers.
type TierChange struct {
	RouteID       uuid.UUID `json:"route_id"`
	Route         string    `json:"route"`
	From          int       `json:"from_tier"`
	To            int       `json:"to_tier"`
	Deals         int       `json:"deals"`
	IntervalHours float64   `json:"scan_interval_hours"`
}

type TierReport struct {
	Analyzed    int          `json:"routes_analyzed"`
	Adjustments []TierChange `json:"adjustments"`
	At          time.Time    `json:"timestamp"`
}

// AdjustRouteTiers promotes routes that produced many deals over the
// performance window and demotes quiet ones, one tier per run. A moved route
// gets its new tier's default interval until the next cycle plans it.
func (p *Pipeline) AdjustRouteTiers(ctx context.Context) (TierReport, error) {
	now := p.now()
	report := TierReport{At: now}

	routes, err := p.routes.ListActiveRoutes(ctx)
	if err != nil {
		return report, fmt.Errorf("list routes: %w", err)
	}
	perf, err := p.deals.Performance(ctx, now.AddDate(0, 0, -p.cfg.Maintain.PerformanceDays))
	if err != nil {
		return report, fmt.Errorf("route performance: %w", err)
	}

	best, worst := p.cfg.TierBounds()
	m := p.cfg.Maintain
	for _, r := range routes {
		report.Analyzed++
		count := perf[r.ID].DealCount30d
		tier := r.Tier
		switch {
		case count > m.PromoteAboveDeals && tier > best:
			tier--
		case count < m.DemoteBelowDeals && tier < worst:
			tier++
		default:
			continue
		}

		change := TierChange{
			RouteID:       r.ID,
			Route:         r.Pair().String(),
			From:          r.Tier,
			To:            tier,
			Deals:         count,
			IntervalHours: p.cfg.DefaultInterval(tier),
		}
		if err := p.routes.UpdateTier(ctx, r.ID, tier, change.IntervalHours); err != nil {
			log.Printf("[Warn] failed to move %s to tier %d: %v", r.Pair(), tier, err)
			continue
		}
		verb := "Promoted"
		if tier > r.Tier {
			verb = "Demoted"
		}
		log.Printf("[Tiers] %s %s to tier %d (%d deals in %dd)", verb, r.Pair(), tier, count, m.PerformanceDays)
		report.Adjustments = append(report.Adjustments, change)
	}
	log.Printf("[Tiers] ✅ %d routes analyzed, %d adjustments", report.Analyzed, len(report.Adjustments))
	return report, nil
}
