package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const dealCols = `id, route_id, price_sample_id, normal_price, deal_price, currency,
	discount_percentage, confidence_score, anomaly_score, classification, decision,
	is_error_fare, state, departure_date, return_date, stay_duration_nights,
	advance_booking_days, carrier, detected_at, expires_at`

const maxDealPage = 500

func scanDeal(scan func(dest ...any) error) (models.Deal, error) {
	var d models.Deal
	var sampleID *uuid.UUID
	var class, decision, state string
	err := scan(
		&d.ID, &d.RouteID, &sampleID, &d.NormalPrice, &d.DealPrice, &d.Currency,
		&d.DiscountPercentage, &d.ConfidenceScore, &d.AnomalyScore, &class, &decision,
		&d.IsErrorFare, &state, &d.DepartureDate, &d.ReturnDate, &d.StayDurationNights,
		&d.AdvanceBookingDays, &d.Carrier, &d.DetectedAt, &d.ExpiresAt,
	)
	if sampleID != nil {
		d.PriceSampleID = *sampleID
	}
	d.Classification = models.Classification(class)
	d.Decision = models.Decision(decision)
	d.State = models.DealState(state)
	return d, err
}

func (s *Store) CreateDeal(ctx context.Context, d *models.Deal) error {
	var sampleID *uuid.UUID
	if d.PriceSampleID != uuid.Nil {
		sampleID = &d.PriceSampleID
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO deals (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`, dealCols),
		d.ID, d.RouteID, sampleID, d.NormalPrice, d.DealPrice, d.Currency,
		d.DiscountPercentage, d.ConfidenceScore, d.AnomalyScore, string(d.Classification), string(d.Decision),
		d.IsErrorFare, string(d.State), d.DepartureDate, d.ReturnDate, d.StayDurationNights,
		d.AdvanceBookingDays, d.Carrier, d.DetectedAt, d.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// FindActiveDeal returns the cheapest active deal for the route and travel
// dates, or nil when there is none.
func (s *Store) FindActiveDeal(ctx context.Context, routeID uuid.UUID, departure, ret time.Time) (*models.Deal, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM deals
		WHERE route_id = $1 AND state = 'active'
		  AND departure_date = $2::date AND return_date = $3::date
		ORDER BY deal_price ASC
		LIMIT 1`, dealCols)
	d, err := scanDeal(s.pool.QueryRow(ctx, sql, routeID, departure, ret).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active deal: %w", err)
	}
	return &d, nil
}

// ExpireDeals moves active deals past expires_at to expired.
func (s *Store) ExpireDeals(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deals SET state = 'expired'
		WHERE state = 'active' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire deals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// buildDealListQuery filters by state (empty lists all) and caps the page.
func buildDealListQuery(state models.DealState, limit int) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	if state != "" {
		args = append(args, string(state))
		where += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if limit <= 0 || limit > maxDealPage {
		limit = 50
	}
	args = append(args, limit)
	sql := fmt.Sprintf("SELECT %s FROM deals %s ORDER BY detected_at DESC LIMIT $%d", dealCols, where, len(args))
	return sql, args
}

func (s *Store) UpdateDealConfidence(ctx context.Context, id uuid.UUID, score float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE deals SET confidence_score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("update deal confidence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) ListDeals(ctx context.Context, state models.DealState, limit int) ([]models.Deal, error) {
	sql, args := buildDealListQuery(state, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var out []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Performance aggregates deal history per route. Counts and averages cover
// deals detected since the cutoff; LastDealAt covers all time.
func (s *Store) Performance(ctx context.Context, since time.Time) (map[uuid.UUID]models.RoutePerformance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT route_id,
			COUNT(*) FILTER (WHERE detected_at >= $1),
			COALESCE(AVG(discount_percentage) FILTER (WHERE detected_at >= $1), 0)::float8,
			MAX(detected_at)
		FROM deals
		GROUP BY route_id`, since)
	if err != nil {
		return nil, fmt.Errorf("route performance: %w", err)
	}
	defer rows.Close()

	perf := make(map[uuid.UUID]models.RoutePerformance)
	for rows.Next() {
		var p models.RoutePerformance
		var last time.Time
		if err := rows.Scan(&p.RouteID, &p.DealCount30d, &p.AvgDiscount30d, &last); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		p.LastDealAt = &last
		perf[p.RouteID] = p
	}
	return perf, rows.Err()
}
