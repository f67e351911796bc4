package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const routeCols = `id, origin, destination, tier, region,
	min_stay_nights, max_stay_nights, min_advance_days, max_advance_days,
	allow_mon_wed, allow_tue_fri, allow_wed_sun, active, seasonal,
	daily_scans, scan_interval_hours, scan_count, last_scanned_at, created_at, updated_at`

func scanRoute(scan func(dest ...any) error) (models.Route, error) {
	var r models.Route
	var region string
	err := scan(
		&r.ID, &r.Origin, &r.Destination, &r.Tier, &region,
		&r.MinStayNights, &r.MaxStayNights, &r.MinAdvanceDays, &r.MaxAdvanceDays,
		&r.AllowMonWed, &r.AllowTueFri, &r.AllowWedSun, &r.Active, &r.Seasonal,
		&r.DailyScans, &r.ScanIntervalHours, &r.ScanCount, &r.LastScannedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	r.Region = models.Region(region)
	return r, err
}

// ListRoutes returns routes ordered by tier then pair.
func (s *Store) ListRoutes(ctx context.Context, activeOnly bool) ([]models.Route, error) {
	sql := fmt.Sprintf("SELECT %s FROM routes", routeCols)
	if activeOnly {
		sql += " WHERE active = true"
	}
	sql += " ORDER BY tier, origin, destination"

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var routes []models.Route
	for rows.Next() {
		r, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *Store) ListActiveRoutes(ctx context.Context) ([]models.Route, error) {
	return s.ListRoutes(ctx, true)
}

func (s *Store) GetRoute(ctx context.Context, id uuid.UUID) (*models.Route, error) {
	sql := fmt.Sprintf("SELECT %s FROM routes WHERE id = $1", routeCols)
	r, err := scanRoute(s.pool.QueryRow(ctx, sql, id).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("route %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	return &r, nil
}

// UpsertRoute inserts a route or refreshes the configured fields of the
// existing route with the same pair. Scan history and the tier, which route
// performance adjusts after the first insert, are left untouched.
func (s *Store) UpsertRoute(ctx context.Context, r *models.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO routes (id, origin, destination, tier, region,
			min_stay_nights, max_stay_nights, min_advance_days, max_advance_days,
			allow_mon_wed, allow_tue_fri, allow_wed_sun, active, seasonal, scan_interval_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (origin, destination) DO UPDATE SET
			region = EXCLUDED.region,
			min_stay_nights = EXCLUDED.min_stay_nights,
			max_stay_nights = EXCLUDED.max_stay_nights,
			min_advance_days = EXCLUDED.min_advance_days,
			max_advance_days = EXCLUDED.max_advance_days,
			allow_mon_wed = EXCLUDED.allow_mon_wed,
			allow_tue_fri = EXCLUDED.allow_tue_fri,
			allow_wed_sun = EXCLUDED.allow_wed_sun,
			active = EXCLUDED.active,
			seasonal = routes.seasonal AND EXCLUDED.seasonal,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		r.ID, r.Origin, r.Destination, r.Tier, string(r.Region),
		r.MinStayNights, r.MaxStayNights, r.MinAdvanceDays, r.MaxAdvanceDays,
		r.AllowMonWed, r.AllowTueFri, r.AllowWedSun, r.Active, r.Seasonal, r.ScanIntervalHours,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

// CreateRoute inserts a route unless its pair is already tracked, in which
// case r is refreshed with the stored row and created is false.
func (s *Store) CreateRoute(ctx context.Context, r *models.Route) (created bool, err error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO routes (id, origin, destination, tier, region,
			min_stay_nights, max_stay_nights, min_advance_days, max_advance_days,
			allow_mon_wed, allow_tue_fri, allow_wed_sun, active, seasonal, scan_interval_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (origin, destination) DO NOTHING`,
		r.ID, r.Origin, r.Destination, r.Tier, string(r.Region),
		r.MinStayNights, r.MaxStayNights, r.MinAdvanceDays, r.MaxAdvanceDays,
		r.AllowMonWed, r.AllowTueFri, r.AllowWedSun, r.Active, r.Seasonal, r.ScanIntervalHours,
	)
	if err != nil {
		return false, fmt.Errorf("create route %s: %w", r.Pair(), err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	sql := fmt.Sprintf("SELECT %s FROM routes WHERE origin = $1 AND destination = $2", routeCols)
	existing, err := scanRoute(s.pool.QueryRow(ctx, sql, r.Origin, r.Destination).Scan)
	if err != nil {
		return false, fmt.Errorf("load route %s: %w", r.Pair(), err)
	}
	*r = existing
	return false, nil
}

// UpdateScanPlan stores the allocation computed for a route.
func (s *Store) UpdateScanPlan(ctx context.Context, routeID uuid.UUID, dailyScans int, intervalHours float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE routes SET daily_scans = $2, scan_interval_hours = $3, updated_at = NOW()
		WHERE id = $1`, routeID, dailyScans, intervalHours)
	if err != nil {
		return fmt.Errorf("update scan plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	return nil
}

// UpdateTier moves a route to another tier and resets its interval.
func (s *Store) UpdateTier(ctx context.Context, routeID uuid.UUID, tier int, intervalHours float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE routes SET tier = $2, scan_interval_hours = $3, updated_at = NOW()
		WHERE id = $1`, routeID, tier, intervalHours)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	return nil
}

func (s *Store) MarkScanned(ctx context.Context, routeID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE routes SET scan_count = scan_count + 1, last_scanned_at = $2, updated_at = NOW()
		WHERE id = $1`, routeID, at)
	if err != nil {
		return fmt.Errorf("mark scanned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	return nil
}
