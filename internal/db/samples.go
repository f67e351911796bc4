package db

import (
	"context"
	"fmt"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppendSamples bulk-inserts price observations with COPY.
func (s *Store) AppendSamples(ctx context.Context, samples []models.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(samples))
	for i := range samples {
		p := &samples[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		rows = append(rows, []any{
			p.ID, p.RouteID, p.Price, p.Currency, p.Source, p.Carrier, p.FlightNumber,
			p.DepartureDate, p.ReturnDate, p.ObservedAt,
		})
	}

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"price_samples"},
		[]string{"id", "route_id", "price", "currency", "source", "carrier", "flight_number",
			"departure_date", "return_date", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy price samples: %w", err)
	}
	if int(n) != len(samples) {
		return fmt.Errorf("copy price samples: wrote %d of %d", n, len(samples))
	}
	return nil
}

// History returns the route's prices observed at or after since, oldest first.
func (s *Store) History(ctx context.Context, routeID uuid.UUID, since time.Time) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT price::float8 FROM price_samples
		WHERE route_id = $1 AND observed_at >= $2
		ORDER BY observed_at ASC, id ASC`, routeID, since)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// HistoricalRange reports the min and mean route price since the cutoff.
// Both are zero without history.
func (s *Store) HistoricalRange(ctx context.Context, routeID uuid.UUID, since time.Time) (minPrice, avgPrice float64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(MIN(price), 0)::float8, COALESCE(AVG(price), 0)::float8
		FROM price_samples WHERE route_id = $1 AND observed_at >= $2`, routeID, since).Scan(&minPrice, &avgPrice)
	if err != nil {
		return 0, 0, fmt.Errorf("historical range: %w", err)
	}
	return minPrice, avgPrice, nil
}
