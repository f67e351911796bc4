package db

import (
	"context"
	"fmt"
	"time"
)

type APICall struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Success    bool
	Error      string
	Duration   time.Duration
	CalledAt   time.Time
}

type DayCount struct {
	Day     time.Time `json:"day"`
	Calls   int       `json:"calls"`
	Failed  int       `json:"failed"`
	Average float64   `json:"avg_ms"`
}

func (s *Store) LogAPICall(ctx context.Context, c APICall) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_calls (provider, endpoint, status_code, success, error, duration_ms, called_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.Provider, c.Endpoint, c.StatusCode, c.Success, c.Error, c.Duration.Milliseconds(), c.CalledAt)
	if err != nil {
		return fmt.Errorf("log api call: %w", err)
	}
	return nil
}

// CountAPICalls counts a provider's calls since each cutoff. The ledger uses
// it to resume after a restart.
func (s *Store) CountAPICalls(ctx context.Context, provider string, dayStart, monthStart time.Time) (today, month int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE called_at >= $2), COUNT(*)
		FROM api_calls
		WHERE provider = $1 AND called_at >= $3`, provider, dayStart, monthStart).Scan(&today, &month)
	if err != nil {
		return 0, 0, fmt.Errorf("count api calls: %w", err)
	}
	return today, month, nil
}

// DailyCallCounts groups a provider's calls by local day, newest first.
func (s *Store) DailyCallCounts(ctx context.Context, provider string, since time.Time, loc *time.Location) ([]DayCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT (called_at AT TIME ZONE $3)::date AS day,
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(AVG(duration_ms), 0)::float8
		FROM api_calls
		WHERE provider = $1 AND called_at >= $2
		GROUP BY day
		ORDER BY day DESC`, provider, since, loc.String())
	if err != nil {
		return nil, fmt.Errorf("daily call counts: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Day, &d.Calls, &d.Failed, &d.Average); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
