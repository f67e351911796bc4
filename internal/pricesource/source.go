package pricesource

import (
	"context"
	"time"

	"github.com/david/fare-finder/internal/models"
)

// Outcome separates "the provider answered with nothing" from "the provider
// could not be reached".
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeNoData Outcome = "no_data"
	OutcomeError  Outcome = "error"
)

// Request is a single fare search. A nil ReturnDate asks for one-way fares.
type Request struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
}

func (r Request) RoundTrip() bool { return r.ReturnDate != nil }

type Result struct {
	Outcome Outcome
	Quotes  []models.PriceQuote
	Err     error
}

// Source is a fare provider.
type Source interface {
	Name() string
	SearchPrices(ctx context.Context, req Request) Result
}

// Call describes one HTTP attempt against a provider.
type Call struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Err        error
	Duration   time.Duration
	At         time.Time
}

func (c Call) Success() bool { return c.Err == nil && c.StatusCode == 200 }

// CallRecorder receives every attempt, retries included.
type CallRecorder func(Call)

// Admission decides whether an attempt may be sent. A non-nil error aborts
// the request without contacting the provider.
type Admission func(ctx context.Context) error

func resultFor(quotes []models.PriceQuote, err error) Result {
	if err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	if len(quotes) == 0 {
		return Result{Outcome: OutcomeNoData}
	}
	return Result{Outcome: OutcomeOK, Quotes: quotes}
}

const dateLayout = "2006-01-02"
