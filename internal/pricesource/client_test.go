package pricesource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/david/fare-finder/internal/config"
)

var departure = time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC)

type callLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *callLog) record(c Call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func providerConfig(url string, retries int) config.ProviderConfig {
	return config.ProviderConfig{BaseURL: url, APIKey: "secret", MaxRetries: retries, RateLimitRPS: 1000, TimeoutSeconds: 5}
}

func roundTrip(nights int) Request {
	ret := departure.AddDate(0, 0, nights)
	return Request{Origin: "cdg", Destination: "mad", DepartureDate: departure, ReturnDate: &ret}
}

func TestFlightLabs_ParsesAndSanitizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/flights" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q.Get("access_key") != "secret" || q.Get("dep_iata") != "CDG" || q.Get("arr_iata") != "MAD" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("dep_schd_date") != "2026-04-14" || q.Get("ret_schd_date") != "2026-04-24" {
			t.Errorf("unexpected dates %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[
			{"airline":{"name":"Air France","iata":"<b>AF</b>"},"flight_number":"1000","price":120.5,"dep_time":"2026-04-14T07:10:00Z"},
			{"airline":"IB","flight_iata":"IB3401","price":"98"},
			{"airline":"UX","price":0}
		]}`))
	}))
	defer srv.Close()

	fl := NewFlightLabs(providerConfig(srv.URL, 0))
	res := fl.SearchPrices(context.Background(), roundTrip(10))
	if res.Outcome != OutcomeOK {
		t.Fatalf("expected ok, got %s (%v)", res.Outcome, res.Err)
	}
	if len(res.Quotes) != 2 {
		t.Fatalf("expected zero-price quote dropped, got %d quotes", len(res.Quotes))
	}
	first := res.Quotes[0]
	if first.Carrier != "AF" || first.FlightNumber != "1000" || first.Price != 120.5 {
		t.Fatalf("unexpected first quote %+v", first)
	}
	if first.DepartureAt.Hour() != 7 || first.ReturnAt == nil {
		t.Fatalf("expected departure time and return date, got %+v", first)
	}
	if res.Quotes[1].FlightNumber != "IB3401" || res.Quotes[1].Price != 98 {
		t.Fatalf("unexpected second quote %+v", res.Quotes[1])
	}
}

func TestFlightLabs_EmptyIsNoData(t *testing.T) {
	for _, body := range []string{`{"data":[]}`, `{"data":null}`, `{}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(body))
		}))
		res := NewFlightLabs(providerConfig(srv.URL, 0)).SearchPrices(context.Background(), roundTrip(10))
		srv.Close()
		if res.Outcome != OutcomeNoData || res.Err != nil {
			t.Fatalf("body %s: expected no_data, got %s (%v)", body, res.Outcome, res.Err)
		}
	}
}

func TestClient_RetriesAfterRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[{"airline":"AF","price":150}]}`))
	}))
	defer srv.Close()

	calls := &callLog{}
	fl := NewFlightLabs(providerConfig(srv.URL, 2), WithRecorder(calls.record), WithBackoff(time.Millisecond))
	res := fl.SearchPrices(context.Background(), roundTrip(10))
	if res.Outcome != OutcomeOK {
		t.Fatalf("expected ok after retry, got %s (%v)", res.Outcome, res.Err)
	}
	if calls.len() != 2 {
		t.Fatalf("expected every attempt recorded, got %d", calls.len())
	}
	if calls.calls[0].StatusCode != http.StatusTooManyRequests || !errors.Is(calls.calls[0].Err, ErrRateLimited) {
		t.Fatalf("expected first attempt rate limited, got %+v", calls.calls[0])
	}
	if !calls.calls[1].Success() {
		t.Fatalf("expected second attempt to succeed, got %+v", calls.calls[1])
	}
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	calls := &callLog{}
	res := NewFlightLabs(providerConfig(srv.URL, 2), WithRecorder(calls.record), WithBackoff(time.Millisecond)).
		SearchPrices(context.Background(), roundTrip(10))
	if res.Outcome != OutcomeError || !errors.Is(res.Err, ErrStatus) {
		t.Fatalf("expected status error, got %s (%v)", res.Outcome, res.Err)
	}
	if atomic.LoadInt32(&hits) != 3 || calls.len() != 3 {
		t.Fatalf("expected 3 attempts, got %d hits %d recorded", hits, calls.len())
	}
}

func TestClient_RetriesStopWhenAdmissionRefuses(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	errSpent := errors.New("budget spent")
	var admitted int32
	oneCall := func(context.Context) error {
		if atomic.AddInt32(&admitted, 1) > 1 {
			return errSpent
		}
		return nil
	}

	calls := &callLog{}
	res := NewFlightLabs(providerConfig(srv.URL, 2),
		WithAdmission(oneCall), WithRecorder(calls.record), WithBackoff(time.Millisecond)).
		SearchPrices(context.Background(), roundTrip(10))
	if res.Outcome != OutcomeError || !errors.Is(res.Err, errSpent) {
		t.Fatalf("expected refused retry, got %s (%v)", res.Outcome, res.Err)
	}
	if atomic.LoadInt32(&hits) != 1 || calls.len() != 1 {
		t.Fatalf("expected a single sent attempt, got %d hits %d recorded", hits, calls.len())
	}
}

func TestClient_RefusedBeforeFirstAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	errSpent := errors.New("budget spent")
	res := NewFlightLabs(providerConfig(srv.URL, 2),
		WithAdmission(func(context.Context) error { return errSpent })).
		SearchPrices(context.Background(), roundTrip(10))
	if !errors.Is(res.Err, errSpent) {
		t.Fatalf("expected refusal, got %s (%v)", res.Outcome, res.Err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected nothing sent, got %d hits", hits)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	res := NewFlightLabs(providerConfig(srv.URL, 3), WithBackoff(time.Millisecond)).SearchPrices(context.Background(), roundTrip(10))
	if res.Outcome != OutcomeError {
		t.Fatalf("expected error, got %s", res.Outcome)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single attempt, got %d", hits)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewFlightLabs(providerConfig(srv.URL, 3)).SearchPrices(ctx, roundTrip(10))
	if res.Outcome != OutcomeError || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %s (%v)", res.Outcome, res.Err)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tc := range tests {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Retry-After", tc.header)
		if got := retryAfter(resp); got != tc.want {
			t.Fatalf("Retry-After %q: expected %s, got %s", tc.header, tc.want, got)
		}
	}
}

func TestTravelPayouts_ListAndKeyedForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []float64
	}{
		{"v3 list", `{"success":true,"currency":"eur","data":[{"price":160,"airline":"AF","flight_number":1234},{"price":175,"airline":"IB"}]}`, []float64{160, 175}},
		{"keyed object", `{"success":true,"data":{"b":{"value":190,"airline":"UX"},"a":{"value":170,"airline":"VY"}}}`, []float64{170, 190}},
		{"empty", `{"success":true,"data":[]}`, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if r.URL.Path != "/aviasales/v3/prices_for_dates" || q.Get("token") != "secret" || q.Get("one_way") != "false" {
					t.Errorf("unexpected request %s", r.URL.String())
				}
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res := NewTravelPayouts(providerConfig(srv.URL, 0)).SearchPrices(context.Background(), roundTrip(10))
			if len(tc.want) == 0 {
				if res.Outcome != OutcomeNoData {
					t.Fatalf("expected no_data, got %s", res.Outcome)
				}
				return
			}
			if res.Outcome != OutcomeOK || len(res.Quotes) != len(tc.want) {
				t.Fatalf("expected %d quotes, got %+v", len(tc.want), res)
			}
			for i, p := range tc.want {
				if res.Quotes[i].Price != p || res.Quotes[i].Currency != "EUR" {
					t.Fatalf("quote %d: expected %v EUR, got %+v", i, p, res.Quotes[i])
				}
			}
		})
	}
}

func TestTravelPayouts_OneWaySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("one_way") != "true" || q.Has("return_at") {
			t.Errorf("expected one-way query, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"success":true,"data":[{"price":80,"airline":"AF"}]}`))
	}))
	defer srv.Close()

	res := NewTravelPayouts(providerConfig(srv.URL, 0)).SearchPrices(context.Background(),
		Request{Origin: "CDG", Destination: "MAD", DepartureDate: departure})
	if res.Outcome != OutcomeOK || res.Quotes[0].ReturnAt != nil {
		t.Fatalf("expected one-way quote, got %+v", res)
	}
}

func TestTravelPayouts_ReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":false,"error":"invalid token"}`))
	}))
	defer srv.Close()

	res := NewTravelPayouts(providerConfig(srv.URL, 0)).SearchPrices(context.Background(), roundTrip(10))
	if res.Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %s", res.Outcome)
	}
}
