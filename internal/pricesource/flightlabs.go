package pricesource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
)

// FlightLabs is the primary, quota-metered provider.
type FlightLabs struct {
	client   *Client
	apiKey   string
	currency string
}

func NewFlightLabs(cfg config.ProviderConfig, opts ...Option) *FlightLabs {
	if cfg.Name == "" {
		cfg.Name = "flightlabs"
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "EUR"
	}
	return &FlightLabs{client: NewClient(cfg, opts...), apiKey: cfg.APIKey, currency: currency}
}

func (f *FlightLabs) Name() string { return f.client.Name() }

type flightLabsResponse struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type flightLabsFlight struct {
	Airline      json.RawMessage `json:"airline"`
	FlightNumber string          `json:"flight_number"`
	FlightIATA   string          `json:"flight_iata"`
	Price        flexFloat       `json:"price"`
	Currency     string          `json:"currency"`
	DepTime      string          `json:"dep_time"`
	RetTime      string          `json:"ret_time"`
}

type flightLabsAirline struct {
	Name string `json:"name"`
	IATA string `json:"iata"`
	ICAO string `json:"icao"`
}

func (f *FlightLabs) SearchPrices(ctx context.Context, req Request) Result {
	params := url.Values{}
	params.Set("access_key", f.apiKey)
	params.Set("dep_iata", strings.ToUpper(req.Origin))
	params.Set("arr_iata", strings.ToUpper(req.Destination))
	params.Set("dep_schd_date", req.DepartureDate.Format(dateLayout))
	if req.ReturnDate != nil {
		params.Set("ret_schd_date", req.ReturnDate.Format(dateLayout))
	}

	var resp flightLabsResponse
	if err := f.client.getJSON(ctx, "/flights", params, &resp); err != nil {
		log.Printf("[PriceSource] %s %s-%s failed: %v", f.Name(), req.Origin, req.Destination, err)
		return resultFor(nil, err)
	}
	if resp.Success != nil && !*resp.Success {
		return resultFor(nil, fmt.Errorf("%s reported failure: %s", f.Name(), string(resp.Error)))
	}

	flights, err := decodeFlights(resp.Data)
	if err != nil {
		return resultFor(nil, fmt.Errorf("decoding %s flights: %w", f.Name(), err))
	}

	var quotes []models.PriceQuote
	for _, fl := range flights {
		if fl.Price <= 0 {
			continue
		}
		q := models.PriceQuote{
			Price:        float64(fl.Price),
			Currency:     f.currency,
			Carrier:      f.client.Sanitize(airlineName(fl.Airline)),
			FlightNumber: f.client.Sanitize(firstNonEmpty(fl.FlightNumber, fl.FlightIATA)),
			DepartureAt:  parseTime(fl.DepTime, req.DepartureDate),
		}
		if fl.Currency != "" {
			q.Currency = strings.ToUpper(f.client.Sanitize(fl.Currency))
		}
		if req.ReturnDate != nil {
			ret := parseTime(fl.RetTime, *req.ReturnDate)
			q.ReturnAt = &ret
		}
		quotes = append(quotes, q)
	}
	return resultFor(quotes, nil)
}

// decodeFlights accepts either a single flight object or a list.
func decodeFlights(raw json.RawMessage) ([]flightLabsFlight, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var one flightLabsFlight
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		return []flightLabsFlight{one}, nil
	}
	var many []flightLabsFlight
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// airlineName handles both the string and the object form of "airline".
func airlineName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var a flightLabsAirline
	if json.Unmarshal(raw, &a) == nil {
		return firstNonEmpty(a.IATA, a.Name, a.ICAO)
	}
	return ""
}

// flexFloat decodes numbers that some providers send as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*f = flexFloat(v)
	return nil
}

func parseTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
