package pricesource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/models"
)

// TravelPayouts is the secondary provider used only for cross-validation.
type TravelPayouts struct {
	client   *Client
	token    string
	currency string
	limit    int
}

func NewTravelPayouts(cfg config.ProviderConfig, opts ...Option) *TravelPayouts {
	if cfg.Name == "" {
		cfg.Name = "travelpayouts"
	}
	currency := strings.ToUpper(cfg.Currency)
	if currency == "" {
		currency = "EUR"
	}
	return &TravelPayouts{client: NewClient(cfg, opts...), token: cfg.APIKey, currency: currency, limit: 10}
}

func (t *TravelPayouts) Name() string { return t.client.Name() }

type travelPayoutsResponse struct {
	Success  *bool           `json:"success"`
	Currency string          `json:"currency"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
}

type travelPayoutsFare struct {
	Price        flexFloat `json:"price"`
	Value        flexFloat `json:"value"`
	Airline      string    `json:"airline"`
	FlightNumber flexText  `json:"flight_number"`
	DepartureAt  string    `json:"departure_at"`
	ReturnAt     string    `json:"return_at"`
}

func (t *TravelPayouts) SearchPrices(ctx context.Context, req Request) Result {
	params := url.Values{}
	params.Set("origin", strings.ToUpper(req.Origin))
	params.Set("destination", strings.ToUpper(req.Destination))
	params.Set("departure_at", req.DepartureDate.Format(dateLayout))
	if req.ReturnDate != nil {
		params.Set("return_at", req.ReturnDate.Format(dateLayout))
		params.Set("one_way", "false")
	} else {
		params.Set("one_way", "true")
	}
	params.Set("currency", strings.ToLower(t.currency))
	params.Set("sorting", "price")
	params.Set("limit", fmt.Sprint(t.limit))
	params.Set("token", t.token)

	var resp travelPayoutsResponse
	if err := t.client.getJSON(ctx, "/aviasales/v3/prices_for_dates", params, &resp); err != nil {
		log.Printf("[PriceSource] %s %s-%s failed: %v", t.Name(), req.Origin, req.Destination, err)
		return resultFor(nil, err)
	}
	if resp.Success != nil && !*resp.Success {
		return resultFor(nil, fmt.Errorf("%s reported failure: %s", t.Name(), resp.Error))
	}

	fares, err := decodeFares(resp.Data)
	if err != nil {
		return resultFor(nil, fmt.Errorf("decoding %s fares: %w", t.Name(), err))
	}

	currency := t.currency
	if resp.Currency != "" {
		currency = strings.ToUpper(t.client.Sanitize(resp.Currency))
	}

	var quotes []models.PriceQuote
	for _, f := range fares {
		price := float64(f.Price)
		if price <= 0 {
			price = float64(f.Value)
		}
		if price <= 0 {
			continue
		}
		q := models.PriceQuote{
			Price:        price,
			Currency:     currency,
			Carrier:      t.client.Sanitize(f.Airline),
			FlightNumber: t.client.Sanitize(string(f.FlightNumber)),
			DepartureAt:  parseTime(f.DepartureAt, req.DepartureDate),
		}
		if req.ReturnDate != nil {
			ret := parseTime(f.ReturnAt, *req.ReturnDate)
			q.ReturnAt = &ret
		}
		quotes = append(quotes, q)
	}
	return resultFor(quotes, nil)
}

// decodeFares accepts the v3 list form and the older keyed-object form.
func decodeFares(raw json.RawMessage) ([]travelPayoutsFare, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var keyed map[string]travelPayoutsFare
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]travelPayoutsFare, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyed[k])
		}
		return out, nil
	}
	var list []travelPayoutsFare
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// flexText decodes a JSON string or number as text.
type flexText string

func (f *flexText) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexText(strings.Trim(s, `"`))
	return nil
}
