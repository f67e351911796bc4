package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/david/fare-finder/internal/models"
)

// Alerter is handed every deal that becomes active. Delivery to end users
// happens downstream.
type Alerter interface {
	DealActivated(ctx context.Context, d models.Deal, route models.Route) error
}

// Message is the payload published for an activated deal.
type Message struct {
	DealID         string                `json:"deal_id"`
	Route          string                `json:"route"`
	Origin         string                `json:"origin"`
	Destination    string                `json:"destination"`
	Classification models.Classification `json:"classification"`
	Decision       models.Decision       `json:"decision"`
	NormalPrice    float64               `json:"normal_price"`
	DealPrice      float64               `json:"deal_price"`
	Currency       string                `json:"currency"`
	DiscountPct    float64               `json:"discount_percentage"`
	Confidence     float64               `json:"confidence"`
	DepartureDate  string                `json:"departure_date"`
	ReturnDate     string                `json:"return_date"`
	StayNights     int                   `json:"stay_nights"`
	Carrier        string                `json:"carrier,omitempty"`
	DetectedAt     time.Time             `json:"detected_at"`
	ExpiresAt      time.Time             `json:"expires_at"`
}

func NewMessage(d models.Deal, route models.Route) Message {
	return Message{
		DealID:         d.ID.String(),
		Route:          route.Pair().String(),
		Origin:         route.Origin,
		Destination:    route.Destination,
		Classification: d.Classification,
		Decision:       d.Decision,
		NormalPrice:    d.NormalPrice,
		DealPrice:      d.DealPrice,
		Currency:       d.Currency,
		DiscountPct:    d.DiscountPercentage,
		Confidence:     d.ConfidenceScore,
		DepartureDate:  d.DepartureDate.Format("2006-01-02"),
		ReturnDate:     d.ReturnDate.Format("2006-01-02"),
		StayNights:     d.StayDurationNights,
		Carrier:        d.Carrier,
		DetectedAt:     d.DetectedAt,
		ExpiresAt:      d.ExpiresAt,
	}
}

// Summary is a one-line human description of the deal.
func (m Message) Summary() string {
	label := "Deal"
	switch m.Classification {
	case models.ClassErrorFare:
		label = "🚨 Error fare"
	case models.ClassGreatDeal:
		label = "🔥 Great deal"
	case models.ClassGoodDeal:
		label = "✈️ Good deal"
	}
	return fmt.Sprintf("%s %s: %.2f %s instead of %.2f (-%.0f%%), %s to %s, expires %s",
		label, m.Route, m.DealPrice, m.Currency, m.NormalPrice, m.DiscountPct,
		m.DepartureDate, m.ReturnDate, m.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"))
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) DealActivated(_ context.Context, d models.Deal, route models.Route) error {
	log.Printf("[Alert] %s", NewMessage(d, route).Summary())
	return nil
}

// Multi fans an alert out to several alerters and joins their errors.
type Multi []Alerter

func (m Multi) DealActivated(ctx context.Context, d models.Deal, route models.Route) error {
	var errs []error
	for _, a := range m {
		if err := a.DealActivated(ctx, d, route); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
