package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

var detected = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

func sampleDeal() (models.Deal, models.Route) {
	route := models.Route{ID: uuid.New(), Origin: "CDG", Destination: "MAD", Tier: 1, Region: models.RegionPopular}
	d := models.Deal{
		ID:                 uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		RouteID:            route.ID,
		NormalPrice:        180,
		DealPrice:          50,
		Currency:           "EUR",
		DiscountPercentage: 72.22,
		ConfidenceScore:    1,
		Classification:     models.ClassErrorFare,
		Decision:           models.DecisionApproveHigh,
		DepartureDate:      time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC),
		ReturnDate:         time.Date(2026, 4, 24, 0, 0, 0, 0, time.UTC),
		StayDurationNights: 10,
		DetectedAt:         detected,
		ExpiresAt:          detected.Add(6 * time.Hour),
	}
	return d, route
}

func TestMessage_Summary(t *testing.T) {
	d, route := sampleDeal()
	msg := NewMessage(d, route)
	if msg.Route != "CDG-MAD" || msg.DepartureDate != "2026-04-14" || msg.StayNights != 10 {
		t.Fatalf("unexpected message %+v", msg)
	}
	s := msg.Summary()
	for _, want := range []string{"Error fare", "CDG-MAD", "50.00 EUR", "180.00", "-72%", "18:00 UTC"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in summary %q", want, s)
		}
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid body: %v", err)
		}
	}))
	defer srv.Close()

	d, route := sampleDeal()
	if err := NewWebhookNotifier(srv.URL).DealActivated(context.Background(), d, route); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.MsgType != "text" || got.Deal.DealID != d.ID.String() || !strings.Contains(got.Content.Text, "CDG-MAD") {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifier_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, route := sampleDeal()
	if err := NewWebhookNotifier(srv.URL).DealActivated(context.Background(), d, route); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhookNotifier_DisabledIsNoop(t *testing.T) {
	d, route := sampleDeal()
	if err := NewWebhookNotifier("").DealActivated(context.Background(), d, route); err != nil {
		t.Fatalf("expected disabled notifier to succeed, got %v", err)
	}
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (c *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPPublisher_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "deals.activated")
	d, route := sampleDeal()

	if err := p.DealActivated(context.Background(), d, route); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.published) != 1 || ch.keys[0] != "deals.activated" {
		t.Fatalf("expected one message on deals.activated, got %v", ch.keys)
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.MessageId != d.ID.String() {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var body Message
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.Classification != models.ClassErrorFare {
		t.Fatalf("unexpected body %s (%v)", msg.Body, err)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	ok := &fakeChannel{}
	m := Multi{LogNotifier{}, newAMQPPublisher(&fakeChannel{err: boom}, "q"), newAMQPPublisher(ok, "q")}

	d, route := sampleDeal()
	err := m.DealActivated(context.Background(), d, route)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined broker error, got %v", err)
	}
	if len(ok.published) != 1 {
		t.Fatal("a failing alerter must not stop the others")
	}
}
