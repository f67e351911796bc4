package models

import (
	"time"

	"github.com/google/uuid"
)

type Classification string

const (
	ClassNormal    Classification = "normal"
	ClassGoodDeal  Classification = "good_deal"
	ClassGreatDeal Classification = "great_deal"
	ClassErrorFare Classification = "error_fare"
)

type Decision string

const (
	DecisionApproveHigh   Decision = "approve_high_confidence"
	DecisionApproveMedium Decision = "approve_medium_confidence"
	DecisionApproveLow    Decision = "approve_low_confidence"
	DecisionReview        Decision = "review_required"
	DecisionReject        Decision = "reject"
)

func (d Decision) Approved() bool {
	switch d {
	case DecisionApproveHigh, DecisionApproveMedium, DecisionApproveLow:
		return true
	}
	return false
}

type DealState string

const (
	DealActive   DealState = "active"
	DealExpired  DealState = "expired"
	DealRejected DealState = "rejected"
)

type Deal struct {
	ID                 uuid.UUID      `json:"id"`
	RouteID            uuid.UUID      `json:"route_id"`
	PriceSampleID      uuid.UUID      `json:"price_sample_id"`
	NormalPrice        float64        `json:"normal_price"`
	DealPrice          float64        `json:"deal_price"`
	Currency           string         `json:"currency"`
	DiscountPercentage float64        `json:"discount_percentage"`
	ConfidenceScore    float64        `json:"confidence_score"`
	AnomalyScore       float64        `json:"anomaly_score"`
	Classification     Classification `json:"classification"`
	Decision           Decision       `json:"decision"`
	IsErrorFare        bool           `json:"is_error_fare"`
	State              DealState      `json:"state"`
	DepartureDate      time.Time      `json:"departure_date"`
	ReturnDate         time.Time      `json:"return_date"`
	StayDurationNights int            `json:"stay_duration_nights"`
	AdvanceBookingDays int            `json:"advance_booking_days"`
	Carrier            string         `json:"carrier,omitempty"`
	DetectedAt         time.Time      `json:"detected_at"`
	ExpiresAt          time.Time      `json:"expires_at"`
}

func (d Deal) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// RoutePerformance summarizes a route's recent deal history.
type RoutePerformance struct {
	RouteID        uuid.UUID  `json:"route_id"`
	DealCount30d   int        `json:"deal_count_30d"`
	AvgDiscount30d float64    `json:"avg_discount_30d"`
	LastDealAt     *time.Time `json:"last_deal_at,omitempty"`
}
