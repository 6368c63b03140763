package services

import (
	"fmt"
	"time"

	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/models"
)

// CancellationPolicy computes the fee charged for cancelling a booking from
// the time left until the trip starts
type CancellationPolicy struct {
	location       *time.Location
	shortNotice    time.Duration
	midNotice      time.Duration
	shortNoticeFee models.Money
	midNoticeFee   models.Money
}

// DefaultCancellationPolicy charges 50.00 under 24h, 20.00 under 72h and nothing otherwise
func DefaultCancellationPolicy(loc *time.Location) *CancellationPolicy {
	return &CancellationPolicy{
		location:       loc,
		shortNotice:    24 * time.Hour,
		midNotice:      72 * time.Hour,
		shortNoticeFee: models.MustParseMoney("50.00"),
		midNoticeFee:   models.MustParseMoney("20.00"),
	}
}

// NewCancellationPolicy builds the policy from configuration
func NewCancellationPolicy(cfg config.CancellationConfig, loc *time.Location) (*CancellationPolicy, error) {
	shortFee, err := models.ParseMoney(cfg.ShortNoticeFee)
	if err != nil {
		return nil, fmt.Errorf("invalid short notice fee: %w", err)
	}
	midFee, err := models.ParseMoney(cfg.MidNoticeFee)
	if err != nil {
		return nil, fmt.Errorf("invalid mid notice fee: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CancellationPolicy{
		location:       loc,
		shortNotice:    cfg.ShortNotice,
		midNotice:      cfg.MidNotice,
		shortNoticeFee: shortFee,
		midNoticeFee:   midFee,
	}, nil
}

// ComputeFee returns the fee for cancelling b at now. A trip already under
// way or in the past falls in the short notice tier.
func (p *CancellationPolicy) ComputeFee(b *models.Booking, now time.Time) (models.Money, error) {
	start, err := b.TripStart(p.location)
	if err != nil {
		return 0, err
	}

	untilTrip := start.Sub(now)
	switch {
	case untilTrip < p.shortNotice:
		return p.shortNoticeFee, nil
	case untilTrip < p.midNotice:
		return p.midNoticeFee, nil
	default:
		return 0, nil
	}
}

// Location is the zone trip dates and times are read in
func (p *CancellationPolicy) Location() *time.Location {
	return p.location
}
