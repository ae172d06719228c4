package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/payments"
)

// ErrPaymentFailed wraps any failure to place the authorisation hold.
var ErrPaymentFailed = errors.New("payment hold failed")

type Reservations interface {
	Reserve(ctx context.Context, tripID string, seats int) (models.ReservationToken, error)
	Confirm(ctx context.Context, token string) (models.ReservationToken, error)
	Release(ctx context.Context, token string) (models.ReservationToken, error)
}

type Payments interface {
	Hold(ctx context.Context, req payments.HoldRequest) (string, error)
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Request struct {
	DriverTripID string `json:"driver_trip_id"`
	Seats        int    `json:"seats"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	CustomerID   string `json:"customer_id,omitempty"`
}

func (r Request) Validate() error {
	if r.DriverTripID == "" {
		return fmt.Errorf("%w: driver_trip_id is required", models.ErrInvalidRequest)
	}
	if r.Seats < 1 {
		return fmt.Errorf("%w: seats must be >= 1", models.ErrInvalidRequest)
	}
	if r.AmountMinor <= 0 {
		return fmt.Errorf("%w: amount_minor must be > 0", models.ErrInvalidRequest)
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO code", models.ErrInvalidRequest)
	}
	return nil
}

type Booking struct {
	Reservation     models.ReservationToken `json:"reservation"`
	PaymentIntentID string                  `json:"payment_intent_id"`
}

// Service books seats: reserve, hold payment, confirm. Any failure after the
// reserve runs the compensating release so no seat stays orphaned.
type Service struct {
	Reservations Reservations
	Payments     Payments
	Logger       *slog.Logger
}

func (s *Service) Book(ctx context.Context, req Request) (Booking, error) {
	if err := req.Validate(); err != nil {
		return Booking{}, err
	}

	tok, err := s.Reservations.Reserve(ctx, req.DriverTripID, req.Seats)
	if err != nil {
		return Booking{}, err
	}

	piID, err := s.Payments.Hold(ctx, payments.HoldRequest{
		Amount:     req.AmountMinor,
		Currency:   strings.ToLower(req.Currency),
		CustomerID: req.CustomerID,
		Metadata: map[string]string{
			"driver_trip_id":    tok.TripID,
			"reservation_token": tok.ID,
		},
	})
	if err != nil {
		s.release(ctx, tok.ID)
		return Booking{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	confirmed, err := s.Reservations.Confirm(ctx, tok.ID)
	if err != nil {
		if cerr := s.Payments.Cancel(ctx, piID); cerr != nil {
			s.logger().Error("payment cancel failed", "payment_intent_id", piID, "token", tok.ID, "error", cerr)
		}
		s.release(ctx, tok.ID)
		return Booking{}, err
	}

	s.logger().Info("booking_confirmed",
		"token", confirmed.ID, "driver_trip_id", confirmed.TripID,
		"seats", confirmed.Seats, "payment_intent_id", piID)
	return Booking{Reservation: confirmed, PaymentIntentID: piID}, nil
}

// release is best-effort; the reaper picks up anything it leaves behind.
func (s *Service) release(ctx context.Context, token string) {
	if _, err := s.Reservations.Release(ctx, token); err != nil && !errors.Is(err, models.ErrAlreadyReleased) {
		s.logger().Error("compensating release failed", "token", token, "error", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
