package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
)

const DefaultHoldTTL = 10 * time.Minute

// SeatStore is the slice of the trip repository the coordinator mutates.
type SeatStore interface {
	AdjustSeats(ctx context.Context, tripID string, delta int) (models.DriverTrip, error)
}

type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Coordinator owns the reservation lifecycle PENDING -> RESERVED ->
// {CONFIRMED | RELEASED}. Seats move only through SeatStore.AdjustSeats, so
// every reserve and release is one atomic relative update.
type Coordinator struct {
	Seats   SeatStore
	Ledger  Ledger
	Events  Publisher // optional
	Logger  *slog.Logger
	HoldTTL time.Duration
	Now     func() time.Time
	NewID   func() string
}

// Reserve takes seats on tripID. Losing a race surfaces as a ConflictError;
// a ledger failure after the seats were taken gives them back before
// returning.
func (c *Coordinator) Reserve(ctx context.Context, tripID string, seats int) (models.ReservationToken, error) {
	if tripID == "" {
		return models.ReservationToken{}, fmt.Errorf("%w: driver_trip_id is required", models.ErrInvalidRequest)
	}
	if seats < 1 {
		return models.ReservationToken{}, fmt.Errorf("%w: seats must be >= 1", models.ErrInvalidRequest)
	}

	now := c.now()
	tok := models.ReservationToken{
		ID:        c.newID(),
		TripID:    tripID,
		Seats:     seats,
		State:     models.ReservationPending,
		CreatedAt: now,
	}

	trip, err := c.Seats.AdjustSeats(ctx, tripID, -seats)
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("reserve", outcome(err)).Inc()
		return models.ReservationToken{}, err
	}

	tok.State = models.ReservationReserved
	tok.DriverID = trip.DriverID
	tok.ExpiresAt = now.Add(c.holdTTL())
	if err := c.Ledger.Create(ctx, tok); err != nil {
		if _, cerr := c.Seats.AdjustSeats(ctx, tripID, seats); cerr != nil {
			c.logger().Error("reserve compensation failed",
				"driver_trip_id", tripID, "seats", seats, "error", cerr)
		}
		observability.ReservationsTotal.WithLabelValues("reserve", "error").Inc()
		return models.ReservationToken{}, fmt.Errorf("record reservation: %w", err)
	}

	observability.ReservationsTotal.WithLabelValues("reserve", "reserved").Inc()
	c.logger().Info("seats_reserved",
		"token", tok.ID, "driver_trip_id", tripID, "seats", seats,
		"available_seats", trip.AvailableSeats, "expires_at", tok.ExpiresAt)
	c.publish(ctx, models.EventReservationReserved, tok)
	return tok, nil
}

// Confirm hands the seats to the booking flow. Confirming twice is a no-op.
func (c *Coordinator) Confirm(ctx context.Context, token string) (models.ReservationToken, error) {
	prev, ok, err := c.Ledger.Transition(ctx, token,
		[]models.ReservationState{models.ReservationReserved}, models.ReservationConfirmed)
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("confirm", outcome(err)).Inc()
		return models.ReservationToken{}, err
	}
	if !ok {
		switch prev {
		case models.ReservationConfirmed:
			observability.ReservationsTotal.WithLabelValues("confirm", "noop").Inc()
			return c.Ledger.Get(ctx, token)
		case models.ReservationReleased:
			observability.ReservationsTotal.WithLabelValues("confirm", string(models.AlreadyReleased)).Inc()
			return models.ReservationToken{}, &models.ConflictError{Kind: models.AlreadyReleased, Token: token}
		default:
			observability.ReservationsTotal.WithLabelValues("confirm", string(models.InvalidToken)).Inc()
			return models.ReservationToken{}, &models.ConflictError{Kind: models.InvalidToken, Token: token}
		}
	}

	tok, err := c.Ledger.Get(ctx, token)
	if err != nil {
		return models.ReservationToken{}, err
	}
	observability.ReservationsTotal.WithLabelValues("confirm", "confirmed").Inc()
	c.logger().Info("reservation_confirmed", "token", token, "driver_trip_id", tok.TripID, "seats", tok.Seats)
	c.publish(ctx, models.EventReservationConfirm, tok)
	return tok, nil
}

// Release is the compensating step: it returns the held seats with a
// relative increment. Releasing twice is a no-op; a confirmed reservation
// belongs to the booking flow and cannot be released here.
func (c *Coordinator) Release(ctx context.Context, token string) (models.ReservationToken, error) {
	prev, ok, err := c.Ledger.Transition(ctx, token,
		[]models.ReservationState{models.ReservationReserved}, models.ReservationReleased)
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("release", outcome(err)).Inc()
		return models.ReservationToken{}, err
	}
	if !ok {
		switch prev {
		case models.ReservationReleased:
			observability.ReservationsTotal.WithLabelValues("release", "noop").Inc()
			return c.Ledger.Get(ctx, token)
		case models.ReservationConfirmed:
			observability.ReservationsTotal.WithLabelValues("release", string(models.AlreadyConfirmed)).Inc()
			return models.ReservationToken{}, &models.ConflictError{Kind: models.AlreadyConfirmed, Token: token}
		default:
			observability.ReservationsTotal.WithLabelValues("release", string(models.InvalidToken)).Inc()
			return models.ReservationToken{}, &models.ConflictError{Kind: models.InvalidToken, Token: token}
		}
	}

	tok, err := c.Ledger.Get(ctx, token)
	if err != nil {
		c.revertRelease(ctx, token)
		return models.ReservationToken{}, err
	}
	trip, err := c.Seats.AdjustSeats(ctx, tok.TripID, tok.Seats)
	if err != nil {
		// seats were not returned; keep the hold so a retry can release it
		c.revertRelease(ctx, token)
		observability.ReservationsTotal.WithLabelValues("release", "error").Inc()
		return models.ReservationToken{}, fmt.Errorf("return seats: %w", err)
	}

	observability.ReservationsTotal.WithLabelValues("release", "released").Inc()
	observability.SeatsReleased.Add(float64(tok.Seats))
	c.logger().Info("reservation_released",
		"token", token, "driver_trip_id", tok.TripID, "seats", tok.Seats,
		"available_seats", trip.AvailableSeats)
	c.publish(ctx, models.EventReservationReleased, tok)
	return tok, nil
}

// ReleaseExpired force-releases up to limit holds whose deadline passed and
// returns how many it released. Tokens confirmed or released concurrently are
// skipped.
func (c *Coordinator) ReleaseExpired(ctx context.Context, limit int) (int, error) {
	expired, err := c.Ledger.Expired(ctx, c.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	released := 0
	var errs []error
	for _, tok := range expired {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := c.Release(ctx, tok.ID); err != nil {
			var ce *models.ConflictError
			if errors.As(err, &ce) {
				continue
			}
			errs = append(errs, fmt.Errorf("release %s: %w", tok.ID, err))
			continue
		}
		released++
		observability.ReaperReleases.Inc()
	}
	return released, errors.Join(errs...)
}

func (c *Coordinator) revertRelease(ctx context.Context, token string) {
	if _, _, err := c.Ledger.Transition(ctx, token,
		[]models.ReservationState{models.ReservationReleased}, models.ReservationReserved); err != nil {
		c.logger().Error("release revert failed", "token", token, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, typ models.EventType, tok models.ReservationToken) {
	if c.Events == nil {
		return
	}
	err := c.Events.Publish(ctx, models.Event{
		Type:     typ,
		TripID:   tok.TripID,
		DriverID: tok.DriverID,
		Token:    tok.ID,
		Seats:    tok.Seats,
		At:       c.now(),
	})
	if err != nil {
		c.logger().Warn("reservation event publish failed", "token", tok.ID, "type", typ, "error", err)
	}
}

func outcome(err error) string {
	var ce *models.ConflictError
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	if errors.Is(err, models.ErrInvalidRequest) {
		return "invalid"
	}
	return "error"
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC().Truncate(time.Millisecond)
	}
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (c *Coordinator) holdTTL() time.Duration {
	if c.HoldTTL <= 0 {
		return DefaultHoldTTL
	}
	return c.HoldTTL
}

func (c *Coordinator) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
