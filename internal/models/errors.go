package models

import "errors"

// ErrInvalidRequest marks malformed caller input; it is wrapped with detail.
var ErrInvalidRequest = errors.New("invalid request")

type ConflictKind string

const (
	SeatExhausted      ConflictKind = "SeatExhausted"
	TripNotFound       ConflictKind = "TripNotFound"
	TripNotSchedulable ConflictKind = "TripNotSchedulable"
	AlreadyReleased    ConflictKind = "AlreadyReleased"
	AlreadyConfirmed   ConflictKind = "AlreadyConfirmed"
	InvalidToken       ConflictKind = "InvalidToken"
)

// ConflictError is returned by seat reservation when the live state no longer
// allows the requested transition.
type ConflictError struct {
	Kind   ConflictKind
	TripID string
	Token  string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Token != "":
		return "reservation conflict: " + string(e.Kind) + " (token " + e.Token + ")"
	case e.TripID != "":
		return "reservation conflict: " + string(e.Kind) + " (trip " + e.TripID + ")"
	}
	return "reservation conflict: " + string(e.Kind)
}

// Is matches any ConflictError with the same kind, so callers can write
// errors.Is(err, models.ErrSeatExhausted).
func (e *ConflictError) Is(target error) bool {
	var t *ConflictError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrSeatExhausted      = &ConflictError{Kind: SeatExhausted}
	ErrTripNotFound       = &ConflictError{Kind: TripNotFound}
	ErrTripNotSchedulable = &ConflictError{Kind: TripNotSchedulable}
	ErrAlreadyReleased    = &ConflictError{Kind: AlreadyReleased}
	ErrAlreadyConfirmed   = &ConflictError{Kind: AlreadyConfirmed}
	ErrInvalidToken       = &ConflictError{Kind: InvalidToken}
)
