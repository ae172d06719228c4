package models

import "time"

type EventType string

const (
	EventMatchesFound        EventType = "matches.found"
	EventReservationReserved EventType = "reservation.reserved"
	EventReservationConfirm  EventType = "reservation.confirmed"
	EventReservationReleased EventType = "reservation.released"
)

// Event is the opaque payload handed to the notification flow.
type Event struct {
	Type     EventType `json:"type"`
	TripID   string    `json:"driver_trip_id,omitempty"`
	DriverID string    `json:"driver_id,omitempty"`
	Token    string    `json:"token,omitempty"`
	Seats    int       `json:"seats,omitempty"`
	At       time.Time `json:"at"`
}
