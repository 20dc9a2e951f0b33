package reservation

import (
	"errors"
	"fmt"

	"studyroom-backend/internal/model"
)

// Reason is a machine-readable cause attached to validation failures.
type Reason string

const (
	ReasonSlotNotFound     Reason = "SLOT_NOT_FOUND"
	ReasonSlotUnavailable  Reason = "SLOT_UNAVAILABLE"
	ReasonSlotNotBiddable  Reason = "SLOT_NOT_BIDDABLE"
	ReasonSlotsNotAdjacent Reason = "SLOTS_NOT_ADJACENT"
	ReasonDuplicateBooking Reason = "DUPLICATE_BOOKING"
	ReasonRoomKind         Reason = "ROOM_KIND"
	ReasonPartySize        Reason = "PARTY_SIZE"
	ReasonCapacityExceeded Reason = "CAPACITY_EXCEEDED"
	ReasonNotFound         Reason = "RESERVATION_NOT_FOUND"
	ReasonNotHolder        Reason = "NOT_HOLDER"
	ReasonWrongStatus      Reason = "WRONG_STATUS"
	ReasonNotYetTime       Reason = "NOT_YET_TIME"
	ReasonExpired          Reason = "EXPIRED"
	ReasonTokenInvalid     Reason = "TOKEN_INVALID"
)

// ValidationError is a durable business-rule failure. Retrying with the
// same input cannot succeed, unlike ErrContention.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Message)
}

func validationErr(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ErrContention is returned when the slot locks could not be acquired
// within the bounded wait. The request may be retried as-is.
var ErrContention = errors.New("slot set is contended, retry")

// IssuanceNotAllowedError rejects QR issuance for a reservation that is no
// longer in the RESERVED state, carrying the specific reason.
type IssuanceNotAllowedError struct {
	Status model.ReservationStatus
}

func (e *IssuanceNotAllowedError) Error() string {
	return fmt.Sprintf("QR issuance not allowed: reservation is %s", e.Status)
}

// Reason maps the blocking status to a stable response code.
func (e *IssuanceNotAllowedError) Reason() Reason {
	switch e.Status {
	case model.StatusEntrance, model.StatusLate:
		return "ALREADY_ENTERED"
	case model.StatusCancelled:
		return "ALREADY_CANCELLED"
	case model.StatusCompleted:
		return "ALREADY_COMPLETED"
	case model.StatusNoShow:
		return "NO_SHOW"
	}
	return ReasonWrongStatus
}
