package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/reservation"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc *reservation.Service
}

// NewHandler creates a new API handler.
func NewHandler(svc *reservation.Service) *Handler {
	return &Handler{svc: svc}
}

// memberID extracts the caller identity set by the auth gateway in front
// of this service. Identity issuance itself is out of scope here.
func memberID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-Member-ID"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-Member-ID"})
		return 0, false
	}
	return id, true
}

// respondError maps the error taxonomy onto stable HTTP responses.
// Contention is surfaced as retryable so clients back off instead of
// treating the slot as permanently full; unexpected errors are logged
// with context and returned as a generic failure.
func respondError(c *gin.Context, err error) {
	var verr *reservation.ValidationError
	var ierr *reservation.IssuanceNotAllowedError
	switch {
	case errors.Is(err, reservation.ErrContention):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "slots are contended, please retry",
			"reason":    "CONTENTION",
			"retryable": true,
		})
	case errors.As(err, &ierr):
		c.JSON(http.StatusConflict, gin.H{"error": ierr.Error(), "reason": string(ierr.Reason())})
	case errors.As(err, &verr):
		c.JSON(statusFor(verr.Reason), gin.H{"error": verr.Message, "reason": string(verr.Reason)})
	default:
		log.Printf("unexpected error handling %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func statusFor(reason reservation.Reason) int {
	switch reason {
	case reservation.ReasonSlotNotFound, reservation.ReasonNotFound, reservation.ReasonTokenInvalid:
		return http.StatusNotFound
	case reservation.ReasonDuplicateBooking, reservation.ReasonCapacityExceeded,
		reservation.ReasonWrongStatus, reservation.ReasonSlotUnavailable:
		return http.StatusConflict
	case reservation.ReasonNotHolder:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
