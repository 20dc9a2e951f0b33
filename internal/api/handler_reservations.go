package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/qr"
	"studyroom-backend/internal/reservation"
)

type bookRequest struct {
	SlotIDs      []int64 `json:"slot_ids" binding:"required,min=1,max=2"`
	Participants []int64 `json:"participants"`
}

// PostReservation handles the booking request for individual and group
// sessions.
func (h *Handler) PostReservation(c *gin.Context) {
	member, ok := memberID(c)
	if !ok {
		return
	}

	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Book(c.Request.Context(), reservation.BookingRequest{
		MemberID:     member,
		SlotIDs:      req.SlotIDs,
		Participants: req.Participants,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetReservation returns a reservation visible to the caller.
func (h *Handler) GetReservation(c *gin.Context) {
	member, ok := memberID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reservation ID"})
		return
	}

	res, err := h.svc.Get(c.Request.Context(), member, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteReservation cancels a RESERVED reservation held by the caller.
func (h *Handler) DeleteReservation(c *gin.Context) {
	member, ok := memberID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reservation ID"})
		return
	}

	if err := h.svc.Cancel(c.Request.Context(), member, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostQR issues (or re-returns) the reservation's entry token.
func (h *Handler) PostQR(c *gin.Context) {
	member, ok := memberID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reservation ID"})
		return
	}

	token, err := h.svc.IssueQR(c.Request.Context(), member, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// GetQRImage renders the entry token as a PNG for the door reader.
func (h *Handler) GetQRImage(c *gin.Context) {
	member, ok := memberID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reservation ID"})
		return
	}

	token, err := h.svc.IssueQR(c.Request.Context(), member, id)
	if err != nil {
		respondError(c, err)
		return
	}

	size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))
	png, err := qr.RenderPNG(token, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

type checkInRequest struct {
	Token string `json:"token" binding:"required"`
}

// PostCheckIn consumes a presented QR token and classifies the entry.
func (h *Handler) PostCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.CheckIn(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
