package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"studyroom-backend/internal/model"
)

// GetRoomSlots handles GET /api/rooms/{room_id}/slots?date=YYYY-MM-DD.
func GetRoomSlots(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
			return
		}

		q := db.Where("room_id = ?", roomID)
		if date := c.Query("date"); date != "" {
			q = q.Where("date = ?", date)
		}

		var slots []model.Slot
		if err := q.Order("start_at").Find(&slots).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve slots"})
			return
		}
		c.JSON(http.StatusOK, slots)
	}
}
