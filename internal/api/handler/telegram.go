package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docgate/internal/access"
	"docgate/internal/api/middleware"
	"docgate/internal/model"
)

// GetTelegramUserInfo returns the basic profile shown by the Telegram WebApp.
func GetTelegramUserInfo(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUser(c)
		var user model.User
		if err := db.First(&user, userID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user_id":     user.ID,
			"username":    user.Username,
			"role":        user.Role,
			"telegram_id": user.TelegramID,
			"is_bound":    user.TelegramID != 0,
		})
	}
}

// GetTelegramQuickSummary returns the dashboard counts without the grant
// lists, sized for the WebApp header.
func GetTelegramQuickSummary(d *access.Dashboards) gin.HandlerFunc {
	return func(c *gin.Context) {
		dash, err := d.Build(c.Request.Context(), actorOf(c).UserID)
		if err != nil {
			writeError(c, err)
			return
		}

		var nextExpiry *access.View
		for i := range dash.Active.Accesses {
			v := &dash.Active.Accesses[i]
			if nextExpiry == nil || v.EndDate.Before(nextExpiry.EndDate) {
				nextExpiry = v
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"active":      dash.Active.Count,
			"pending":     dash.Pending.Count,
			"expired":     dash.Expired.Count,
			"revoked":     dash.Revoked.Count,
			"total":       dash.Total,
			"next_expiry": nextExpiry,
		})
	}
}
