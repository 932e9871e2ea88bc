package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docgate/internal/model"
)

// ConfigValue reads a key from the configs table, falling back to def when
// the key is unset or empty.
func ConfigValue(db *gorm.DB, key, def string) string {
	var cfg model.Config
	if err := db.Where("key = ?", key).First(&cfg).Error; err != nil || cfg.Value == "" {
		return def
	}
	return cfg.Value
}

// GetTelegramConfig retrieves Telegram Bot Token and Web App URL from the database.
func GetTelegramConfig(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		values := map[string]string{}
		for _, key := range []string{model.ConfigKeyTelegramBotToken, model.ConfigKeyTelegramWebAppURL} {
			var cfg model.Config
			if err := db.Where("key = ?", key).First(&cfg).Error; err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve telegram configuration"})
					return
				}
				// Not configured yet.
			}
			values[key] = cfg.Value
		}

		c.JSON(http.StatusOK, gin.H{
			"bot_token":   values[model.ConfigKeyTelegramBotToken],
			"web_app_url": values[model.ConfigKeyTelegramWebAppURL],
		})
	}
}

// UpdateTelegramConfig updates Telegram Bot Token and Web App URL in the database.
// A running bot picks up the new token on restart.
func UpdateTelegramConfig(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			BotToken  string `json:"bot_token"`
			WebAppURL string `json:"web_app_url"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			for key, value := range map[string]string{
				model.ConfigKeyTelegramBotToken:  input.BotToken,
				model.ConfigKeyTelegramWebAppURL: input.WebAppURL,
			} {
				if err := tx.Where(model.Config{Key: key}).
					Assign(model.Config{Value: value}).
					FirstOrCreate(&model.Config{}).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update telegram configuration"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "telegram configuration updated successfully"})
	}
}
