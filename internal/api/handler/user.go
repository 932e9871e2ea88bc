package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"docgate/internal/api/middleware"
	"docgate/internal/model"
)

// ProfileCache is told when a user's display profile changes.
type ProfileCache interface {
	Forget(userID uint)
}

func Login(db *gorm.DB, secret string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var user model.User
		if err := db.Where("username = ?", input.Username).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if !user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account is disabled"})
			return
		}

		now := time.Now()
		token, expiresAt, err := middleware.IssueToken(&user, secret, ttl, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
			return
		}

		if err := db.Model(&user).Update("last_login", now).Error; err != nil {
			_ = c.Error(fmt.Errorf("recording last login of user %d: %w", user.ID, err))
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"token_type": "bearer",
			"expires_at": expiresAt,
			"role":       user.Role,
			"user":       user,
		})
	}
}

func ChangePassword(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			CurrentPassword string `json:"current_password" binding:"required"`
			NewPassword     string `json:"new_password" binding:"required,min=6"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID, _ := middleware.CurrentUser(c)
		var user model.User
		if err := db.First(&user, userID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.CurrentPassword)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "current password incorrect"})
			return
		}

		if err := setPassword(db, &user, input.NewPassword); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update password"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "password updated successfully"})
	}
}

// setPassword stores a new password and bumps the token version so that
// every token issued before is rejected.
func setPassword(db *gorm.DB, user *model.User, password string) error {
	hashed, err := model.HashPassword(password)
	if err != nil {
		return err
	}
	return db.Model(user).Updates(map[string]any{
		"password":      hashed,
		"token_version": gorm.Expr("token_version + 1"),
	}).Error
}

func ListUsers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var users []model.User
		if err := db.Order("id").Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch users"})
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

func validRole(role string) bool {
	return role == model.RoleAdmin || role == model.RoleUser
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique")
}

func CreateUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Username   string `json:"username" binding:"required"`
			Email      string `json:"email" binding:"required,email"`
			Password   string `json:"password" binding:"required,min=6"`
			FirstName  string `json:"first_name"`
			LastName   string `json:"last_name"`
			Role       string `json:"role"`
			TelegramID int64  `json:"telegram_id"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if input.Role != "" && !validRole(input.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin or user"})
			return
		}

		user := model.User{
			Username:   input.Username,
			Email:      input.Email,
			Password:   input.Password, // BeforeCreate hook will hash this
			FirstName:  input.FirstName,
			LastName:   input.LastName,
			Role:       input.Role,
			TelegramID: input.TelegramID,
		}
		if err := db.Create(&user).Error; err != nil {
			if isDuplicate(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "username or email already in use"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user"})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

// UpdateUser changes profile fields, role and activation. Deactivating a
// user invalidates their tokens.
func UpdateUser(db *gorm.DB, profiles ProfileCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		var user model.User
		if err := db.First(&user, id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		var input struct {
			Username   *string `json:"username"`
			Email      *string `json:"email"`
			FirstName  *string `json:"first_name"`
			LastName   *string `json:"last_name"`
			Role       *string `json:"role"`
			TelegramID *int64  `json:"telegram_id"`
			IsActive   *bool   `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		updates := map[string]any{}
		if input.Username != nil {
			updates["username"] = *input.Username
		}
		if input.Email != nil {
			updates["email"] = *input.Email
		}
		if input.FirstName != nil {
			updates["first_name"] = *input.FirstName
		}
		if input.LastName != nil {
			updates["last_name"] = *input.LastName
		}
		if input.Role != nil {
			if !validRole(*input.Role) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin or user"})
				return
			}
			updates["role"] = *input.Role
		}
		if input.TelegramID != nil {
			updates["telegram_id"] = *input.TelegramID
		}
		if input.IsActive != nil {
			updates["is_active"] = *input.IsActive
			if !*input.IsActive && user.IsActive {
				updates["token_version"] = gorm.Expr("token_version + 1")
			}
		}
		if len(updates) > 0 {
			if err := db.Model(&user).Updates(updates).Error; err != nil {
				if isDuplicate(err) {
					c.JSON(http.StatusConflict, gin.H{"error": "username or email already in use"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
				return
			}
			profiles.Forget(user.ID)
		}

		if err := db.First(&user, id).Error; err != nil {
			_ = c.Error(fmt.Errorf("reloading user %d: %w", id, err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load updated user"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// DeleteUser removes the user together with every grant they hold.
func DeleteUser(db *gorm.DB, profiles ProfileCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		if current, _ := middleware.CurrentUser(c); current == id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
			return
		}

		var deleted int64
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", id).Delete(&model.AccessGrant{}).Error; err != nil {
				return err
			}
			res := tx.Delete(&model.User{}, id)
			deleted = res.RowsAffected
			return res.Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user and associated grants"})
			return
		}
		if deleted == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		profiles.Forget(id)

		c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
	}
}

func ResetUserPassword(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		var input struct {
			NewPassword string `json:"new_password" binding:"required,min=6"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var user model.User
		if err := db.First(&user, id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err := setPassword(db, &user, input.NewPassword); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset password"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "user password reset successfully"})
	}
}

// validateTelegramData checks the signature of Telegram WebApp init data and
// returns the Telegram user id it carries.
func validateTelegramData(data string, botToken string) (int64, error) {
	params, err := url.ParseQuery(data)
	if err != nil {
		return 0, err
	}

	hash := params.Get("hash")
	if hash == "" {
		return 0, errors.New("hash parameter missing")
	}

	var checkStrings []string
	for key, values := range params {
		if key != "hash" {
			checkStrings = append(checkStrings, fmt.Sprintf("%s=%s", key, values[0]))
		}
	}
	sort.Strings(checkStrings)
	dataCheckString := strings.Join(checkStrings, "\n")

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	secretKey := keyMAC.Sum(nil)

	h := hmac.New(sha256.New, secretKey)
	h.Write([]byte(dataCheckString))
	calculatedHash := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(calculatedHash), []byte(hash)) {
		return 0, errors.New("data validation failed: hash mismatch")
	}

	var tgUser struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(params.Get("user")), &tgUser); err != nil || tgUser.ID == 0 {
		return 0, errors.New("telegram user ID not found in data")
	}
	return tgUser.ID, nil
}

// BindTelegram handles binding the current authenticated user to a Telegram ID
func BindTelegram(db *gorm.DB, botToken func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			InitData string `json:"init_data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data"})
			return
		}

		token := botToken()
		if token == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telegram bot token is not configured"})
			return
		}

		telegramID, err := validateTelegramData(input.InitData, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		currentUserID, _ := middleware.CurrentUser(c)
		var existingUser model.User
		if err := db.Where("telegram_id = ? AND id != ?", telegramID, currentUserID).First(&existingUser).Error; err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("telegram ID %d is already bound to user %s", telegramID, existingUser.Username)})
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error during check"})
			return
		}

		res := db.Model(&model.User{}).Where("id = ?", currentUserID).Update("telegram_id", telegramID)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to bind telegram ID"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "telegram ID bound successfully", "telegram_id": telegramID})
	}
}
