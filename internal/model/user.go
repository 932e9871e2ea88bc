package model

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Password     string     `gorm:"not null" json:"-"`
	TokenVersion int64      `gorm:"default:1" json:"-"`
	TelegramID   int64      `gorm:"index" json:"telegram_id"`
	Role         string     `gorm:"default:'user'" json:"role"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`

	AccessGrants []AccessGrant `gorm:"foreignKey:UserID" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.Password != "" {
		u.Password, err = HashPassword(u.Password)
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return
}
