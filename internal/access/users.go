package access

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/errors"
	"gorm.io/gorm"

	"docgate/internal/model"
)

// UserProfile is the display information attached to listed grants.
type UserProfile struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserDirectory resolves grantees.
type UserDirectory interface {
	// Exists reports whether the user is known.
	Exists(ctx context.Context, userID uint) (bool, error)
	// Profiles returns the profiles of the known users among ids.
	Profiles(ctx context.Context, ids []uint) (map[uint]UserProfile, error)
}

const (
	profileCacheSize = 512
	profileCacheTTL  = time.Minute
)

// GormUserDirectory reads users from the users table. Profiles are memoized
// for a short time since listings show the same grantees over and over.
type GormUserDirectory struct {
	db       *gorm.DB
	profiles *expirable.LRU[uint, UserProfile]
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{
		db:       db,
		profiles: expirable.NewLRU[uint, UserProfile](profileCacheSize, nil, profileCacheTTL),
	}
}

func (d *GormUserDirectory) Exists(ctx context.Context, userID uint) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, errors.Trace(err)
	}
	return count > 0, nil
}

func (d *GormUserDirectory) Profiles(ctx context.Context, ids []uint) (map[uint]UserProfile, error) {
	result := make(map[uint]UserProfile, len(ids))
	var missing []uint
	for _, id := range ids {
		if _, seen := result[id]; seen {
			continue
		}
		if p, ok := d.profiles.Get(id); ok {
			result[id] = p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	var users []model.User
	err := d.db.WithContext(ctx).
		Select("id", "username", "email").
		Where("id IN ?", missing).
		Find(&users).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, u := range users {
		p := UserProfile{ID: u.ID, Username: u.Username, Email: u.Email}
		d.profiles.Add(u.ID, p)
		result[u.ID] = p
	}
	return result, nil
}

// Forget drops a memoized profile after the user changed or was removed.
func (d *GormUserDirectory) Forget(userID uint) {
	d.profiles.Remove(userID)
}
