package access

import (
	"context"
	"time"

	"github.com/juju/errors"
	"gorm.io/gorm"

	"docgate/internal/model"
)

// Filter narrows a grant listing. Nil fields are not applied.
type Filter struct {
	UserID     *uint
	DocumentID *uint
	Active     *bool
	// Valid keeps grants that are (true) or are not (false) valid at the
	// listing time.
	Valid *bool
}

// Store persists access grants. Every write touches a single row.
type Store interface {
	Create(ctx context.Context, g *model.AccessGrant) error
	Get(ctx context.Context, id uint) (model.AccessGrant, error)
	// Update writes the mutable fields of g (dates, type, reason, active flag).
	Update(ctx context.Context, g *model.AccessGrant) error
	Deactivate(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
	// ListForUser returns every grant of the user, newest first.
	ListForUser(ctx context.Context, userID uint) ([]model.AccessGrant, error)
	// ListCandidates returns the grants of the user that can apply to the
	// document: grants on the document itself, cabinet grants and global grants.
	ListCandidates(ctx context.Context, userID, documentID uint) ([]model.AccessGrant, error)
	// List returns one page of grants matching f, newest first, along with the
	// total number of matches.
	List(ctx context.Context, f Filter, now time.Time, offset, limit int) ([]model.AccessGrant, int64, error)
}

// GormStore is a Store backed by gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

const newestFirst = "created_at desc, id desc"

func (s *GormStore) Create(ctx context.Context, g *model.AccessGrant) error {
	return errors.Trace(s.db.WithContext(ctx).Create(g).Error)
}

func (s *GormStore) Get(ctx context.Context, id uint) (model.AccessGrant, error) {
	var g model.AccessGrant
	if err := s.db.WithContext(ctx).First(&g, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return g, errors.NotFoundf("access grant %d", id)
		}
		return g, errors.Trace(err)
	}
	return g, nil
}

func (s *GormStore) Update(ctx context.Context, g *model.AccessGrant) error {
	res := s.db.WithContext(ctx).Model(&model.AccessGrant{}).Where("id = ?", g.ID).Updates(map[string]any{
		"start_date":  g.StartDate,
		"end_date":    g.EndDate,
		"access_type": g.AccessType,
		"is_active":   g.IsActive,
		"reason":      g.Reason,
	})
	if res.Error != nil {
		return errors.Trace(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundf("access grant %d", g.ID)
	}
	return nil
}

func (s *GormStore) Deactivate(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&model.AccessGrant{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return errors.Trace(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundf("access grant %d", id)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.AccessGrant{}, id)
	if res.Error != nil {
		return errors.Trace(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundf("access grant %d", id)
	}
	return nil
}

func (s *GormStore) ListForUser(ctx context.Context, userID uint) ([]model.AccessGrant, error) {
	var grants []model.AccessGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(newestFirst).
		Find(&grants).Error
	return grants, errors.Trace(err)
}

func (s *GormStore) ListCandidates(ctx context.Context, userID, documentID uint) ([]model.AccessGrant, error) {
	var grants []model.AccessGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(document_id = ? OR document_id IS NULL)", documentID).
		Order(newestFirst).
		Find(&grants).Error
	return grants, errors.Trace(err)
}

func (s *GormStore) List(ctx context.Context, f Filter, now time.Time, offset, limit int) ([]model.AccessGrant, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.AccessGrant{})
	if f.UserID != nil {
		query = query.Where("user_id = ?", *f.UserID)
	}
	if f.DocumentID != nil {
		query = query.Where("document_id = ?", *f.DocumentID)
	}
	if f.Active != nil {
		query = query.Where("is_active = ?", *f.Active)
	}
	if f.Valid != nil {
		// Validity is derived from the listing time, never stored.
		now = now.UTC()
		if *f.Valid {
			query = query.Where("is_active = ? AND start_date <= ? AND end_date >= ?", true, now, now)
		} else {
			query = query.Where("NOT (is_active = ? AND start_date <= ? AND end_date >= ?)", true, now, now)
		}
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Trace(err)
	}

	var grants []model.AccessGrant
	err := query.Order(newestFirst).Offset(offset).Limit(limit).Find(&grants).Error
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	return grants, total, nil
}
