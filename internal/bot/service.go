package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"docgate/internal/access"
	"docgate/internal/model"
)

// ErrNotBound is returned for Telegram users without a linked account.
var ErrNotBound = errors.New("telegram account not bound")

// Service renders bot replies from the access services. It has no
// dependency on Telegram itself.
type Service struct {
	db         *gorm.DB
	authorizer *access.Authorizer
	dashboards *access.Dashboards
}

func NewService(db *gorm.DB, authorizer *access.Authorizer, dashboards *access.Dashboards) *Service {
	return &Service{db: db, authorizer: authorizer, dashboards: dashboards}
}

func (s *Service) userByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("telegram_id = ? AND is_active = ?", telegramID, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotBound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AccessSummary lists the grants of the linked user that are valid now.
func (s *Service) AccessSummary(ctx context.Context, telegramID int64) (string, error) {
	user, err := s.userByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}
	if user.IsAdmin() {
		return "You are an administrator and can open every document.", nil
	}

	dash, err := s.dashboards.Build(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active: %d, pending: %d, expired: %d, revoked: %d\n",
		dash.Active.Count, dash.Pending.Count, dash.Expired.Count, dash.Revoked.Count)
	for _, v := range dash.Active.Accesses {
		fmt.Fprintf(&b, "\n%s %s, %s left", targetLabel(v), v.AccessType, formatRemaining(v.TimeRemaining))
	}
	return b.String(), nil
}

// Check reports whether the linked user may open the document now.
func (s *Service) Check(ctx context.Context, telegramID int64, documentID uint) (string, error) {
	user, err := s.userByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}

	d := access.AdminDecision()
	if !user.IsAdmin() {
		if d, err = s.authorizer.CheckAccess(ctx, user.ID, documentID); err != nil {
			return "", err
		}
	}

	if !d.HasAccess {
		return fmt.Sprintf("No access to document %d (%s).", documentID, d.Reason), nil
	}
	if d.TimeRemaining == nil {
		return fmt.Sprintf("You have %s access to document %d.", d.AccessType, documentID), nil
	}
	return fmt.Sprintf("You have %s access to document %d for %s.", d.AccessType, documentID, formatRemaining(*d.TimeRemaining)), nil
}

func targetLabel(v access.View) string {
	switch {
	case v.DocumentID != nil:
		return fmt.Sprintf("Document %d:", *v.DocumentID)
	case v.CabinetID != nil:
		return fmt.Sprintf("Cabinet %d:", *v.CabinetID)
	default:
		return "All documents:"
	}
}

func formatRemaining(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}
