package access

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"docgate/internal/model"
)

const (
	maxReasonLength = 500

	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID uint
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// CreateRequest describes a new grant. Nil DocumentID and CabinetID make a
// global grant. An empty AccessType means read.
type CreateRequest struct {
	UserID     uint
	DocumentID *uint
	CabinetID  *uint
	StartDate  *time.Time
	EndDate    *time.Time
	AccessType model.AccessType
	Reason     *string
}

// UpdateRequest is a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	StartDate  *time.Time
	EndDate    *time.Time
	AccessType *model.AccessType
	IsActive   *bool
	Reason     *string
}

// BatchRequest creates one document grant per entry of DocumentIDs.
type BatchRequest struct {
	UserID      uint
	DocumentIDs []uint
	StartDate   *time.Time
	EndDate     *time.Time
	AccessType  model.AccessType
	Reason      *string
}

// BatchItem is the outcome for one document of a batch.
type BatchItem struct {
	DocumentID uint   `json:"document_id"`
	Access     *View  `json:"access,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult tallies a batch. Successful items stay committed even when
// others fail.
type BatchResult struct {
	Created int         `json:"created"`
	Failed  int         `json:"failed"`
	Results []BatchItem `json:"results"`
}

// Page is one page of a grant listing.
type Page struct {
	Accesses []View `json:"accesses"`
	Total    int64  `json:"total"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
	Pages    int    `json:"pages"`
}

// Manager creates, changes and removes grants. Every mutation is restricted
// to administrators.
type Manager struct {
	store  Store
	users  UserDirectory
	eval   *Evaluator
	logger zerolog.Logger
}

func NewManager(store Store, users UserDirectory, clk clock.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		users:  users,
		eval:   NewEvaluator(clk),
		logger: logger.With().Str("component", "grant_manager").Logger(),
	}
}

func authorize(actor Actor, op string) error {
	if !actor.IsAdmin() {
		return errors.Forbiddenf("%s access grants by user %d", op, actor.UserID)
	}
	return nil
}

// normalizeTime stores instants in UTC at second precision so that stored
// windows compare consistently across database drivers.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func validateReason(verr *ValidationError, reason *string) {
	if reason != nil && utf8.RuneCountInString(*reason) > maxReasonLength {
		verr.add("reason", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}
}

func validateAccessType(verr *ValidationError, t model.AccessType) {
	if !t.Valid() {
		verr.add("access_type", "must be one of read, write, admin")
	}
}

// Create validates req and persists a new active grant.
func (m *Manager) Create(ctx context.Context, actor Actor, req CreateRequest) (View, error) {
	if err := authorize(actor, "creating"); err != nil {
		return View{}, err
	}
	v, err := m.create(ctx, actor, req)
	observeMutation("create", err)
	return v, err
}

func (m *Manager) create(ctx context.Context, actor Actor, req CreateRequest) (View, error) {
	g, err := m.newGrant(actor, req)
	if err != nil {
		return View{}, err
	}

	exists, err := m.users.Exists(ctx, g.UserID)
	if err != nil {
		return View{}, errors.Annotatef(err, "looking up user %d", g.UserID)
	}
	if !exists {
		return View{}, errors.NotFoundf("user %d", g.UserID)
	}

	if err := m.store.Create(ctx, &g); err != nil {
		return View{}, errors.Annotate(err, "creating access grant")
	}
	m.logger.Info().
		Uint("grant_id", g.ID).
		Uint("user_id", g.UserID).
		Str("access_type", string(g.AccessType)).
		Time("start_date", g.StartDate).
		Time("end_date", g.EndDate).
		Uint("created_by", g.CreatedBy).
		Msg("access grant created")

	return m.view(ctx, g)
}

func (m *Manager) newGrant(actor Actor, req CreateRequest) (model.AccessGrant, error) {
	verr := &ValidationError{}
	if req.UserID == 0 {
		verr.add("user_id", "required")
	}
	if req.StartDate == nil {
		verr.add("start_date", "required")
	}
	if req.EndDate == nil {
		verr.add("end_date", "required")
	}
	if req.DocumentID != nil && req.CabinetID != nil {
		verr.add("target", "document_id and cabinet_id are mutually exclusive")
	}
	accessType := req.AccessType
	if accessType == "" {
		accessType = model.AccessRead
	}
	validateAccessType(verr, accessType)
	validateReason(verr, req.Reason)

	var start, end time.Time
	if req.StartDate != nil && req.EndDate != nil {
		start, end = normalizeTime(*req.StartDate), normalizeTime(*req.EndDate)
		if !end.After(start) {
			verr.add("end_date", "must be after start_date")
		}
	}
	if err := verr.orNil(); err != nil {
		return model.AccessGrant{}, err
	}

	now := m.eval.Now().UTC()
	return model.AccessGrant{
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
		CabinetID:  req.CabinetID,
		StartDate:  start,
		EndDate:    end,
		AccessType: accessType,
		IsActive:   true,
		Reason:     req.Reason,
		CreatedBy:  actor.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CreateBatch creates one grant per document. Items are created one by one;
// a failure is recorded in its item and does not undo the others.
func (m *Manager) CreateBatch(ctx context.Context, actor Actor, req BatchRequest) (BatchResult, error) {
	if err := authorize(actor, "creating"); err != nil {
		return BatchResult{}, err
	}
	if len(req.DocumentIDs) == 0 {
		return BatchResult{}, &ValidationError{Fields: map[string]string{"document_ids": "required"}}
	}

	result := BatchResult{Results: make([]BatchItem, 0, len(req.DocumentIDs))}
	for _, documentID := range req.DocumentIDs {
		documentID := documentID
		v, err := m.create(ctx, actor, CreateRequest{
			UserID:     req.UserID,
			DocumentID: &documentID,
			StartDate:  req.StartDate,
			EndDate:    req.EndDate,
			AccessType: req.AccessType,
			Reason:     req.Reason,
		})
		observeMutation("create", err)
		item := BatchItem{DocumentID: documentID}
		if err != nil {
			m.logger.Warn().Err(err).Uint("document_id", documentID).Msg("batch grant failed")
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Access = &v
			result.Created++
		}
		result.Results = append(result.Results, item)
	}
	return result, nil
}

// Update applies a partial update and re-validates the resulting window.
// Deactivating through an update is a revocation; a revoked grant cannot be
// reactivated.
func (m *Manager) Update(ctx context.Context, actor Actor, id uint, req UpdateRequest) (View, error) {
	if err := authorize(actor, "updating"); err != nil {
		return View{}, err
	}
	v, err := m.update(ctx, id, req)
	observeMutation("update", err)
	return v, err
}

func (m *Manager) update(ctx context.Context, id uint, req UpdateRequest) (View, error) {
	g, err := m.store.Get(ctx, id)
	if err != nil {
		return View{}, errors.Trace(err)
	}

	verr := &ValidationError{}
	if req.AccessType != nil {
		validateAccessType(verr, *req.AccessType)
	}
	validateReason(verr, req.Reason)
	if req.IsActive != nil && *req.IsActive && !g.IsActive {
		verr.add("is_active", "a revoked grant cannot be reactivated")
	}

	start, end := g.StartDate, g.EndDate
	if req.StartDate != nil {
		start = normalizeTime(*req.StartDate)
	}
	if req.EndDate != nil {
		end = normalizeTime(*req.EndDate)
	}
	if !end.After(start) {
		verr.add("end_date", "must be after start_date")
	}
	if err := verr.orNil(); err != nil {
		return View{}, err
	}

	g.StartDate, g.EndDate = start, end
	if req.AccessType != nil {
		g.AccessType = *req.AccessType
	}
	if req.IsActive != nil {
		g.IsActive = *req.IsActive
	}
	if req.Reason != nil {
		g.Reason = req.Reason
	}
	if err := m.store.Update(ctx, &g); err != nil {
		return View{}, errors.Trace(err)
	}
	m.logger.Info().Uint("grant_id", id).Bool("is_active", g.IsActive).Msg("access grant updated")

	return m.get(ctx, id)
}

// Revoke deactivates the grant. Revoking an already revoked grant succeeds
// and changes nothing.
func (m *Manager) Revoke(ctx context.Context, actor Actor, id uint) (View, error) {
	if err := authorize(actor, "revoking"); err != nil {
		return View{}, err
	}
	err := m.store.Deactivate(ctx, id)
	observeMutation("revoke", err)
	if err != nil {
		return View{}, errors.Trace(err)
	}
	m.logger.Info().Uint("grant_id", id).Uint("revoked_by", actor.UserID).Msg("access grant revoked")
	return m.get(ctx, id)
}

// Delete removes the grant whatever its state. Deleting an unknown grant is
// a not found error.
func (m *Manager) Delete(ctx context.Context, actor Actor, id uint) error {
	if err := authorize(actor, "deleting"); err != nil {
		return err
	}
	err := m.store.Delete(ctx, id)
	observeMutation("delete", err)
	if err != nil {
		return errors.Trace(err)
	}
	m.logger.Info().Uint("grant_id", id).Uint("deleted_by", actor.UserID).Msg("access grant deleted")
	return nil
}

// Get returns one grant with its derived fields and grantee profile.
func (m *Manager) Get(ctx context.Context, id uint) (View, error) {
	return m.get(ctx, id)
}

func (m *Manager) get(ctx context.Context, id uint) (View, error) {
	g, err := m.store.Get(ctx, id)
	if err != nil {
		return View{}, errors.Trace(err)
	}
	return m.view(ctx, g)
}

// List returns a page of grants matching f, newest first.
func (m *Manager) List(ctx context.Context, f Filter, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	now := m.eval.Now()
	grants, total, err := m.store.List(ctx, f, now, (page-1)*perPage, perPage)
	if err != nil {
		return Page{}, errors.Annotate(err, "listing access grants")
	}

	views := make([]View, 0, len(grants))
	for _, g := range grants {
		views = append(views, NewView(g, now))
	}
	if err := m.enrich(ctx, views); err != nil {
		return Page{}, errors.Trace(err)
	}

	return Page{
		Accesses: views,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
		Pages:    int((total + int64(perPage) - 1) / int64(perPage)),
	}, nil
}

func (m *Manager) view(ctx context.Context, g model.AccessGrant) (View, error) {
	views := []View{NewView(g, m.eval.Now())}
	if err := m.enrich(ctx, views); err != nil {
		return View{}, errors.Trace(err)
	}
	return views[0], nil
}

func (m *Manager) enrich(ctx context.Context, views []View) error {
	if len(views) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.UserID)
	}
	profiles, err := m.users.Profiles(ctx, ids)
	if err != nil {
		return errors.Annotate(err, "resolving grantee profiles")
	}
	for i := range views {
		if p, ok := profiles[views[i].UserID]; ok {
			p := p
			views[i].User = &p
		}
	}
	return nil
}
