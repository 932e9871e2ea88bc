package access

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"docgate/internal/model"
)

// DocumentRepository answers questions about documents held by the external
// document store.
type DocumentRepository interface {
	// DocumentCabinets returns the ids of the cabinets holding the document.
	// A document that does not exist is in no cabinet.
	DocumentCabinets(ctx context.Context, documentID uint) ([]uint, error)
}

// Decision reasons.
const (
	ReasonAdmin               = "admin"
	ReasonTemporaryAccess     = "temporary_access"
	ReasonPending             = "pending"
	ReasonExpired             = "expired"
	ReasonRevoked             = "revoked"
	ReasonNoAccess            = "no_access"
	ReasonUpstreamUnavailable = "upstream_unavailable"
)

// Denial reasons in increasing order of precedence.
var denialRanks = map[State]int{
	StateRevoked: 1,
	StateExpired: 2,
	StatePending: 3,
}

// Decision is the answer to "may this user open this document right now".
type Decision struct {
	HasAccess     bool             `json:"has_access"`
	Reason        string           `json:"reason"`
	AccessType    model.AccessType `json:"access_type,omitempty"`
	TimeRemaining *int64           `json:"time_remaining,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	GrantID       *uint            `json:"grant_id,omitempty"`
}

// AdminDecision is the decision for administrators, who bypass grants.
func AdminDecision() Decision {
	return Decision{HasAccess: true, Reason: ReasonAdmin, AccessType: model.AccessAdmin}
}

// Authorizer decides document access from a user's grants.
type Authorizer struct {
	store  Store
	docs   DocumentRepository
	eval   *Evaluator
	logger zerolog.Logger
}

// NewAuthorizer returns an Authorizer. docs may be nil, in which case
// cabinet grants can never be matched.
func NewAuthorizer(store Store, docs DocumentRepository, clk clock.Clock, logger zerolog.Logger) *Authorizer {
	return &Authorizer{
		store:  store,
		docs:   docs,
		eval:   NewEvaluator(clk),
		logger: logger.With().Str("component", "authorizer").Logger(),
	}
}

// CheckAccess reports whether the user currently holds a valid grant covering
// the document. Among valid grants the most permissive level wins, and the
// remaining time is the longest runway at that level. When the document
// repository cannot be reached, cabinet grants are ignored and a denial is
// reported as upstream_unavailable.
func (a *Authorizer) CheckAccess(ctx context.Context, userID, documentID uint) (Decision, error) {
	grants, err := a.store.ListCandidates(ctx, userID, documentID)
	if err != nil {
		return Decision{}, errors.Annotatef(err, "checking access of user %d to document %d", userID, documentID)
	}

	applicable, upstreamErr := a.applicable(ctx, grants, documentID)
	if upstreamErr != nil {
		a.logger.Warn().
			Err(upstreamErr).
			Uint("user_id", userID).
			Uint("document_id", documentID).
			Msg("cabinet membership unavailable, ignoring cabinet grants")
	}

	d := decide(applicable, a.eval.Now(), upstreamErr != nil)
	result := "denied"
	if d.HasAccess {
		result = "granted"
	}
	accessChecksTotal.WithLabelValues(result, d.Reason).Inc()
	return d, nil
}

// applicable keeps the grants that cover the document. The returned error is
// set when cabinet grants exist but membership could not be resolved.
func (a *Authorizer) applicable(ctx context.Context, grants []model.AccessGrant, documentID uint) ([]model.AccessGrant, error) {
	var matched, cabinetScoped []model.AccessGrant
	for _, g := range grants {
		switch {
		case g.DocumentID != nil:
			if *g.DocumentID == documentID {
				matched = append(matched, g)
			}
		case g.CabinetID != nil:
			cabinetScoped = append(cabinetScoped, g)
		default:
			matched = append(matched, g)
		}
	}
	if len(cabinetScoped) == 0 {
		return matched, nil
	}
	if a.docs == nil {
		return matched, errors.Annotate(ErrUpstreamUnavailable, "no document repository configured")
	}

	cabinets, err := a.docs.DocumentCabinets(ctx, documentID)
	if err != nil {
		return matched, errors.Annotatef(err, "resolving cabinets of document %d", documentID)
	}
	holding := make(map[uint]struct{}, len(cabinets))
	for _, id := range cabinets {
		holding[id] = struct{}{}
	}
	for _, g := range cabinetScoped {
		if _, ok := holding[*g.CabinetID]; ok {
			matched = append(matched, g)
		}
	}
	return matched, nil
}

func decide(grants []model.AccessGrant, now time.Time, upstreamFailed bool) Decision {
	var (
		best       *model.AccessGrant
		bestStatus Status
		denial     = ReasonNoAccess
		denialRank int
	)
	for i := range grants {
		g := &grants[i]
		st := Evaluate(g, now)
		if !st.IsValid {
			state := st.State()
			if rank := denialRanks[state]; rank > denialRank {
				denialRank = rank
				denial = string(state)
			}
			continue
		}
		switch {
		case best == nil,
			g.AccessType.Rank() > best.AccessType.Rank(),
			g.AccessType.Rank() == best.AccessType.Rank() && st.Remaining > bestStatus.Remaining:
			best, bestStatus = g, st
		}
	}

	if best == nil {
		if upstreamFailed {
			denial = ReasonUpstreamUnavailable
		}
		return Decision{HasAccess: false, Reason: denial}
	}

	remaining := bestStatus.RemainingSeconds()
	expiresAt := best.EndDate
	grantID := best.ID
	return Decision{
		HasAccess:     true,
		Reason:        ReasonTemporaryAccess,
		AccessType:    best.AccessType,
		TimeRemaining: &remaining,
		ExpiresAt:     &expiresAt,
		GrantID:       &grantID,
	}
}

// Scope is what the valid grants of a user cover at one instant.
type Scope struct {
	Global    bool
	Documents map[uint]struct{}
	Cabinets  map[uint]struct{}
}

// Empty reports whether the user holds no valid grant at all.
func (s Scope) Empty() bool {
	return !s.Global && len(s.Documents) == 0 && len(s.Cabinets) == 0
}

// ScopeOf collects the targets of every grant of the user that is valid now.
func (a *Authorizer) ScopeOf(ctx context.Context, userID uint) (Scope, error) {
	grants, err := a.store.ListForUser(ctx, userID)
	if err != nil {
		return Scope{}, errors.Annotatef(err, "listing grants of user %d", userID)
	}
	now := a.eval.Now()
	scope := Scope{Documents: map[uint]struct{}{}, Cabinets: map[uint]struct{}{}}
	for i := range grants {
		g := &grants[i]
		if !Evaluate(g, now).IsValid {
			continue
		}
		switch {
		case g.DocumentID != nil:
			scope.Documents[*g.DocumentID] = struct{}{}
		case g.CabinetID != nil:
			scope.Cabinets[*g.CabinetID] = struct{}{}
		default:
			scope.Global = true
		}
	}
	return scope, nil
}

// FilterDocuments keeps the ids covered by scope, in order. Documents whose
// cabinets cannot be resolved are left out.
func (a *Authorizer) FilterDocuments(ctx context.Context, scope Scope, documentIDs []uint) []uint {
	allowed := make([]uint, 0, len(documentIDs))
	for _, id := range documentIDs {
		if _, ok := scope.Documents[id]; ok || scope.Global || a.inCabinets(ctx, scope.Cabinets, id) {
			allowed = append(allowed, id)
		}
	}
	return allowed
}

func (a *Authorizer) inCabinets(ctx context.Context, cabinets map[uint]struct{}, documentID uint) bool {
	if len(cabinets) == 0 || a.docs == nil {
		return false
	}
	held, err := a.docs.DocumentCabinets(ctx, documentID)
	if err != nil {
		a.logger.Warn().Err(err).Uint("document_id", documentID).Msg("cabinet membership unavailable, hiding document")
		return false
	}
	for _, id := range held {
		if _, ok := cabinets[id]; ok {
			return true
		}
	}
	return false
}
