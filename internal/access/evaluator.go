package access

import (
	"time"

	"github.com/juju/clock"

	"docgate/internal/model"
)

// State is the display state of a grant. Every grant is in exactly one state.
type State string

const (
	StateActive  State = "active"
	StatePending State = "pending"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Status is the derived view of a grant at a given instant. It is computed on
// every read and never persisted.
type Status struct {
	IsActive  bool
	IsValid   bool
	IsExpired bool
	IsPending bool
	// Remaining is EndDate minus now. Negative once the window has passed.
	Remaining time.Duration
}

// Evaluate computes the status of g at now. Revocation makes the grant
// invalid but the window flags are still derived from the dates alone.
func Evaluate(g *model.AccessGrant, now time.Time) Status {
	expired := now.After(g.EndDate)
	pending := now.Before(g.StartDate)
	return Status{
		IsActive:  g.IsActive,
		IsValid:   g.IsActive && !expired && !pending,
		IsExpired: expired,
		IsPending: pending,
		Remaining: g.EndDate.Sub(now),
	}
}

// RemainingSeconds is the remaining window in whole seconds, never negative.
func (s Status) RemainingSeconds() int64 {
	if s.IsExpired || s.Remaining <= 0 {
		return 0
	}
	return int64(s.Remaining / time.Second)
}

// State buckets the status. Revocation wins over the time window.
func (s Status) State() State {
	switch {
	case !s.IsActive:
		return StateRevoked
	case s.IsPending:
		return StatePending
	case s.IsExpired:
		return StateExpired
	default:
		return StateActive
	}
}

// Evaluator evaluates grants against a clock.
type Evaluator struct {
	clock clock.Clock
}

// NewEvaluator returns an Evaluator reading time from clk. A nil clock means
// the wall clock.
func NewEvaluator(clk clock.Clock) *Evaluator {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Evaluator{clock: clk}
}

func (e *Evaluator) Now() time.Time {
	return e.clock.Now()
}

// Evaluate evaluates g at the current clock time.
func (e *Evaluator) Evaluate(g *model.AccessGrant) Status {
	return Evaluate(g, e.clock.Now())
}

// View is a grant together with its derived fields, as returned to callers.
type View struct {
	model.AccessGrant
	IsValid       bool         `json:"is_valid"`
	IsExpired     bool         `json:"is_expired"`
	IsPending     bool         `json:"is_pending"`
	TimeRemaining int64        `json:"time_remaining"`
	User          *UserProfile `json:"user,omitempty"`
}

// NewView evaluates g at now and wraps it for presentation.
func NewView(g model.AccessGrant, now time.Time) View {
	st := Evaluate(&g, now)
	return View{
		AccessGrant:   g,
		IsValid:       st.IsValid,
		IsExpired:     st.IsExpired,
		IsPending:     st.IsPending,
		TimeRemaining: st.RemainingSeconds(),
	}
}
