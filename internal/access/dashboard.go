package access

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Bucket is one section of the dashboard.
type Bucket struct {
	Count    int    `json:"count"`
	Accesses []View `json:"accesses"`
}

func (b *Bucket) add(v View) {
	b.Accesses = append(b.Accesses, v)
	b.Count++
}

// Dashboard groups every grant of a user by state. Each grant is in exactly
// one bucket, so the bucket counts add up to Total.
type Dashboard struct {
	Active  Bucket `json:"active"`
	Pending Bucket `json:"pending"`
	Expired Bucket `json:"expired"`
	Revoked Bucket `json:"revoked"`
	Total   int    `json:"total"`
}

// Dashboards builds per-user dashboards.
type Dashboards struct {
	store Store
	eval  *Evaluator
}

func NewDashboards(store Store, clk clock.Clock) *Dashboards {
	return &Dashboards{store: store, eval: NewEvaluator(clk)}
}

// Build evaluates every grant of the user at the current time. Buckets keep
// the store order, newest grant first.
func (d *Dashboards) Build(ctx context.Context, userID uint) (Dashboard, error) {
	grants, err := d.store.ListForUser(ctx, userID)
	if err != nil {
		return Dashboard{}, errors.Annotatef(err, "building dashboard of user %d", userID)
	}

	now := d.eval.Now()
	dash := Dashboard{
		Active:  Bucket{Accesses: []View{}},
		Pending: Bucket{Accesses: []View{}},
		Expired: Bucket{Accesses: []View{}},
		Revoked: Bucket{Accesses: []View{}},
		Total:   len(grants),
	}
	for _, g := range grants {
		st := Evaluate(&g, now)
		v := NewView(g, now)
		switch st.State() {
		case StateRevoked:
			dash.Revoked.add(v)
		case StatePending:
			dash.Pending.add(v)
		case StateExpired:
			dash.Expired.add(v)
		default:
			dash.Active.add(v)
		}
	}
	return dash, nil
}

// ForUser lists the grants of the user with derived fields, optionally
// keeping only those valid right now.
func (d *Dashboards) ForUser(ctx context.Context, userID uint, validOnly bool) ([]View, error) {
	grants, err := d.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, errors.Annotatef(err, "listing grants of user %d", userID)
	}

	now := d.eval.Now()
	views := make([]View, 0, len(grants))
	for _, g := range grants {
		v := NewView(g, now)
		if validOnly && !v.IsValid {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}
