package access_test

import (
	"context"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"docgate/internal/access"
	"docgate/internal/model"
)

type dashboardSuite struct {
	storeSuite
	dashboards *access.Dashboards
}

var _ = gc.Suite(&dashboardSuite{})

func (s *dashboardSuite) SetUpTest(c *gc.C) {
	s.storeSuite.SetUpTest(c)
	s.dashboards = access.NewDashboards(s.store, s.clock)
}

func (s *dashboardSuite) seed(c *gc.C) {
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(1), StartDate: epoch.Add(-time.Hour), EndDate: epoch.Add(time.Hour), IsActive: true})
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(2), StartDate: epoch.Add(-time.Hour), EndDate: epoch.Add(2 * time.Hour), IsActive: true})
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(3), StartDate: epoch.Add(time.Hour), EndDate: epoch.Add(2 * time.Hour), IsActive: true})
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(4), StartDate: epoch.Add(-2 * time.Hour), EndDate: epoch.Add(-time.Hour), IsActive: true})
	// Revoked wins over the expired window.
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(5), StartDate: epoch.Add(-2 * time.Hour), EndDate: epoch.Add(-time.Hour), IsActive: false})
	s.addGrant(c, model.AccessGrant{UserID: s.admin.ID, DocumentID: uintPtr(6), StartDate: epoch.Add(-time.Hour), EndDate: epoch.Add(time.Hour), IsActive: true})
}

func (s *dashboardSuite) TestBuildPartitionsGrants(c *gc.C) {
	s.seed(c)

	dash, err := s.dashboards.Build(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(dash.Total, gc.Equals, 5)
	c.Check(dash.Active.Count, gc.Equals, 2)
	c.Check(dash.Pending.Count, gc.Equals, 1)
	c.Check(dash.Expired.Count, gc.Equals, 1)
	c.Check(dash.Revoked.Count, gc.Equals, 1)
	c.Check(dash.Active.Count+dash.Pending.Count+dash.Expired.Count+dash.Revoked.Count, gc.Equals, dash.Total)

	c.Check(*dash.Pending.Accesses[0].DocumentID, gc.Equals, uint(3))
	c.Check(*dash.Expired.Accesses[0].DocumentID, gc.Equals, uint(4))
	c.Check(*dash.Revoked.Accesses[0].DocumentID, gc.Equals, uint(5))
	for _, v := range dash.Active.Accesses {
		c.Check(v.IsValid, jc.IsTrue)
		c.Check(v.UserID, gc.Equals, s.alice.ID)
	}
}

func (s *dashboardSuite) TestBuildEmpty(c *gc.C) {
	dash, err := s.dashboards.Build(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(dash.Total, gc.Equals, 0)
	c.Check(dash.Active.Accesses, gc.NotNil)
	c.Check(dash.Revoked.Accesses, gc.HasLen, 0)
}

func (s *dashboardSuite) TestBuildMovesWithClock(c *gc.C) {
	s.seed(c)
	s.clock.Advance(90 * time.Minute)

	dash, err := s.dashboards.Build(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(dash.Active.Count, gc.Equals, 2)
	c.Check(dash.Pending.Count, gc.Equals, 0)
	c.Check(dash.Expired.Count, gc.Equals, 2)
}

func (s *dashboardSuite) TestForUser(c *gc.C) {
	s.seed(c)

	all, err := s.dashboards.ForUser(context.Background(), s.alice.ID, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all, gc.HasLen, 5)

	valid, err := s.dashboards.ForUser(context.Background(), s.alice.ID, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(valid, gc.HasLen, 2)
	for _, v := range valid {
		c.Check(v.IsValid, jc.IsTrue)
	}
}
