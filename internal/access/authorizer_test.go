package access_test

import (
	"context"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"docgate/internal/access"
	"docgate/internal/model"
)

type authorizerSuite struct {
	storeSuite
	docs       *fakeDocs
	authorizer *access.Authorizer
}

var _ = gc.Suite(&authorizerSuite{})

func (s *authorizerSuite) SetUpTest(c *gc.C) {
	s.storeSuite.SetUpTest(c)
	s.docs = &fakeDocs{cabinets: map[uint][]uint{}}
	s.authorizer = access.NewAuthorizer(s.store, s.docs, s.clock, nopLogger())
}

func (s *authorizerSuite) check(c *gc.C, documentID uint) access.Decision {
	d, err := s.authorizer.CheckAccess(context.Background(), s.alice.ID, documentID)
	c.Assert(err, jc.ErrorIsNil)
	return d
}

func (s *authorizerSuite) TestActiveGrant(c *gc.C) {
	start, end := window(-time.Hour, 2*time.Hour)
	g := s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsTrue)
	c.Check(d.Reason, gc.Equals, access.ReasonTemporaryAccess)
	c.Check(d.AccessType, gc.Equals, model.AccessRead)
	c.Assert(d.TimeRemaining, gc.NotNil)
	c.Check(*d.TimeRemaining, gc.Equals, int64(7200))
	c.Assert(d.GrantID, gc.NotNil)
	c.Check(*d.GrantID, gc.Equals, g.ID)
	c.Assert(d.ExpiresAt, gc.NotNil)
	c.Check(d.ExpiresAt.Equal(end), jc.IsTrue)
}

func (s *authorizerSuite) TestPendingGrant(c *gc.C) {
	start, end := window(time.Hour, 2*time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsFalse)
	c.Check(d.Reason, gc.Equals, access.ReasonPending)
	c.Check(d.TimeRemaining, gc.IsNil)
}

func (s *authorizerSuite) TestExpiredGrant(c *gc.C) {
	start, end := window(-2*time.Hour, -time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsFalse)
	c.Check(d.Reason, gc.Equals, access.ReasonExpired)
}

func (s *authorizerSuite) TestRevokedGrant(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: false})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsFalse)
	c.Check(d.Reason, gc.Equals, access.ReasonRevoked)
}

func (s *authorizerSuite) TestNoGrant(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(7), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsFalse)
	c.Check(d.Reason, gc.Equals, access.ReasonNoAccess)
}

func (s *authorizerSuite) TestOtherUsersGrantsDoNotApply(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{UserID: s.admin.ID, DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsFalse)
	c.Check(d.Reason, gc.Equals, access.ReasonNoAccess)
}

func (s *authorizerSuite) TestDenialPrecedence(c *gc.C) {
	revokedStart, revokedEnd := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: revokedStart, EndDate: revokedEnd, IsActive: false})
	c.Check(s.check(c, 42).Reason, gc.Equals, access.ReasonRevoked)

	expiredStart, expiredEnd := window(-3*time.Hour, -2*time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: expiredStart, EndDate: expiredEnd, IsActive: true})
	c.Check(s.check(c, 42).Reason, gc.Equals, access.ReasonExpired)

	pendingStart, pendingEnd := window(2*time.Hour, 3*time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: pendingStart, EndDate: pendingEnd, IsActive: true})
	c.Check(s.check(c, 42).Reason, gc.Equals, access.ReasonPending)
}

func (s *authorizerSuite) TestAnyValidGrantWins(c *gc.C) {
	expiredStart, expiredEnd := window(-3*time.Hour, -2*time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: expiredStart, EndDate: expiredEnd, IsActive: true})
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsTrue)
}

func (s *authorizerSuite) TestMostPermissiveLevelWins(c *gc.C) {
	start, _ := window(-time.Hour, 0)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: epoch.Add(5 * time.Hour), AccessType: model.AccessRead, IsActive: true})
	write := s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: epoch.Add(time.Hour), AccessType: model.AccessWrite, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.AccessType, gc.Equals, model.AccessWrite)
	c.Check(*d.GrantID, gc.Equals, write.ID)
	c.Check(*d.TimeRemaining, gc.Equals, int64(3600))
}

func (s *authorizerSuite) TestLongestRunwayAtSameLevel(c *gc.C) {
	start, _ := window(-time.Hour, 0)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: epoch.Add(time.Hour), IsActive: true})
	longer := s.addGrant(c, model.AccessGrant{StartDate: start, EndDate: epoch.Add(3 * time.Hour), IsActive: true})

	d := s.check(c, 42)
	c.Check(*d.GrantID, gc.Equals, longer.ID)
	c.Check(*d.TimeRemaining, gc.Equals, int64(3*3600))
}

func (s *authorizerSuite) TestGlobalGrantCoversEveryDocument(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{StartDate: start, EndDate: end, AccessType: model.AccessAdmin, IsActive: true})

	for _, id := range []uint{1, 42, 9000} {
		d := s.check(c, id)
		c.Check(d.HasAccess, jc.IsTrue)
		c.Check(d.AccessType, gc.Equals, model.AccessAdmin)
	}
	c.Check(s.docs.calls, gc.Equals, 0)
}

func (s *authorizerSuite) TestCabinetGrant(c *gc.C) {
	s.docs.cabinets[42] = []uint{3, 5}
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: start, EndDate: end, IsActive: true})

	c.Check(s.check(c, 42).HasAccess, jc.IsTrue)
	c.Check(s.check(c, 43).HasAccess, jc.IsFalse)
}

func (s *authorizerSuite) TestUpstreamFailureDeniesCabinetGrants(c *gc.C) {
	s.docs.err = errors.Annotate(access.ErrUpstreamUnavailable, "connection refused")
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsFalse)
	c.Check(d.Reason, gc.Equals, access.ReasonUpstreamUnavailable)
}

func (s *authorizerSuite) TestUpstreamFailureKeepsDocumentGrants(c *gc.C) {
	s.docs.err = access.ErrUpstreamUnavailable
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: start, EndDate: end, AccessType: model.AccessAdmin, IsActive: true})
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsTrue)
	c.Check(d.AccessType, gc.Equals, model.AccessRead)
}

func (s *authorizerSuite) TestDecisionFollowsClock(c *gc.C) {
	start, end := window(time.Minute, 2*time.Minute)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(42), StartDate: start, EndDate: end, IsActive: true})

	c.Check(s.check(c, 42).Reason, gc.Equals, access.ReasonPending)
	s.clock.Advance(90 * time.Second)
	d := s.check(c, 42)
	c.Check(d.HasAccess, jc.IsTrue)
	c.Check(*d.TimeRemaining, gc.Equals, int64(30))
	s.clock.Advance(time.Minute)
	c.Check(s.check(c, 42).Reason, gc.Equals, access.ReasonExpired)
}

func (s *authorizerSuite) TestNilRepositoryIgnoresCabinetGrants(c *gc.C) {
	authorizer := access.NewAuthorizer(s.store, nil, s.clock, nopLogger())
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: start, EndDate: end, IsActive: true})

	d, err := authorizer.CheckAccess(context.Background(), s.alice.ID, 42)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(d.Reason, gc.Equals, access.ReasonUpstreamUnavailable)
}

func (s *authorizerSuite) TestAdminDecision(c *gc.C) {
	d := access.AdminDecision()
	c.Check(d.HasAccess, jc.IsTrue)
	c.Check(d.Reason, gc.Equals, access.ReasonAdmin)
}

func (s *authorizerSuite) TestScopeKeepsValidGrantsOnly(c *gc.C) {
	active, activeEnd := window(-time.Hour, time.Hour)
	pending, pendingEnd := window(time.Hour, 2*time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(1), StartDate: active, EndDate: activeEnd, IsActive: true})
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(2), StartDate: pending, EndDate: pendingEnd, IsActive: true})
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(3), StartDate: active, EndDate: activeEnd, IsActive: false})
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: active, EndDate: activeEnd, IsActive: true})

	scope, err := s.authorizer.ScopeOf(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(scope.Empty(), jc.IsFalse)
	c.Check(scope.Global, jc.IsFalse)
	c.Check(scope.Documents, jc.DeepEquals, map[uint]struct{}{1: {}})
	c.Check(scope.Cabinets, jc.DeepEquals, map[uint]struct{}{5: {}})
}

func (s *authorizerSuite) TestScopeEmptyWithoutValidGrants(c *gc.C) {
	start, end := window(-2*time.Hour, -time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(1), StartDate: start, EndDate: end, IsActive: true})

	scope, err := s.authorizer.ScopeOf(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(scope.Empty(), jc.IsTrue)
}

func (s *authorizerSuite) TestFilterDocuments(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{DocumentID: uintPtr(1), StartDate: start, EndDate: end, IsActive: true})
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: start, EndDate: end, IsActive: true})
	s.docs.cabinets[3] = []uint{5}
	s.docs.cabinets[4] = []uint{6}

	scope, err := s.authorizer.ScopeOf(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	allowed := s.authorizer.FilterDocuments(context.Background(), scope, []uint{4, 3, 2, 1})
	c.Check(allowed, jc.DeepEquals, []uint{3, 1})
}

func (s *authorizerSuite) TestFilterDocumentsGlobal(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{StartDate: start, EndDate: end, IsActive: true})

	scope, err := s.authorizer.ScopeOf(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(scope.Global, jc.IsTrue)
	c.Check(s.authorizer.FilterDocuments(context.Background(), scope, []uint{7, 8}), jc.DeepEquals, []uint{7, 8})
	c.Check(s.docs.calls, gc.Equals, 0)
}

func (s *authorizerSuite) TestFilterDocumentsHidesUnresolvedCabinets(c *gc.C) {
	start, end := window(-time.Hour, time.Hour)
	s.addGrant(c, model.AccessGrant{CabinetID: uintPtr(5), StartDate: start, EndDate: end, IsActive: true})
	s.docs.cabinets[3] = []uint{5}
	s.docs.err = errors.Annotate(access.ErrUpstreamUnavailable, "down")

	scope, err := s.authorizer.ScopeOf(context.Background(), s.alice.ID)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.authorizer.FilterDocuments(context.Background(), scope, []uint{3}), gc.HasLen, 0)
}
