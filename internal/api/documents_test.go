package api_test

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/rs/zerolog"
	gc "gopkg.in/check.v1"

	"docgate/internal/access"
	"docgate/internal/mayan"
)

// fakeDocuments is an in-memory document repository.
type fakeDocuments struct {
	docs     map[uint]mayan.Document
	cabinets map[uint][]uint
	err      error

	page, perPage int
}

func newFakeDocuments(ids ...uint) *fakeDocuments {
	f := &fakeDocuments{docs: map[uint]mayan.Document{}, cabinets: map[uint][]uint{}}
	for _, id := range ids {
		f.docs[id] = mayan.Document{ID: id, Label: "doc-" + itoa(id)}
	}
	return f
}

func (f *fakeDocuments) Ping(context.Context) error {
	return f.err
}

func (f *fakeDocuments) DocumentCabinets(_ context.Context, documentID uint) ([]uint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cabinets[documentID], nil
}

func (f *fakeDocuments) GetDocument(_ context.Context, documentID uint) (mayan.Document, error) {
	if f.err != nil {
		return mayan.Document{}, f.err
	}
	doc, ok := f.docs[documentID]
	if !ok {
		return mayan.Document{}, errors.NotFoundf("document %d", documentID)
	}
	return doc, nil
}

func (f *fakeDocuments) ListDocuments(_ context.Context, page, perPage int) (mayan.DocumentPage, error) {
	f.page, f.perPage = page, perPage
	if f.err != nil {
		return mayan.DocumentPage{}, f.err
	}
	out := mayan.DocumentPage{Count: len(f.docs), Results: []mayan.Document{}}
	for _, doc := range f.docs {
		out.Results = append(out.Results, doc)
	}
	sort.Slice(out.Results, func(i, j int) bool { return out.Results[i].ID < out.Results[j].ID })
	return out, nil
}

type documentPage struct {
	Count   int              `json:"count"`
	Results []mayan.Document `json:"results"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

func (s *routerSuite) serveDocuments(ids ...uint) {
	s.docs = newFakeDocuments(ids...)
	s.router = s.newRouter(zerolog.Nop())
}

func (s *routerSuite) grantFor(c *gc.C, target map[string]any, start, end time.Duration) {
	body := map[string]any{
		"user_id":    s.alice.ID,
		"start_date": epoch.Add(start),
		"end_date":   epoch.Add(end),
	}
	for k, v := range target {
		body[k] = v
	}
	s.createGrant(c, body)
}

func (s *routerSuite) listDocuments(c *gc.C, token, query string) documentPage {
	rec := s.do(c, http.MethodGet, "/api/documents"+query, token, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK, gc.Commentf("body: %s", rec.Body.String()))
	var page documentPage
	decode(c, rec, &page)
	return page
}

func documentIDs(page documentPage) []uint {
	ids := make([]uint, len(page.Results))
	for i, doc := range page.Results {
		ids[i] = doc.ID
	}
	return ids
}

func (s *routerSuite) TestDocumentsNotConfigured(c *gc.C) {
	rec := s.do(c, http.MethodGet, "/api/documents/1", s.adminToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusServiceUnavailable)
	rec = s.do(c, http.MethodGet, "/api/documents", s.adminToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusServiceUnavailable)
}

func (s *routerSuite) TestGetDocumentGranted(c *gc.C) {
	s.serveDocuments(42)
	s.grantFor(c, map[string]any{"document_id": 42}, -time.Hour, time.Hour)

	rec := s.do(c, http.MethodGet, "/api/documents/42", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK, gc.Commentf("body: %s", rec.Body.String()))
	var doc mayan.Document
	decode(c, rec, &doc)
	c.Check(doc.ID, gc.Equals, uint(42))
	c.Check(doc.Label, gc.Equals, "doc-42")
}

func (s *routerSuite) TestGetDocumentDenied(c *gc.C) {
	s.serveDocuments(42, 43)
	s.grantFor(c, map[string]any{"document_id": 43}, time.Hour, 2*time.Hour)

	var out map[string]string
	rec := s.do(c, http.MethodGet, "/api/documents/42", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusForbidden)
	decode(c, rec, &out)
	c.Check(out["reason"], gc.Equals, access.ReasonNoAccess)

	rec = s.do(c, http.MethodGet, "/api/documents/43", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusForbidden)
	decode(c, rec, &out)
	c.Check(out["reason"], gc.Equals, access.ReasonPending)

	s.clock.Advance(90 * time.Minute)
	rec = s.do(c, http.MethodGet, "/api/documents/43", s.aliceToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusOK)
}

func (s *routerSuite) TestGetDocumentUpstreamDown(c *gc.C) {
	s.serveDocuments(42, 43)
	s.docs.cabinets[42] = []uint{5}
	s.grantFor(c, map[string]any{"cabinet_id": 5}, -time.Hour, time.Hour)
	s.grantFor(c, map[string]any{"document_id": 43}, -time.Hour, time.Hour)

	rec := s.do(c, http.MethodGet, "/api/documents/42", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusOK)

	s.docs.err = errors.Annotate(access.ErrUpstreamUnavailable, "connection refused")
	var out map[string]string
	rec = s.do(c, http.MethodGet, "/api/documents/42", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusServiceUnavailable)
	decode(c, rec, &out)
	c.Check(out["reason"], gc.Equals, access.ReasonUpstreamUnavailable)

	rec = s.do(c, http.MethodGet, "/api/documents/43", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusServiceUnavailable)
	decode(c, rec, &out)
	c.Check(out["error"], gc.Equals, "document repository unavailable")
}

func (s *routerSuite) TestGetDocumentAdminBypass(c *gc.C) {
	s.serveDocuments(42)

	rec := s.do(c, http.MethodGet, "/api/documents/42", s.adminToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusOK)
	rec = s.do(c, http.MethodGet, "/api/documents/7", s.adminToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusNotFound)
}

func (s *routerSuite) TestListDocumentsFiltered(c *gc.C) {
	s.serveDocuments(1, 2, 3, 4)
	s.docs.cabinets[3] = []uint{5}
	s.grantFor(c, map[string]any{"document_id": 1}, -time.Hour, time.Hour)
	s.grantFor(c, map[string]any{"document_id": 2}, -2*time.Hour, -time.Hour)
	s.grantFor(c, map[string]any{"cabinet_id": 5}, -time.Hour, time.Hour)

	page := s.listDocuments(c, s.aliceToken, "")
	c.Check(documentIDs(page), jc.DeepEquals, []uint{1, 3})
	c.Check(page.Count, gc.Equals, 2)
	c.Check(page.Page, gc.Equals, 1)
	c.Check(page.PerPage, gc.Equals, access.DefaultPerPage)
}

func (s *routerSuite) TestListDocumentsGlobalGrant(c *gc.C) {
	s.serveDocuments(1, 2, 3)
	s.grantFor(c, nil, -time.Hour, time.Hour)

	page := s.listDocuments(c, s.aliceToken, "")
	c.Check(documentIDs(page), jc.DeepEquals, []uint{1, 2, 3})
	c.Check(page.Count, gc.Equals, 3)
}

func (s *routerSuite) TestListDocumentsRequiresValidGrant(c *gc.C) {
	s.serveDocuments(1)
	s.grantFor(c, map[string]any{"document_id": 1}, -2*time.Hour, -time.Hour)

	var out map[string]string
	rec := s.do(c, http.MethodGet, "/api/documents", s.aliceToken, nil)
	c.Assert(rec.Code, gc.Equals, http.StatusForbidden)
	decode(c, rec, &out)
	c.Check(out["reason"], gc.Equals, access.ReasonNoAccess)
	c.Check(s.docs.page, gc.Equals, 0)
}

func (s *routerSuite) TestListDocumentsAdminPaging(c *gc.C) {
	s.serveDocuments(1, 2)

	page := s.listDocuments(c, s.adminToken, "?page=0&per_page=500")
	c.Check(documentIDs(page), jc.DeepEquals, []uint{1, 2})
	c.Check(s.docs.page, gc.Equals, 1)
	c.Check(s.docs.perPage, gc.Equals, access.MaxPerPage)

	rec := s.do(c, http.MethodGet, "/api/documents?page=x", s.adminToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusBadRequest)
}

func (s *routerSuite) TestListDocumentsUpstreamDown(c *gc.C) {
	s.serveDocuments(1)
	s.grantFor(c, map[string]any{"document_id": 1}, -time.Hour, time.Hour)
	s.docs.err = errors.Annotate(access.ErrUpstreamUnavailable, "connection refused")

	rec := s.do(c, http.MethodGet, "/api/documents", s.aliceToken, nil)
	c.Check(rec.Code, gc.Equals, http.StatusServiceUnavailable)
}
