package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docgate/internal/access"
	"docgate/internal/mayan"
)

// DocumentSource serves document metadata from the document repository.
type DocumentSource interface {
	Pinger
	GetDocument(ctx context.Context, documentID uint) (mayan.Document, error)
	ListDocuments(ctx context.Context, page, perPage int) (mayan.DocumentPage, error)
}

func deny(c *gin.Context, reason string) {
	status := http.StatusForbidden
	if reason == access.ReasonUpstreamUnavailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": "access denied", "reason": reason})
}

func requireDocuments(c *gin.Context, docs DocumentSource) bool {
	if docs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document repository not configured"})
		return false
	}
	return true
}

// GetDocument returns a document's metadata when the caller may open it now.
func GetDocument(a *access.Authorizer, docs DocumentSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, ok := parseID(c, "id")
		if !ok || !requireDocuments(c, docs) {
			return
		}
		ctx := c.Request.Context()

		if actor := actorOf(c); !actor.IsAdmin() {
			d, err := a.CheckAccess(ctx, actor.UserID, documentID)
			if err != nil {
				writeError(c, err)
				return
			}
			if !d.HasAccess {
				deny(c, d.Reason)
				return
			}
		}

		doc, err := docs.GetDocument(ctx, documentID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// ListDocuments returns a page of the repository listing, narrowed to the
// documents the caller may open. Users without any valid grant are refused.
func ListDocuments(a *access.Authorizer, docs DocumentSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireDocuments(c, docs) {
			return
		}
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(access.DefaultPerPage)))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid per_page"})
			return
		}
		page = max(page, 1)
		if perPage < 1 {
			perPage = access.DefaultPerPage
		}
		perPage = min(perPage, access.MaxPerPage)

		ctx := c.Request.Context()
		actor := actorOf(c)
		var scope access.Scope
		if !actor.IsAdmin() {
			if scope, err = a.ScopeOf(ctx, actor.UserID); err != nil {
				writeError(c, err)
				return
			}
			if scope.Empty() {
				deny(c, access.ReasonNoAccess)
				return
			}
		}

		result, err := docs.ListDocuments(ctx, page, perPage)
		if err != nil {
			writeError(c, err)
			return
		}
		if !actor.IsAdmin() && !scope.Global {
			ids := make([]uint, len(result.Results))
			for i, doc := range result.Results {
				ids[i] = doc.ID
			}
			allowed := make(map[uint]struct{}, len(ids))
			for _, id := range a.FilterDocuments(ctx, scope, ids) {
				allowed[id] = struct{}{}
			}
			visible := make([]mayan.Document, 0, len(allowed))
			for _, doc := range result.Results {
				if _, ok := allowed[doc.ID]; ok {
					visible = append(visible, doc)
				}
			}
			result.Results = visible
			result.Count = len(visible)
		}

		c.JSON(http.StatusOK, gin.H{
			"count":    result.Count,
			"results":  result.Results,
			"page":     page,
			"per_page": perPage,
		})
	}
}
