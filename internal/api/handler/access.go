package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docgate/internal/access"
	"docgate/internal/model"
)

type grantInput struct {
	UserID     uint             `json:"user_id"`
	DocumentID *uint            `json:"document_id"`
	CabinetID  *uint            `json:"cabinet_id"`
	StartDate  *time.Time       `json:"start_date"`
	EndDate    *time.Time       `json:"end_date"`
	AccessType model.AccessType `json:"access_type"`
	Reason     *string          `json:"reason"`
}

// ListAccesses returns a filtered page of grants. Admin only.
func ListAccesses(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f access.Filter
		ids := []struct {
			name string
			dst  **uint
		}{{"user_id", &f.UserID}, {"document_id", &f.DocumentID}}
		for _, p := range ids {
			if v := c.Query(p.name); v != "" {
				id, err := strconv.ParseUint(v, 10, 32)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + p.name})
					return
				}
				u := uint(id)
				*p.dst = &u
			}
		}
		flags := []struct {
			name string
			dst  **bool
		}{{"active", &f.Active}, {"valid", &f.Valid}}
		for _, p := range flags {
			if v := c.Query(p.name); v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + p.name})
					return
				}
				*p.dst = &b
			}
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

		result, err := m.List(c.Request.Context(), f, page, perPage)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func GetAccess(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		v, err := m.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func CreateAccess(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input grantInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		v, err := m.Create(c.Request.Context(), actorOf(c), access.CreateRequest{
			UserID:     input.UserID,
			DocumentID: input.DocumentID,
			CabinetID:  input.CabinetID,
			StartDate:  input.StartDate,
			EndDate:    input.EndDate,
			AccessType: input.AccessType,
			Reason:     input.Reason,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// CreateAccessBatch grants one user access to several documents at once.
// Items fail independently; the response reports each of them.
func CreateAccessBatch(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			grantInput
			DocumentIDs []uint `json:"document_ids"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := m.CreateBatch(c.Request.Context(), actorOf(c), access.BatchRequest{
			UserID:      input.UserID,
			DocumentIDs: input.DocumentIDs,
			StartDate:   input.StartDate,
			EndDate:     input.EndDate,
			AccessType:  input.AccessType,
			Reason:      input.Reason,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusCreated
		if result.Created == 0 {
			status = http.StatusBadRequest
		} else if result.Failed > 0 {
			status = http.StatusMultiStatus
		}
		c.JSON(status, result)
	}
}

func UpdateAccess(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		var input struct {
			StartDate  *time.Time        `json:"start_date"`
			EndDate    *time.Time        `json:"end_date"`
			AccessType *model.AccessType `json:"access_type"`
			IsActive   *bool             `json:"is_active"`
			Reason     *string           `json:"reason"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		v, err := m.Update(c.Request.Context(), actorOf(c), id, access.UpdateRequest{
			StartDate:  input.StartDate,
			EndDate:    input.EndDate,
			AccessType: input.AccessType,
			IsActive:   input.IsActive,
			Reason:     input.Reason,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func RevokeAccess(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		v, err := m.Revoke(c.Request.Context(), actorOf(c), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "access revoked", "access": v})
	}
}

func DeleteAccess(m *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		if err := m.Delete(c.Request.Context(), actorOf(c), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "access deleted"})
	}
}

// MyAccesses lists the caller's own grants; valid_only=true keeps the ones
// usable right now.
func MyAccesses(d *access.Dashboards) gin.HandlerFunc {
	return func(c *gin.Context) {
		validOnly, err := strconv.ParseBool(c.DefaultQuery("valid_only", "false"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid valid_only"})
			return
		}
		views, err := d.ForUser(c.Request.Context(), actorOf(c).UserID, validOnly)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accesses": views, "total": len(views)})
	}
}

// CheckAccess answers whether the caller may open a document now.
// Administrators are always allowed.
func CheckAccess(a *access.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, ok := parseID(c, "document_id")
		if !ok {
			return
		}
		actor := actorOf(c)
		if actor.IsAdmin() {
			c.JSON(http.StatusOK, access.AdminDecision())
			return
		}
		d, err := a.CheckAccess(c.Request.Context(), actor.UserID, documentID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func AccessDashboard(d *access.Dashboards) gin.HandlerFunc {
	return func(c *gin.Context) {
		dash, err := d.Build(c.Request.Context(), actorOf(c).UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dash)
	}
}
