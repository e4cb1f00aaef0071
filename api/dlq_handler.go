package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/sqjobs/dlq"
	"github.com/xraph/sqjobs/id"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	// defaultPurgeAge applies when DELETE /dlq has no before parameter.
	defaultPurgeAge = 30 * 24 * time.Hour
)

var errDLQDisabled = errors.New("dead letter queue is not configured")

// ListDLQRequest holds the query parameters of GET /dlq.
type ListDLQRequest struct {
	Queue  string `form:"queue"`
	Limit  int    `form:"limit" binding:"omitempty,min=0,max=1000"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// PurgeDLQResponse reports how many entries a purge removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// dlqService returns the engine's DLQ service or aborts with 503.
func (a *API) dlqService(c *gin.Context) (*dlq.Service, bool) {
	svc := a.eng.DLQService()
	if svc == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: errDLQDisabled.Error()})
		return nil, false
	}
	return svc, true
}

func (a *API) listDLQ(c *gin.Context) {
	svc, ok := a.dlqService(c)
	if !ok {
		return
	}

	var req ListDLQRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	entries, err := svc.List(c.Request.Context(), dlq.ListOpts{
		Limit:  limit,
		Offset: req.Offset,
		Queue:  req.Queue,
	})
	if err != nil {
		abortWithError(c, fmt.Errorf("list dlq: %w", err))
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) getDLQ(c *gin.Context) {
	svc, ok := a.dlqService(c)
	if !ok {
		return
	}
	entryID := c.Param("entryId")
	if err := id.Validate(entryID, id.PrefixDLQ); err != nil {
		badRequest(c, fmt.Errorf("invalid DLQ entry ID: %w", err))
		return
	}

	entry, err := svc.DLQStore().GetDLQ(c.Request.Context(), entryID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) replayDLQ(c *gin.Context) {
	svc, ok := a.dlqService(c)
	if !ok {
		return
	}
	entryID := c.Param("entryId")
	if err := id.Validate(entryID, id.PrefixDLQ); err != nil {
		badRequest(c, fmt.Errorf("invalid DLQ entry ID: %w", err))
		return
	}

	j, err := svc.Replay(c.Request.Context(), entryID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (a *API) purgeDLQ(c *gin.Context) {
	svc, ok := a.dlqService(c)
	if !ok {
		return
	}

	before := time.Now().UTC().Add(-defaultPurgeAge)
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, fmt.Errorf("before must be RFC 3339: %w", err))
			return
		}
		before = t
	}

	n, err := svc.Purge(c.Request.Context(), before)
	if err != nil {
		abortWithError(c, fmt.Errorf("purge dlq: %w", err))
		return
	}
	c.JSON(http.StatusOK, PurgeDLQResponse{Purged: n})
}
