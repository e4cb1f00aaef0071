package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xraph/sqjobs/job"
)

// EnqueueRequest is the body of POST /queues/:queue/jobs.
type EnqueueRequest struct {
	// ID is optional; one is generated when empty.
	ID     string         `json:"id"`
	Name   string         `json:"name" binding:"required"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// EnqueueResponse acknowledges an accepted job.
type EnqueueResponse struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

func (a *API) enqueueJob(c *gin.Context) {
	queueName := c.Param("queue")

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(c, errors.New("name must not be blank"))
		return
	}

	j := job.New(req.Name, req.Args, req.Kwargs)
	if req.ID != "" {
		j.ID = req.ID
	}
	if err := a.eng.EnqueueJob(c.Request.Context(), queueName, j); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{ID: j.ID, Queue: queueName})
}
