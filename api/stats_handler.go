package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatsResponse summarizes the engine.
type StatsResponse struct {
	Queue      string   `json:"queue"`
	Jobs       []string `json:"jobs"`
	Workers    int      `json:"workers"`
	DLQEnabled bool     `json:"dlq_enabled"`
	DLQCount   int64    `json:"dlq_count"`
}

func (a *API) health(c *gin.Context) {
	if err := a.eng.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) stats(c *gin.Context) {
	resp := StatsResponse{
		Queue: a.eng.Queue(),
		Jobs:  a.eng.Registry().Names(),
	}
	if pool := a.eng.Pool(); pool != nil {
		resp.Workers = len(pool.Workers())
	}
	if svc := a.eng.DLQService(); svc != nil {
		count, err := svc.DLQStore().CountDLQ(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		resp.DLQEnabled = true
		resp.DLQCount = count
	}
	c.JSON(http.StatusOK, resp)
}
