// Package api exposes the producer and dead-letter admin HTTP surface of an
// engine.Engine using gin.
//
// Routes:
//
//	GET    /healthz                  liveness plus DLQ store ping
//	GET    /stats                    queue, registered jobs, worker and DLQ counts
//	POST   /queues/:queue/jobs       enqueue {id?, name, args?, kwargs?}
//	GET    /dlq                      list entries (?queue=&limit=&offset=)
//	GET    /dlq/:entryId             get one entry
//	POST   /dlq/:entryId/replay      re-enqueue an entry as a new job
//	DELETE /dlq                      purge entries failed before ?before=
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/sqjobs/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", a.health)
	router.GET("/stats", a.stats)

	router.POST("/queues/:queue/jobs", a.enqueueJob)

	dlqGroup := router.Group("/dlq")
	dlqGroup.GET("", a.listDLQ)
	dlqGroup.DELETE("", a.purgeDLQ)
	dlqGroup.GET("/:entryId", a.getDLQ)
	dlqGroup.POST("/:entryId/replay", a.replayDLQ)
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
