package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/souqnear/ranking-service/internal/jobs"
	"github.com/souqnear/ranking-service/internal/query"
	"github.com/souqnear/ranking-service/internal/ranking"
	"github.com/souqnear/ranking-service/internal/workers"
)

// Enqueuer hands offer changes to the durable task queue.
type Enqueuer interface {
	EnqueueOfferChange(ctx context.Context, change ranking.OfferChange) (string, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependencies are the collaborators of the HTTP handlers.
// Enqueuer is optional; without it offer changes are applied synchronously.
type Dependencies struct {
	Query    *query.Service
	Updater  workers.Updater
	Enqueuer Enqueuer
	Jobs     *jobs.Runner
	Database Pinger
	Redis    Pinger
}

// Handlers serves the public read path and the internal ingress.
type Handlers struct {
	query    *query.Service
	updater  workers.Updater
	enqueuer Enqueuer
	jobs     *jobs.Runner
	database Pinger
	redis    Pinger
}

// New creates the handlers.
func New(deps Dependencies) *Handlers {
	return &Handlers{
		query:    deps.Query,
		updater:  deps.Updater,
		enqueuer: deps.Enqueuer,
		jobs:     deps.Jobs,
		database: deps.Database,
		redis:    deps.Redis,
	}
}

// RegisterRoutes mounts the public routes on router and the internal ones on
// internal. Callers attach auth and rate limiting to internal beforehand.
func (h *Handlers) RegisterRoutes(router gin.IRouter, internal gin.IRouter) {
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/offers", h.GetOffers)
		api.GET("/common-offers", h.GetCommonOffers)
		api.GET("/reference-points/nearest", h.GetNearestReferencePoint)
		api.GET("/reference-points/:id/nearest-merchants", h.GetNearestMerchants)
		api.GET("/sync", h.GetSyncData)
		api.GET("/promo-products", h.GetPromoProducts)
	}

	internal.POST("/offers/events", h.PostOfferEvent)
	internal.POST("/rebuild/:job", h.TriggerRebuild)
	internal.GET("/rebuild/status", h.RebuildStatus)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError maps domain errors to status codes. Unexpected errors are
// logged and hidden from the client.
func respondError(c *gin.Context, err error) {
	var invalid ranking.ErrInvalidRequest
	switch {
	case errors.Is(err, ranking.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &invalid),
		errors.Is(err, ranking.ErrInvalidCoordinates),
		errors.Is(err, ranking.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, ranking.ErrJobRunning):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}
