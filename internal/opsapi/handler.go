package opsapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventcore/internal/constants"
	"eventcore/internal/deadletter"
	"eventcore/internal/delayqueue"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/pkg/errors"
)

type Handler struct {
	jobs        JobInspector
	deadLetters deadletter.Reader
	cards       CardReader
	logger      logger.Logger
}

func NewHandler(jobs JobInspector, deadLetters deadletter.Reader, cards CardReader, log logger.Logger) *Handler {
	return &Handler{
		jobs:        jobs,
		deadLetters: deadLetters,
		cards:       cards,
		logger:      log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/subjects", h.ListSubjects)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/stats", h.JobStats)
			jobs.GET("/:id", h.GetJob)
		}

		v1.GET("/dead-letters", h.ListDeadLetters)
		v1.GET("/cards/:id", h.GetCard)
	}
}

func (h *Handler) ListSubjects(c *gin.Context) {
	subjects := events.Subjects()
	out := make([]gin.H, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, gin.H{"subject": s.String(), "topic": s.Topic()})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) JobStats(c *gin.Context) {
	if h.jobs == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithDetail("message", "delay queue is not configured"))
		return
	}

	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetJob(c *gin.Context) {
	if h.jobs == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithDetail("message", "delay queue is not configured"))
		return
	}

	id := c.Param("id")
	job, err := h.jobs.Get(c.Request.Context(), id)
	if errors.Is(err, delayqueue.ErrJobNotFound) {
		h.HandleError(c, errors.ErrNotFound.WithDetail("job_id", id))
		return
	}
	if err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	if h.deadLetters == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithDetail("message", "dead-letter store is not configured"))
		return
	}

	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.HandleError(c, errors.ErrValidation.WithDetail("message", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	letters, err := h.deadLetters.List(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, letters)
}

func (h *Handler) GetCard(c *gin.Context) {
	if h.cards == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithDetail("message", "card catalog is not configured"))
		return
	}

	card, err := h.cards.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"card":      card,
		"available": card.Available(),
	})
}
