package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/termstack/internal/domain/orchestrator"
	"github.com/GriffinCanCode/termstack/internal/domain/settings"
	"github.com/GriffinCanCode/termstack/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termstack/internal/shared/paths"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Connections reports how many event channel clients are attached
type Connections interface {
	Count() int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	orch     *orchestrator.Orchestrator
	settings *settings.Store
	metrics  *monitoring.Metrics
	conns    Connections
	open     Opener
	layout   paths.Layout
	logger   *zap.Logger
	started  time.Time
}

// NewHandlers creates a new handler set. A nil opener selects the platform
// file browser.
func NewHandlers(
	orch *orchestrator.Orchestrator,
	store *settings.Store,
	metrics *monitoring.Metrics,
	conns Connections,
	open Opener,
	logger *zap.Logger,
) *Handlers {
	if open == nil {
		open = OpenInFileBrowser
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		orch:     orch,
		settings: store,
		metrics:  metrics,
		conns:    conns,
		open:     open,
		logger:   logger,
		started:  time.Now(),
	}
}

// WithLayout resolves relative export paths under the data dir's export
// directory
func (h *Handlers) WithLayout(layout paths.Layout) *Handlers {
	h.layout = layout
	return h
}

// Register mounts every route on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/metrics/json", h.MetricsJSON)
	router.POST("/logs", h.StreamLogs)

	stacks := router.Group("/stacks")
	{
		stacks.GET("", h.ListStacks)
		stacks.POST("", h.CreateStack)
		stacks.GET("/:id", h.GetStack)
		stacks.PATCH("/:id", h.RenameStack)
		stacks.DELETE("/:id", h.DeleteStack)
		stacks.POST("/:id/toggle", h.ToggleStack)
		stacks.POST("/:id/terminals", h.CreateTerminal)
		stacks.GET("/:id/terminals/:tid", h.GetTerminal)
		stacks.DELETE("/:id/terminals/:tid", h.DeleteTerminal)
		stacks.POST("/:id/terminals/:tid/toggle", h.ToggleTerminal)
	}

	router.GET("/settings", h.ListSettings)
	router.GET("/settings/:key", h.GetSetting)
	router.PUT("/settings/:key", h.SetSetting)
	router.DELETE("/settings/:key", h.ResetSetting)

	router.POST("/open", h.Open)
	router.POST("/export", h.Export)
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	summaries := h.orch.Summaries()

	body := gin.H{
		"status":    "healthy",
		"service":   "termstack",
		"version":   Version,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"stacks":    len(summaries),
		"terminals": gin.H{"running": runningTerminals(summaries)},
	}
	if h.conns != nil {
		body["connections"] = h.conns.Count()
	}
	if h.metrics != nil {
		body["failed_saves"] = h.metrics.Snapshot().FailedSaves
	}
	c.JSON(http.StatusOK, body)
}

func runningTerminals(summaries []types.StackSummary) int {
	running := 0
	for _, s := range summaries {
		for _, on := range s.Terminals {
			if on {
				running++
			}
		}
	}
	return running
}

// fail writes err with a status derived from its sentinel, or fallback
func fail(c *gin.Context, fallback int, err error) {
	status := fallback
	switch {
	case errors.Is(err, orchestrator.ErrStackNotFound),
		errors.Is(err, orchestrator.ErrTerminalNotFound),
		errors.Is(err, settings.ErrUnknownKey):
		status = http.StatusNotFound
	case errors.Is(err, settings.ErrTypeMismatch),
		errors.Is(err, orchestrator.ErrInvalidPattern):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
