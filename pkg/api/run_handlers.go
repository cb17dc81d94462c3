package api

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
	"github.com/open-teleop/simcontroller/pkg/processing"
	"github.com/open-teleop/simcontroller/services"
)

// RunHandler holds dependencies for the run monitoring endpoints.
type RunHandler struct {
	tracker  services.RunTracker
	director *processing.EventDirector
	logger   customlog.Logger
}

// NewRunHandler creates a new handler for run endpoints. director may be nil.
func NewRunHandler(tracker services.RunTracker, director *processing.EventDirector, logger customlog.Logger) *RunHandler {
	if tracker == nil {
		panic("RunTracker cannot be nil in NewRunHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewRunHandler")
	}
	return &RunHandler{
		tracker:  tracker,
		director: director,
		logger:   logger,
	}
}

// RegisterRunRoutes registers the run API endpoints under /api/v1.
func RegisterRunRoutes(router fiber.Router, tracker services.RunTracker, director *processing.EventDirector, logger customlog.Logger) {
	h := NewRunHandler(tracker, director, logger)

	apiGroup := router.Group("/api/v1")
	apiGroup.Get("/run", h.handleGetRun)
	apiGroup.Get("/scenario", h.handleGetScenario)
	apiGroup.Get("/events", h.handleGetEvents)

	logger.Infof("Registered run API endpoints under /api/v1")
}

// handleGetRun returns the current run status as JSON.
func (h *RunHandler) handleGetRun(c *fiber.Ctx) error {
	return c.JSON(h.tracker.Status())
}

// handleGetScenario returns the scenario in effect as YAML.
func (h *RunHandler) handleGetScenario(c *fiber.Ctx) error {
	yamlData, err := h.tracker.ScenarioYAML()
	if err != nil {
		h.logger.Errorf("Failed to render scenario YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve scenario: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleGetEvents reports dispatch pool metrics and per-kind counters.
func (h *RunHandler) handleGetEvents(c *fiber.Ctx) error {
	if h.director == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "event dispatch is not enabled",
		})
	}
	return c.JSON(fiber.Map{
		"pools": h.director.GetPoolMetrics(),
		"kinds": h.director.Registry().Snapshot(),
	})
}
