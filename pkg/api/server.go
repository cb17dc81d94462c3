package api

import (
	"context"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
	"github.com/open-teleop/simcontroller/pkg/processing"
	"github.com/open-teleop/simcontroller/services"
)

// Monitor is the read-only HTTP view of a run
type Monitor struct {
	app    *fiber.App
	hub    *ProgressHub
	logger customlog.Logger
}

// NewMonitor wires the health, run and websocket routes. director may be nil.
func NewMonitor(tracker services.RunTracker, director *processing.EventDirector, hub *ProgressHub, log customlog.Logger) *Monitor {
	app := fiber.New(fiber.Config{
		AppName:               "simcontroller monitor",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	RegisterRunRoutes(app, tracker, director, log)

	if hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/progress", websocket.New(hub.Serve))
	}

	return &Monitor{app: app, hub: hub, logger: log}
}

// App exposes the fiber app, mainly for tests
func (m *Monitor) App() *fiber.App {
	return m.app
}

// Start listens on port in the background
func (m *Monitor) Start(port int) {
	go func() {
		m.logger.Infof("Monitor server starting on port %d", port)
		if err := m.app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			m.logger.Errorf("Monitor server stopped: %v", err)
		}
	}()
}

// Shutdown disconnects websocket clients and stops the server
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.hub != nil {
		m.hub.Close()
	}
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	return nil
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
