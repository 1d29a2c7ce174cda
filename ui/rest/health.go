package rest

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-recruit/pkg/utils"
)

const healthTimeout = 2 * time.Second

// Health reports whether the shared store answers.
type Health struct {
	Ping     func(ctx context.Context) error
	ServerID string
	Version  string
	Backend  string
}

type HealthStatus struct {
	ServerID string `json:"server_id"`
	Version  string `json:"version"`
	Backend  string `json:"backend"`
	Store    string `json:"store"`
}

func InitRestHealth(app fiber.Router, h Health) Health {
	app.Get("/health", h.GetStatus)
	return h
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	status := HealthStatus{ServerID: h.ServerID, Version: h.Version, Backend: h.Backend, Store: "ok"}
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			status.Store = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
				Status:  fiber.StatusServiceUnavailable,
				Code:    "STORE_UNAVAILABLE",
				Message: "store ping failed",
				Results: status,
			})
		}
	}
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Health status retrieved",
		Results: status,
	})
}
