package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
	"github.com/AzielCF/az-recruit/pkg/msgworker"
	"github.com/AzielCF/az-recruit/pkg/utils"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type MonitoringHandler struct {
	stores domain.Stores
	pool   *msgworker.Pool
}

type StatsResponse struct {
	Counters map[string]int64 `json:"counters"`
	Pool     *msgworker.Stats `json:"pool,omitempty"`
}

// InitRestMonitoring registers the read-only operational endpoints.
func InitRestMonitoring(app fiber.Router, stores domain.Stores, pool *msgworker.Pool) MonitoringHandler {
	h := MonitoringHandler{stores: stores, pool: pool}

	app.Get("/stats", h.GetStats)
	app.Get("/events", h.GetRecentEvents)
	app.Get("/worker-pool/stats", h.GetWorkerPoolStats)

	return h
}

func (h *MonitoringHandler) GetStats(c *fiber.Ctx) error {
	counters, err := h.stores.Counters.All(c.UserContext(), ledger.Names()...)
	if err != nil {
		return err
	}
	res := StatsResponse{Counters: counters}
	if h.pool != nil {
		stats := h.pool.Stats()
		res.Pool = &stats
	}
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Stats retrieved",
		Results: res,
	})
}

func (h *MonitoringHandler) GetRecentEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.stores.Events.Recent(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Events retrieved",
		Results: events,
	})
}

func (h *MonitoringHandler) GetWorkerPoolStats(c *fiber.Ctx) error {
	if h.pool == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "POOL_UNAVAILABLE",
			Message: "worker pool not initialized",
		})
	}
	return c.JSON(h.pool.Stats())
}
