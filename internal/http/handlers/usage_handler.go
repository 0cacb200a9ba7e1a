package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/handshake-escrow/backend/internal/http/dto"
	"github.com/handshake-escrow/backend/internal/middleware"
	"github.com/handshake-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// UsageReader reads the per-agent operation counters the worker maintains.
type UsageReader interface {
	GetByAgent(ctx context.Context, agentID string) ([]repositories.UsageCount, error)
}

type UsageHandler struct {
	usage UsageReader
	log   *zap.Logger
}

func NewUsageHandler(usage UsageReader, log *zap.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, log: log}
}

// GetMyUsage returns the authenticated agent's operation counters.
func (h *UsageHandler) GetMyUsage(c *fiber.Ctx) error {
	agentID := middleware.GetAgentID(c)

	counts, err := h.usage.GetByAgent(c.Context(), agentID)
	if err != nil {
		h.log.Error("get usage failed", zap.String("agent_id", agentID), zap.Error(err))
		return internalError(c)
	}

	if counts == nil {
		counts = []repositories.UsageCount{}
	}
	return c.JSON(dto.UsageResponse{Success: true, Usage: counts})
}
