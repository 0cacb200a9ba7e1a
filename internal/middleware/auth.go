package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/handshake-escrow/backend/internal/auth"
	"github.com/handshake-escrow/backend/internal/config"
	"go.uber.org/zap"
)

const CtxAgentID = "agent_id"

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid or expired token"})
		}

		c.Locals(CtxAgentID, claims.AgentID)

		return c.Next()
	}
}

func GetAgentID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxAgentID).(string)
	return id
}
