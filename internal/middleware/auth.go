package middleware

import (
	"strings"

	"github.com/ekklesia-app/messaging/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// bearerToken returns the token, or the client-facing reason it is missing.
func bearerToken(c *fiber.Ctx) (string, string) {
	authHeader := strings.TrimSpace(c.Get("Authorization"))
	if authHeader == "" {
		return "", "Missing authorization header"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", "Invalid authorization header format"
	}
	return parts[1], ""
}

func authenticate(c *fiber.Ctx, tokenString, secret string) error {
	claims, err := utils.ValidateToken(tokenString, secret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": problem,
			})
		}
		return authenticate(c, tokenString, secret)
	}
}

// WebSocketAuth accepts the token as ?token= (browsers cannot set headers on
// websocket upgrades) or as a bearer header.
func WebSocketAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
				"error": "WebSocket upgrade required",
			})
		}

		tokenString := strings.TrimSpace(c.Query("token"))
		if tokenString == "" {
			var problem string
			if tokenString, problem = bearerToken(c); problem != "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": problem,
				})
			}
		}
		return authenticate(c, tokenString, secret)
	}
}
