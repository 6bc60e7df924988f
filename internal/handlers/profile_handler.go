package handlers

import (
	"context"
	"errors"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/ekklesia-app/messaging/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type profileApplicationService interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, input services.UpdateProfileInput) (*models.Profile, error)
}

type ProfileHandler struct {
	service profileApplicationService
	logger  *zap.Logger
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func NewProfileHandler(service profileApplicationService, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		service: service,
		logger:  logger,
	}
}

func profileResponse(profile *models.Profile) fiber.Map {
	return fiber.Map{
		"profile":      profile,
		"display_name": services.DisplayName(profile),
	}
}

func (h *ProfileHandler) GetMyProfile(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	return h.writeProfile(c, userID)
}

// GetProfile resolves another member's display name.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	if _, ok := currentUserID(c); !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	return h.writeProfile(c, c.Params("userId"))
}

func (h *ProfileHandler) writeProfile(c *fiber.Ctx, userID string) error {
	profile, err := h.service.GetProfile(c.Context(), userID)
	if err != nil {
		return h.mapProfileError(c, err)
	}
	return c.JSON(profileResponse(profile))
}

func (h *ProfileHandler) UpdateMyProfile(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if validationErr := validateProfileUpdateRequest(req); validationErr != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr})
	}

	profile, err := h.service.UpdateProfile(c.Context(), userID, services.UpdateProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return h.mapProfileError(c, err)
	}

	return c.JSON(profileResponse(profile))
}

func (h *ProfileHandler) mapProfileError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	case errors.Is(err, services.ErrStoreUnavailable):
		h.logger.Warn("profile request failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Profiles are temporarily unavailable"})
	default:
		h.logger.Error("profile request failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process profile request"})
	}
}
