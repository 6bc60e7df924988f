package routes

import (
	"github.com/ekklesia-app/messaging/internal/config"
	"github.com/ekklesia-app/messaging/internal/handlers"
	"github.com/ekklesia-app/messaging/internal/middleware"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"github.com/ekklesia-app/messaging/internal/repository"
	"github.com/ekklesia-app/messaging/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Dependencies struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Hub       *realtime.Hub
	Publisher realtime.Publisher
	Logger    *zap.Logger
}

// Services are the application services the HTTP layer serves.
type Services struct {
	Chat     *services.ChatService
	Profiles *services.ProfileService
}

func newProfileStore(cfg *config.Config, deps Dependencies) services.ProfileStore {
	repo := repository.NewProfileRepository(deps.DB)
	if deps.Redis == nil {
		return repo
	}
	return repository.NewCachedProfileRepository(repo, deps.Redis, cfg.ProfileCacheTTL, deps.Logger.Named("profiles"))
}

func NewServices(cfg *config.Config, deps Dependencies) Services {
	profiles := newProfileStore(cfg, deps)

	chat := services.NewChatService(
		repository.NewChatStore(deps.DB),
		profiles,
		deps.Hub,
		deps.Publisher,
		deps.Logger.Named("chat"),
		services.ChatOptions{
			TypingExpiry:  cfg.TypingExpiry,
			TypingIdle:    cfg.TypingIdle,
			ReadOnArrival: cfg.ReadOnArrival,
		},
	)

	return Services{
		Chat:     chat,
		Profiles: services.NewProfileService(profiles),
	}
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, svc Services, logger *zap.Logger) {
	chatHandler := handlers.NewChatHandler(svc.Chat, logger.Named("http"))
	profileHandler := handlers.NewProfileHandler(svc.Profiles, logger.Named("http"))

	api := app.Group("/api")

	// Registered ahead of the bearer-only group: browsers pass the token in
	// the query string on upgrade.
	api.Use("/v1/ws", middleware.WebSocketAuth(cfg.JWTSecret))
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.StartConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)

	authProtected.Get("/profile", profileHandler.GetMyProfile)
	authProtected.Put("/profile", profileHandler.UpdateMyProfile)
	authProtected.Get("/profiles/:userId", profileHandler.GetProfile)
}
