package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/metrics"
	"github.com/vovakirdan/relaychat/internal/service/rooms"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// NewServer builds the HTTP server with the relay endpoint, REST API and metrics.
func NewServer(hub *core.Hub, authService *auth.Service, roomService *rooms.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler(hub))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, cfg, logger)))

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(roomService, logger)

	api := router.Group("/api")
	{
		api.POST("/signup", apiHandlers.SignUp)
		api.POST("/signin", apiHandlers.SignIn)
		api.POST("/signout", apiHandlers.SignOut)

		protected := api.Group("")
		protected.Use(AuthMiddleware(authService, logger))
		{
			protected.GET("/session", apiHandlers.Session)

			protected.GET("/rooms", roomHandlers.ListRooms)
			protected.POST("/rooms", roomHandlers.CreateRoom)
			protected.GET("/rooms/:id", roomHandlers.GetRoom)
			protected.GET("/rooms/:id/messages", roomHandlers.ListMessages)
			protected.POST("/rooms/:id/messages", roomHandlers.PostMessage)
			protected.PATCH("/rooms/:id/messages/:mid", roomHandlers.EditMessage)
			protected.DELETE("/rooms/:id/messages/:mid", roomHandlers.DeleteMessage)
			protected.POST("/rooms/:id/messages/:mid/reactions", roomHandlers.ToggleReaction)
			protected.GET("/rooms/:id/stream", roomHandlers.Stream)
		}
	}

	return &stdhttp.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		snap, err := hub.Snapshot(ctx)
		if err != nil {
			c.JSON(stdhttp.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, HealthResponse{Status: "ok", Connections: snap.Connections})
	}
}
