package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/auth"
	"github.com/vovakirdan/actorchat-server/internal/config"
	"github.com/vovakirdan/actorchat-server/internal/core"
)

// NewServer builds the HTTP server: REST API, health check and the
// websocket endpoint.
func NewServer(mgr *core.Manager, tickets *auth.TicketConfig, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(mgr, tickets, logger)
	router.POST("/api/users", api.CreateUser)
	router.POST("/api/rooms", api.CreateRoom)
	router.GET("/api/rooms/search", api.SearchRooms)
	router.POST("/api/connect", api.Connect)

	ws := NewWSHandler(mgr, tickets, logger)
	router.GET("/ws", ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// LoggerMiddleware logs each HTTP request after it completes.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
