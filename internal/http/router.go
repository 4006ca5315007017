// README: HTTP server wiring and route registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"unipool/internal/http/handlers"
	"unipool/internal/http/middleware"
	"unipool/internal/modules/chat"
	"unipool/internal/modules/party"
)

type ServerDeps struct {
	Party     *party.Service
	Chat      *chat.Service
	JWTSecret string
	Logger    *zap.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Logger))
	r.Use(middleware.Logging(s.deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	partyHandler := handlers.NewPartyHandler(s.deps.Party)
	chatHandler := handlers.NewChatHandler(s.deps.Chat, s.deps.Party)

	api := r.Group("/api", middleware.Auth(s.deps.JWTSecret))
	{
		api.POST("/parties", partyHandler.Create)
		api.GET("/parties", partyHandler.List)
		api.GET("/parties/search", partyHandler.Search)
		api.GET("/parties/my", partyHandler.MyParties)
		api.GET("/parties/:id", partyHandler.Get)
		api.PUT("/parties/:id", partyHandler.Update)
		api.DELETE("/parties/:id", partyHandler.Delete)
		api.POST("/parties/:id/join", partyHandler.Join)
		api.POST("/parties/:id/leave", partyHandler.Leave)
		api.POST("/parties/:id/savings", partyHandler.CalculateSavings)

		api.GET("/parties/:id/messages", chatHandler.History)
		api.POST("/parties/:id/messages", chatHandler.Post)
	}

	return r
}
