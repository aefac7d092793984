// Package api serves the core to the host application over a local
// HTTP interface: one route per core operation, a JWT-protected group,
// and a WebSocket stream of novel packets.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/meshapp/meshcore/internal/config"
	"github.com/meshapp/meshcore/internal/core"
)

// Server hosts the API over one Core.
type Server struct {
	core   *core.Core
	engine *gin.Engine
	events *EventHub
	secret string
	listen string
	log    *slog.Logger
}

// New builds the server and wires the core's novel-packet hook into the
// event stream.
func New(c *core.Core, cfg *config.Config, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		core:   c,
		engine: engine,
		events: NewEventHub(log),
		secret: cfg.AuthSecret,
		listen: cfg.Listen,
		log:    log.With("component", "api"),
	}
	c.SetNovelPacketHook(s.events.BroadcastPacket)
	s.setupRoutes()
	return s
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	s.log.Info("api listening", "addr", s.listen)
	return s.engine.Run(s.listen)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.POST("/api/v1/auth/token", s.handleToken)

	api := s.engine.Group("/api/v1")
	api.Use(AuthMiddleware(s.secret))
	{
		// Identity
		api.GET("/identity", s.getIdentity)
		api.GET("/identity/export", s.exportIdentity)

		// Friends
		api.GET("/friends", s.listFriends)
		api.POST("/friends", s.importFriend)
		api.PUT("/friends/:id", s.updateFriend)
		api.DELETE("/friends/:id", s.removeFriend)

		// Direct messages
		api.GET("/dm/:peer/channel", s.getDMChannel)
		api.POST("/dm/:peer/messages", s.sendDM)
		api.GET("/dm/:peer/messages", s.getDMMessages)
		api.DELETE("/dm/:peer/messages", s.clearDMMessages)
		api.POST("/selfcheck", s.dmSelfCheck)

		// Raw storage
		api.POST("/messages", s.storeMessage)
		api.GET("/channels/:id/messages", s.getChannelMessages)

		// Packets
		api.POST("/packets", s.sendPacket)
		api.POST("/packets/ingest", s.ingestPacket)
		api.GET("/packets/loopback", s.drainLoopback)

		// Geo channels
		api.POST("/geo/channels", s.registerGeoChannel)
		api.GET("/geo/channels", s.listGeoChannels)

		// Mentions and tuning
		api.POST("/mentions", s.extractMentions)
		api.GET("/optimization", s.getOptimization)

		// Events
		api.GET("/events", s.events.Handle)
	}
}
