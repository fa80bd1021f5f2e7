// Package api exposes the control-plane HTTP surface: network, server,
// client, and route management behind a session cookie, plus the
// desired-state endpoint the host daemons poll with their api tokens.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wirewarden/internal/store"
)

// Config carries the request-handling settings the server needs.
type Config struct {
	// JWTSecret verifies session cookies minted by the accounts frontend.
	JWTSecret string
	// PublicURL is the externally reachable base URL, used to render
	// connect commands.
	PublicURL string
	// UIOrigin is the management UI origin allowed to send credentials.
	UIOrigin string
}

// Server routes management and daemon requests onto the store.
type Server struct {
	store  *store.Store
	cfg    Config
	engine *gin.Engine
}

// New builds the router with all routes and middleware attached.
func New(st *store.Store, cfg Config) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.UIOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{store: st, cfg: cfg, engine: engine}
	s.routes()
	return s
}

// Handler returns the engine wrapped with HTTP span instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "wirewarden-api")
}

func (s *Server) routes() {
	s.engine.GET("/api/health", s.health)

	mgmt := s.engine.Group("/api", s.requireSession())
	{
		mgmt.POST("/networks", s.createNetwork)
		mgmt.GET("/networks", s.listNetworks)
		mgmt.GET("/networks/:id", s.getNetwork)
		mgmt.DELETE("/networks/:id", s.deleteNetwork)
		mgmt.GET("/networks/:id/servers", s.listServersByNetwork)
		mgmt.GET("/networks/:id/clients", s.listClientsByNetwork)

		mgmt.POST("/servers", s.createServer)
		mgmt.GET("/servers/:id", s.getServer)
		mgmt.DELETE("/servers/:id", s.deleteServer)
		mgmt.GET("/servers/:id/routes", s.listRoutes)
		mgmt.POST("/servers/:id/routes", s.addRoute)
		mgmt.DELETE("/routes/:id", s.deleteRoute)

		mgmt.POST("/clients", s.createClient)
		mgmt.GET("/clients/:id", s.getClient)
		mgmt.DELETE("/clients/:id", s.deleteClient)
		mgmt.GET("/clients/:id/config", s.clientConfig)
	}

	daemon := s.engine.Group("/api/daemon", s.requireServerToken())
	{
		daemon.GET("/config", s.daemonConfig)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
