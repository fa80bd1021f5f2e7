package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wirewarden/internal/plan"
	"wirewarden/internal/store"
)

// daemonConfig serves the desired-state document for the authenticated
// server. The daemon polls this endpoint and reconciles the host against
// whatever it returns.
func (s *Server) daemonConfig(c *gin.Context) {
	server := c.MustGet(ctxServerKey).(store.Server)
	ctx := c.Request.Context()

	snap, err := s.store.LoadNetworkSnapshot(ctx, server.NetworkID)
	if err != nil {
		s.error(c, err)
		return
	}

	key, err := s.store.GetKey(ctx, server.KeyID)
	if err != nil {
		s.error(c, err)
		return
	}
	privateKey, err := s.store.OpenKey(key)
	if err != nil {
		s.error(c, err)
		return
	}

	psks, err := s.store.PSKsForServer(ctx, server.ID)
	if err != nil {
		s.error(c, err)
		return
	}

	config, err := plan.BuildDaemonConfig(snap, server.ID, privateKey, psks)
	if err != nil {
		s.error(c, err)
		return
	}
	c.JSON(http.StatusOK, config)
}
