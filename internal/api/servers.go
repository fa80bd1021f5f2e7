package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wirewarden/internal/store"
	"wirewarden/pkg/ipam"
)

type createServerRequest struct {
	NetworkID               string  `json:"network_id"`
	Name                    string  `json:"name"`
	ForwardsInternetTraffic bool    `json:"forwards_internet_traffic"`
	EndpointHost            *string `json:"endpoint_host"`
	EndpointPort            int     `json:"endpoint_port"`
}

type serverResponse struct {
	ID                      string    `json:"id"`
	NetworkID               string    `json:"network_id"`
	Name                    string    `json:"name"`
	PublicKey               string    `json:"public_key"`
	APIToken                string    `json:"api_token"`
	AddressOffset           uint32    `json:"address_offset"`
	Address                 string    `json:"address"`
	ForwardsInternetTraffic bool      `json:"forwards_internet_traffic"`
	EndpointHost            *string   `json:"endpoint_host"`
	EndpointPort            int       `json:"endpoint_port"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
	ConnectCommand          string    `json:"connect_command,omitempty"`
}

// newServerResponse renders a server row. connectCommand is only set on the
// create path: the full token is shown exactly once, every later read gets
// the redacted prefix.
func newServerResponse(srv store.Server, publicKey string, prefix netip.Prefix, connectCommand string) serverResponse {
	token := redactToken(srv.APIToken)
	if connectCommand != "" {
		token = srv.APIToken
	}
	return serverResponse{
		ID:                      srv.ID,
		NetworkID:               srv.NetworkID,
		Name:                    srv.Name,
		PublicKey:               publicKey,
		APIToken:                token,
		AddressOffset:           srv.AddressOffset,
		Address:                 ipam.HostAt(prefix, srv.AddressOffset).String(),
		ForwardsInternetTraffic: srv.ForwardsInternetTraffic,
		EndpointHost:            srv.EndpointHost,
		EndpointPort:            srv.EndpointPort,
		CreatedAt:               srv.CreatedAt,
		UpdatedAt:               srv.UpdatedAt,
		ConnectCommand:          connectCommand,
	}
}

func redactToken(token string) string {
	if len(token) > 8 {
		return token[:8] + "…"
	}
	return "…"
}

func (s *Server) connectCommand(token string) string {
	return fmt.Sprintf("wirewarden connect --api-host %s --api-token %s",
		strings.TrimRight(s.cfg.PublicURL, "/"), token)
}

func (s *Server) serverWithContext(c *gin.Context, srv store.Server) (string, netip.Prefix, bool) {
	ctx := c.Request.Context()
	network, err := s.store.GetNetwork(ctx, srv.NetworkID)
	if err != nil {
		s.error(c, err)
		return "", netip.Prefix{}, false
	}
	prefix, err := network.Prefix()
	if err != nil {
		s.error(c, err)
		return "", netip.Prefix{}, false
	}
	key, err := s.store.GetKey(ctx, srv.KeyID)
	if err != nil {
		s.error(c, err)
		return "", netip.Prefix{}, false
	}
	return key.PublicKey, prefix, true
}

func (s *Server) createServer(c *gin.Context) {
	var req createServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	srv, err := s.store.CreateServer(c.Request.Context(), store.CreateServerParams{
		NetworkID:               req.NetworkID,
		Name:                    req.Name,
		ForwardsInternetTraffic: req.ForwardsInternetTraffic,
		EndpointHost:            req.EndpointHost,
		EndpointPort:            req.EndpointPort,
	})
	if err != nil {
		s.error(c, err)
		return
	}

	publicKey, prefix, ok := s.serverWithContext(c, srv)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, newServerResponse(srv, publicKey, prefix, s.connectCommand(srv.APIToken)))
}

func (s *Server) getServer(c *gin.Context) {
	srv, err := s.store.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}
	publicKey, prefix, ok := s.serverWithContext(c, srv)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newServerResponse(srv, publicKey, prefix, ""))
}

func (s *Server) deleteServer(c *gin.Context) {
	if err := s.store.DeleteServer(c.Request.Context(), c.Param("id")); err != nil {
		s.error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addRouteRequest struct {
	RouteCIDR string `json:"route_cidr"`
}

type routeResponse struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"server_id"`
	RouteCIDR string    `json:"route_cidr"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listRoutes(c *gin.Context) {
	ctx := c.Request.Context()
	srv, err := s.store.GetServer(ctx, c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}
	routes, err := s.store.ListRoutesByServer(ctx, srv.ID)
	if err != nil {
		s.error(c, err)
		return
	}
	out := make([]routeResponse, 0, len(routes))
	for _, r := range routes {
		out = append(out, routeResponse{ID: r.ID, ServerID: r.ServerID, RouteCIDR: r.RouteCIDR, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) addRoute(c *gin.Context) {
	var req addRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	cidr, err := ipam.Parse4(req.RouteCIDR)
	if err != nil {
		badRequest(c, "invalid route cidr")
		return
	}

	route, err := s.store.AddRoute(c.Request.Context(), c.Param("id"), cidr)
	if err != nil {
		s.error(c, err)
		return
	}
	c.JSON(http.StatusCreated, routeResponse{ID: route.ID, ServerID: route.ServerID, RouteCIDR: route.RouteCIDR, CreatedAt: route.CreatedAt})
}

func (s *Server) deleteRoute(c *gin.Context) {
	if err := s.store.DeleteRoute(c.Request.Context(), c.Param("id")); err != nil {
		s.error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
