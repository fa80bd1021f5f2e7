package api

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"wirewarden/internal/store"
	"wirewarden/pkg/ipam"
)

type createNetworkRequest struct {
	Name                string   `json:"name"`
	CIDR                string   `json:"cidr"`
	DNSServers          []string `json:"dns_servers"`
	PersistentKeepalive int      `json:"persistent_keepalive"`
}

type networkResponse struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	CIDR                string    `json:"cidr"`
	DNSServers          []string  `json:"dns_servers"`
	PersistentKeepalive int       `json:"persistent_keepalive"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func newNetworkResponse(n store.Network) networkResponse {
	dns := n.DNSServers
	if dns == nil {
		dns = []string{}
	}
	return networkResponse{
		ID:                  n.ID,
		Name:                n.Name,
		CIDR:                n.CIDR,
		DNSServers:          dns,
		PersistentKeepalive: n.PersistentKeepalive,
		CreatedAt:           n.CreatedAt,
		UpdatedAt:           n.UpdatedAt,
	}
}

func (s *Server) createNetwork(c *gin.Context) {
	var req createNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	cidr, err := ipam.Parse4(req.CIDR)
	if err != nil {
		badRequest(c, "invalid network cidr")
		return
	}
	dns := make([]netip.Addr, 0, len(req.DNSServers))
	for _, raw := range req.DNSServers {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			badRequest(c, "invalid dns server address")
			return
		}
		dns = append(dns, addr)
	}

	network, err := s.store.CreateNetwork(c.Request.Context(), req.Name, cidr, dns, req.PersistentKeepalive)
	if err != nil {
		s.error(c, err)
		return
	}
	c.JSON(http.StatusCreated, newNetworkResponse(network))
}

func (s *Server) listNetworks(c *gin.Context) {
	networks, err := s.store.ListNetworks(c.Request.Context())
	if err != nil {
		s.error(c, err)
		return
	}
	out := make([]networkResponse, 0, len(networks))
	for _, n := range networks {
		out = append(out, newNetworkResponse(n))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getNetwork(c *gin.Context) {
	network, err := s.store.GetNetwork(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}
	c.JSON(http.StatusOK, newNetworkResponse(network))
}

func (s *Server) deleteNetwork(c *gin.Context) {
	if err := s.store.DeleteNetwork(c.Request.Context(), c.Param("id")); err != nil {
		s.error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listServersByNetwork(c *gin.Context) {
	ctx := c.Request.Context()
	network, err := s.store.GetNetwork(ctx, c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}
	prefix, err := network.Prefix()
	if err != nil {
		s.error(c, err)
		return
	}

	servers, err := s.store.ListServersByNetwork(ctx, network.ID)
	if err != nil {
		s.error(c, err)
		return
	}
	keyIDs := make([]string, 0, len(servers))
	for _, srv := range servers {
		keyIDs = append(keyIDs, srv.KeyID)
	}
	keys, err := s.store.GetKeysBatch(ctx, keyIDs)
	if err != nil {
		s.error(c, err)
		return
	}

	out := make([]serverResponse, 0, len(servers))
	for _, srv := range servers {
		out = append(out, newServerResponse(srv, keys[srv.KeyID].PublicKey, prefix, ""))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listClientsByNetwork(c *gin.Context) {
	ctx := c.Request.Context()
	network, err := s.store.GetNetwork(ctx, c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}
	prefix, err := network.Prefix()
	if err != nil {
		s.error(c, err)
		return
	}

	clients, err := s.store.ListClientsByNetwork(ctx, network.ID)
	if err != nil {
		s.error(c, err)
		return
	}
	keyIDs := make([]string, 0, len(clients))
	for _, client := range clients {
		keyIDs = append(keyIDs, client.KeyID)
	}
	keys, err := s.store.GetKeysBatch(ctx, keyIDs)
	if err != nil {
		s.error(c, err)
		return
	}

	out := make([]clientResponse, 0, len(clients))
	for _, client := range clients {
		out = append(out, newClientResponse(client, keys[client.KeyID].PublicKey, prefix))
	}
	c.JSON(http.StatusOK, out)
}
