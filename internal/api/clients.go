package api

import (
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"wirewarden/internal/plan"
	"wirewarden/internal/store"
	"wirewarden/pkg/ipam"
)

type createClientRequest struct {
	NetworkID string `json:"network_id"`
	Name      string `json:"name"`
}

type clientResponse struct {
	ID            string    `json:"id"`
	NetworkID     string    `json:"network_id"`
	Name          string    `json:"name"`
	PublicKey     string    `json:"public_key"`
	AddressOffset uint32    `json:"address_offset"`
	Address       string    `json:"address"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newClientResponse(client store.Client, publicKey string, prefix netip.Prefix) clientResponse {
	return clientResponse{
		ID:            client.ID,
		NetworkID:     client.NetworkID,
		Name:          client.Name,
		PublicKey:     publicKey,
		AddressOffset: client.AddressOffset,
		Address:       ipam.HostAt(prefix, client.AddressOffset).String(),
		CreatedAt:     client.CreatedAt,
		UpdatedAt:     client.UpdatedAt,
	}
}

func (s *Server) clientWithContext(c *gin.Context, client store.Client) (string, netip.Prefix, bool) {
	ctx := c.Request.Context()
	network, err := s.store.GetNetwork(ctx, client.NetworkID)
	if err != nil {
		s.error(c, err)
		return "", netip.Prefix{}, false
	}
	prefix, err := network.Prefix()
	if err != nil {
		s.error(c, err)
		return "", netip.Prefix{}, false
	}
	key, err := s.store.GetKey(ctx, client.KeyID)
	if err != nil {
		s.error(c, err)
		return "", netip.Prefix{}, false
	}
	return key.PublicKey, prefix, true
}

func (s *Server) createClient(c *gin.Context) {
	var req createClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	client, err := s.store.CreateClient(c.Request.Context(), req.NetworkID, req.Name)
	if err != nil {
		s.error(c, err)
		return
	}
	publicKey, prefix, ok := s.clientWithContext(c, client)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, newClientResponse(client, publicKey, prefix))
}

func (s *Server) getClient(c *gin.Context) {
	client, err := s.store.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}
	publicKey, prefix, ok := s.clientWithContext(c, client)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newClientResponse(client, publicKey, prefix))
}

func (s *Server) deleteClient(c *gin.Context) {
	if err := s.store.DeleteClient(c.Request.Context(), c.Param("id")); err != nil {
		s.error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// clientConfig renders the importable wg-quick document. forward_internet
// is the client's full-tunnel preference and defaults to split tunnel.
func (s *Server) clientConfig(c *gin.Context) {
	forwardInternet := false
	if raw := c.Query("forward_internet"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid forward_internet value")
			return
		}
		forwardInternet = parsed
	}

	ctx := c.Request.Context()
	client, err := s.store.GetClient(ctx, c.Param("id"))
	if err != nil {
		s.error(c, err)
		return
	}

	snap, err := s.store.LoadNetworkSnapshot(ctx, client.NetworkID)
	if err != nil {
		s.error(c, err)
		return
	}
	snapClient, ok := snap.Client(client.ID)
	if !ok {
		s.error(c, store.ErrNotFound)
		return
	}

	key, err := s.store.GetKey(ctx, client.KeyID)
	if err != nil {
		s.error(c, err)
		return
	}
	privateKey, err := s.store.OpenKey(key)
	if err != nil {
		s.error(c, err)
		return
	}

	config := plan.WGQuick(snap, snapClient, privateKey, forwardInternet)
	c.JSON(http.StatusOK, gin.H{"config": config})
}
