package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateServerParams carries the operator-supplied fields for a new server.
// EndpointHost may be nil: such a server is unreachable by clients and is
// omitted from generated client configs until a host is set.
type CreateServerParams struct {
	NetworkID               string
	Name                    string
	ForwardsInternetTraffic bool
	EndpointHost            *string
	EndpointPort            int
}

// CreateServer allocates an address offset, generates and seals a keypair,
// mints the api token, and ensures a PSK for every client already in the
// network, all in one transaction.
func (s *Store) CreateServer(ctx context.Context, params CreateServerParams) (Server, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return Server{}, fmt.Errorf("%w: server name is required", ErrValidation)
	}
	if params.EndpointPort < 1 || params.EndpointPort > 65535 {
		return Server{}, fmt.Errorf("%w: endpoint port must be between 1 and 65535", ErrValidation)
	}
	if params.EndpointHost != nil {
		host := strings.TrimSpace(*params.EndpointHost)
		if host == "" {
			return Server{}, fmt.Errorf("%w: endpoint host must not be blank", ErrValidation)
		}
		params.EndpointHost = &host
	}

	var server Server
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var network Network
		err := tx.First(&network, "id = ?", params.NetworkID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNetworkNotFound
		}
		if err != nil {
			return fmt.Errorf("load network: %w", err)
		}

		offset, err := allocateOffset(tx, network)
		if err != nil {
			return err
		}

		key, err := createKeyTx(tx, s.box)
		if err != nil {
			return err
		}

		server = Server{
			ID:                      uuid.NewString(),
			NetworkID:               network.ID,
			Name:                    name,
			KeyID:                   key.ID,
			APIToken:                uuid.NewString(),
			AddressOffset:           offset,
			ForwardsInternetTraffic: params.ForwardsInternetTraffic,
			EndpointHost:            params.EndpointHost,
			EndpointPort:            params.EndpointPort,
		}
		if err := tx.Create(&server).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicateName
			}
			return fmt.Errorf("insert server: %w", err)
		}

		var clientIDs []string
		if err := tx.Model(&Client{}).Where("network_id = ?", network.ID).Pluck("id", &clientIDs).Error; err != nil {
			return fmt.Errorf("collect clients: %w", err)
		}
		for _, clientID := range clientIDs {
			if _, err := ensurePSKTx(tx, s.box, server.ID, clientID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Server{}, err
	}
	return server, nil
}

// GetServer loads one server.
func (s *Store) GetServer(ctx context.Context, id string) (Server, error) {
	var server Server
	err := s.db.WithContext(ctx).First(&server, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Server{}, ErrNotFound
	}
	if err != nil {
		return Server{}, fmt.Errorf("load server: %w", err)
	}
	return server, nil
}

// GetServerByToken resolves a daemon api token to its server. Unknown tokens
// come back as ErrNotFound; the HTTP layer reads that as unauthorized.
func (s *Store) GetServerByToken(ctx context.Context, token string) (Server, error) {
	var server Server
	err := s.db.WithContext(ctx).First(&server, "api_token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Server{}, ErrNotFound
	}
	if err != nil {
		return Server{}, fmt.Errorf("load server by token: %w", err)
	}
	return server, nil
}

// ListServersByNetwork returns the network's servers in creation order. The
// generator's first-server-wins walk depends on this ordering being stable.
func (s *Store) ListServersByNetwork(ctx context.Context, networkID string) ([]Server, error) {
	var servers []Server
	err := s.db.WithContext(ctx).
		Where("network_id = ?", networkID).
		Order("created_at asc, id asc").
		Find(&servers).Error
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return servers, nil
}

// DeleteServer removes the server together with its routes, PSKs, key row,
// and address claim.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var server Server
		err := tx.First(&server, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load server: %w", err)
		}

		if err := tx.Delete(&ServerRoute{}, "server_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete routes: %w", err)
		}
		if err := tx.Delete(&PresharedKey{}, "server_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete psks: %w", err)
		}
		if err := tx.Delete(&Server{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete server: %w", err)
		}
		if err := tx.Delete(&WgKey{}, "id = ?", server.KeyID).Error; err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		return releaseOffset(tx, server.NetworkID, server.AddressOffset)
	})
}
