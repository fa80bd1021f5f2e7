package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateClient allocates an address offset, generates and seals a keypair,
// and ensures a PSK for every server already in the network, all in one
// transaction.
func (s *Store) CreateClient(ctx context.Context, networkID, name string) (Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Client{}, fmt.Errorf("%w: client name is required", ErrValidation)
	}

	var client Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var network Network
		err := tx.First(&network, "id = ?", networkID).Error
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

		client = Client{
			ID:            uuid.NewString(),
			NetworkID:     network.ID,
			Name:          name,
			KeyID:         key.ID,
			AddressOffset: offset,
		}
		if err := tx.Create(&client).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicateName
			}
			return fmt.Errorf("insert client: %w", err)
		}

		var serverIDs []string
		if err := tx.Model(&Server{}).Where("network_id = ?", network.ID).Pluck("id", &serverIDs).Error; err != nil {
			return fmt.Errorf("collect servers: %w", err)
		}
		for _, serverID := range serverIDs {
			if _, err := ensurePSKTx(tx, s.box, serverID, client.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Client{}, err
	}
	return client, nil
}

// GetClient loads one client.
func (s *Store) GetClient(ctx context.Context, id string) (Client, error) {
	var client Client
	err := s.db.WithContext(ctx).First(&client, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("load client: %w", err)
	}
	return client, nil
}

// ListClientsByNetwork returns the network's clients in creation order.
func (s *Store) ListClientsByNetwork(ctx context.Context, networkID string) ([]Client, error) {
	var clients []Client
	err := s.db.WithContext(ctx).
		Where("network_id = ?", networkID).
		Order("created_at asc, id asc").
		Find(&clients).Error
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// DeleteClient removes the client together with its PSKs, key row, and
// address claim.
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client Client
		err := tx.First(&client, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load client: %w", err)
		}

		if err := tx.Delete(&PresharedKey{}, "client_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete psks: %w", err)
		}
		if err := tx.Delete(&Client{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete client: %w", err)
		}
		if err := tx.Delete(&WgKey{}, "id = ?", client.KeyID).Error; err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		return releaseOffset(tx, client.NetworkID, client.AddressOffset)
	})
}
