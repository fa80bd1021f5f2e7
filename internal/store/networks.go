package store

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wirewarden/pkg/ipam"
)

// MaxNetworkPrefix is the narrowest allowed network. A /30 hosts two usable
// addresses, the minimum for one server and one client.
const MaxNetworkPrefix = 30

// CreateNetwork validates and persists a network. The CIDR must be IPv4,
// no narrower than /30, and sit inside RFC1918 space.
func (s *Store) CreateNetwork(ctx context.Context, name string, cidr netip.Prefix, dns []netip.Addr, keepalive int) (Network, error) {
	name = strings.TrimSpace(name)
	cidr = cidr.Masked()
	if !cidr.Addr().Is4() {
		return Network{}, fmt.Errorf("%w: network cidr must be ipv4", ErrValidation)
	}
	if cidr.Bits() > MaxNetworkPrefix {
		return Network{}, fmt.Errorf("%w: network prefix /%d leaves no usable addresses (max /%d)", ErrValidation, cidr.Bits(), MaxNetworkPrefix)
	}
	if !ipam.IsPrivate(cidr) {
		return Network{}, fmt.Errorf("%w: network cidr %s is not a private (RFC1918) range", ErrValidation, cidr)
	}
	if name == "" {
		return Network{}, fmt.Errorf("%w: network name is required", ErrValidation)
	}
	if keepalive < 0 {
		return Network{}, fmt.Errorf("%w: persistent keepalive must be >= 0", ErrValidation)
	}

	dnsStrs := make([]string, 0, len(dns))
	for _, d := range dns {
		if !d.Is4() {
			return Network{}, fmt.Errorf("%w: dns server %s is not ipv4", ErrValidation, d)
		}
		dnsStrs = append(dnsStrs, d.String())
	}

	network := Network{
		ID:                  uuid.NewString(),
		Name:                name,
		CIDR:                cidr.String(),
		DNSServers:          dnsStrs,
		PersistentKeepalive: keepalive,
	}
	if err := s.db.WithContext(ctx).Create(&network).Error; err != nil {
		if isDuplicate(err) {
			return Network{}, ErrDuplicateNetwork
		}
		return Network{}, fmt.Errorf("insert network: %w", err)
	}
	return network, nil
}

// GetNetwork loads one network.
func (s *Store) GetNetwork(ctx context.Context, id string) (Network, error) {
	var network Network
	err := s.db.WithContext(ctx).First(&network, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Network{}, ErrNetworkNotFound
	}
	if err != nil {
		return Network{}, fmt.Errorf("load network: %w", err)
	}
	return network, nil
}

// ListNetworks returns all networks, oldest first.
func (s *Store) ListNetworks(ctx context.Context) ([]Network, error) {
	var networks []Network
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&networks).Error; err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	return networks, nil
}

// DeleteNetwork removes the network and everything it owns: servers,
// clients, their key rows, routes, PSKs, and address claims.
func (s *Store) DeleteNetwork(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var network Network
		err := tx.First(&network, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNetworkNotFound
		}
		if err != nil {
			return fmt.Errorf("load network: %w", err)
		}

		var keyIDs []string
		if err := tx.Model(&Server{}).Where("network_id = ?", id).Pluck("key_id", &keyIDs).Error; err != nil {
			return fmt.Errorf("collect server keys: %w", err)
		}
		var clientKeyIDs []string
		if err := tx.Model(&Client{}).Where("network_id = ?", id).Pluck("key_id", &clientKeyIDs).Error; err != nil {
			return fmt.Errorf("collect client keys: %w", err)
		}
		keyIDs = append(keyIDs, clientKeyIDs...)

		var serverIDs []string
		if err := tx.Model(&Server{}).Where("network_id = ?", id).Pluck("id", &serverIDs).Error; err != nil {
			return fmt.Errorf("collect servers: %w", err)
		}

		if len(serverIDs) > 0 {
			if err := tx.Delete(&ServerRoute{}, "server_id IN ?", serverIDs).Error; err != nil {
				return fmt.Errorf("delete routes: %w", err)
			}
			if err := tx.Delete(&PresharedKey{}, "server_id IN ?", serverIDs).Error; err != nil {
				return fmt.Errorf("delete psks: %w", err)
			}
		}
		if err := tx.Delete(&Client{}, "network_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete clients: %w", err)
		}
		if err := tx.Delete(&Server{}, "network_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete servers: %w", err)
		}
		if len(keyIDs) > 0 {
			if err := tx.Delete(&WgKey{}, "id IN ?", keyIDs).Error; err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
		}
		if err := tx.Delete(&addressClaim{}, "network_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete claims: %w", err)
		}
		if err := tx.Delete(&Network{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete network: %w", err)
		}
		return nil
	})
}
