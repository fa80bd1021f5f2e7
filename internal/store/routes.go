package store

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AddRoute attaches an extra advertised CIDR to a server. The prefix is
// stored in canonical masked form.
func (s *Store) AddRoute(ctx context.Context, serverID string, cidr netip.Prefix) (ServerRoute, error) {
	cidr = cidr.Masked()
	if !cidr.Addr().Is4() {
		return ServerRoute{}, fmt.Errorf("%w: route cidr must be ipv4", ErrValidation)
	}

	var route ServerRoute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&Server{}, "id = ?", serverID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load server: %w", err)
		}

		route = ServerRoute{
			ID:        uuid.NewString(),
			ServerID:  serverID,
			RouteCIDR: cidr.String(),
		}
		if err := tx.Create(&route).Error; err != nil {
			return fmt.Errorf("insert route: %w", err)
		}
		return nil
	})
	if err != nil {
		return ServerRoute{}, err
	}
	return route, nil
}

// ListRoutesByServer returns a server's routes in creation order.
func (s *Store) ListRoutesByServer(ctx context.Context, serverID string) ([]ServerRoute, error) {
	var routes []ServerRoute
	err := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("created_at asc, id asc").
		Find(&routes).Error
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return routes, nil
}

// DeleteRoute removes one route.
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&ServerRoute{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete route: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
