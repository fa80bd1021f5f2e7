package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"wirewarden/internal/plan"
	"wirewarden/pkg/ipam"
)

// LoadNetworkSnapshot reads the network with all its servers, clients,
// routes, and public keys in one transaction, so the generator and the
// desired-state builder see a consistent point in time. Private keys stay
// sealed; callers decrypt only the one they need.
func (s *Store) LoadNetworkSnapshot(ctx context.Context, networkID string) (plan.Snapshot, error) {
	var snap plan.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var network Network
		err := tx.First(&network, "id = ?", networkID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNetworkNotFound
		}
		if err != nil {
			return fmt.Errorf("load network: %w", err)
		}
		prefix, err := network.Prefix()
		if err != nil {
			return err
		}

		var servers []Server
		if err := tx.Where("network_id = ?", networkID).Order("created_at asc, id asc").Find(&servers).Error; err != nil {
			return fmt.Errorf("list servers: %w", err)
		}
		var clients []Client
		if err := tx.Where("network_id = ?", networkID).Order("created_at asc, id asc").Find(&clients).Error; err != nil {
			return fmt.Errorf("list clients: %w", err)
		}

		keyIDs := make([]string, 0, len(servers)+len(clients))
		serverIDs := make([]string, 0, len(servers))
		for _, srv := range servers {
			keyIDs = append(keyIDs, srv.KeyID)
			serverIDs = append(serverIDs, srv.ID)
		}
		for _, c := range clients {
			keyIDs = append(keyIDs, c.KeyID)
		}

		keys := make(map[string]WgKey, len(keyIDs))
		if len(keyIDs) > 0 {
			var rows []WgKey
			if err := tx.Where("id IN ?", keyIDs).Find(&rows).Error; err != nil {
				return fmt.Errorf("load keys: %w", err)
			}
			for _, k := range rows {
				keys[k.ID] = k
			}
			for _, id := range keyIDs {
				if _, ok := keys[id]; !ok {
					return fmt.Errorf("load keys: %w: %s", ErrNotFound, id)
				}
			}
		}

		routesByServer := make(map[string][]ServerRoute, len(serverIDs))
		if len(serverIDs) > 0 {
			var routes []ServerRoute
			if err := tx.Where("server_id IN ?", serverIDs).Order("created_at asc, id asc").Find(&routes).Error; err != nil {
				return fmt.Errorf("list routes: %w", err)
			}
			for _, r := range routes {
				routesByServer[r.ServerID] = append(routesByServer[r.ServerID], r)
			}
		}

		snap = plan.Snapshot{
			Network: plan.Network{
				ID:                  network.ID,
				Name:                network.Name,
				Prefix:              prefix,
				DNSServers:          network.DNSServers,
				PersistentKeepalive: network.PersistentKeepalive,
			},
			Servers: make([]plan.Server, 0, len(servers)),
			Clients: make([]plan.Client, 0, len(clients)),
		}

		for _, srv := range servers {
			ps := plan.Server{
				ID:                      srv.ID,
				Name:                    srv.Name,
				PublicKey:               keys[srv.KeyID].PublicKey,
				AddressOffset:           srv.AddressOffset,
				ForwardsInternetTraffic: srv.ForwardsInternetTraffic,
				EndpointPort:            srv.EndpointPort,
			}
			if srv.EndpointHost != nil {
				ps.EndpointHost = *srv.EndpointHost
			}
			for _, r := range routesByServer[srv.ID] {
				cidr, err := ipam.Parse4(r.RouteCIDR)
				if err != nil {
					return fmt.Errorf("route %s has invalid cidr: %w", r.ID, err)
				}
				ps.Routes = append(ps.Routes, cidr)
			}
			snap.Servers = append(snap.Servers, ps)
		}

		for _, c := range clients {
			snap.Clients = append(snap.Clients, plan.Client{
				ID:            c.ID,
				Name:          c.Name,
				PublicKey:     keys[c.KeyID].PublicKey,
				AddressOffset: c.AddressOffset,
			})
		}
		return nil
	})
	if err != nil {
		return plan.Snapshot{}, err
	}
	return snap, nil
}
