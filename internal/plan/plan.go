// Package plan turns a network snapshot into the two artifacts peers consume:
// the wg-quick text a client imports and the desired-state document a server
// daemon applies. Both build on the same first-server-wins AllowedIPs walk;
// nothing here touches the database.
package plan

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"wirewarden/api/daemonapi"
	"wirewarden/pkg/ipam"
)

// Network is the snapshot view of one network.
type Network struct {
	ID                  string
	Name                string
	Prefix              netip.Prefix
	DNSServers          []string
	PersistentKeepalive int
}

// Server is the snapshot view of one gateway peer. Routes hold the extra
// CIDRs it advertises beyond the network range, in creation order.
type Server struct {
	ID                      string
	Name                    string
	PublicKey               string
	AddressOffset           uint32
	ForwardsInternetTraffic bool
	EndpointHost            string // empty when the server has no endpoint
	EndpointPort            int
	Routes                  []netip.Prefix
}

// Reachable reports whether clients can dial this server.
func (s Server) Reachable() bool { return s.EndpointHost != "" }

// Endpoint returns the dialable host:port.
func (s Server) Endpoint() string {
	return net.JoinHostPort(s.EndpointHost, strconv.Itoa(s.EndpointPort))
}

// Client is the snapshot view of one leaf peer.
type Client struct {
	ID            string
	Name          string
	PublicKey     string
	AddressOffset uint32
}

// Snapshot is a point-in-time read of a network and its peers. Servers and
// Clients are ordered by creation time; the AllowedIPs walk depends on it.
type Snapshot struct {
	Network Network
	Servers []Server
	Clients []Client
}

// Client returns the snapshot's client with the given id.
func (s Snapshot) Client(id string) (Client, bool) {
	for _, c := range s.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return Client{}, false
}

// Server returns the snapshot's server with the given id.
func (s Snapshot) Server(id string) (Server, bool) {
	for _, srv := range s.Servers {
		if srv.ID == id {
			return srv, true
		}
	}
	return Server{}, false
}

// PeerPlan is one reachable server with the AllowedIPs ranges assigned to it.
type PeerPlan struct {
	Server  Server
	Allowed []netip.Prefix
}

// AllowedIPs assigns non-overlapping AllowedIPs ranges to the snapshot's
// reachable servers. Servers are visited in creation order and each claims
// whatever its candidate ranges still cover once earlier claims are
// subtracted: the network CIDR, its explicit routes, and, when both the
// client and the server opt into forwarding, the public internet. A server
// always retains its own /32 so the client can reach it directly even after
// a wider claim elsewhere swallowed its range.
func AllowedIPs(snap Snapshot, forwardInternet bool) []PeerPlan {
	var claimed []netip.Prefix
	var plans []PeerPlan

	for _, server := range snap.Servers {
		if !server.Reachable() {
			continue
		}

		candidates := make([]netip.Prefix, 0, 1+len(server.Routes))
		candidates = append(candidates, snap.Network.Prefix)
		candidates = append(candidates, server.Routes...)
		if forwardInternet && server.ForwardsInternetTraffic {
			candidates = append(candidates, ipam.PublicRanges()...)
		}

		var allowed []netip.Prefix
		for _, candidate := range candidates {
			allowed = append(allowed, ipam.SubtractMany(candidate, claimed)...)
		}

		own := netip.PrefixFrom(ipam.HostAt(snap.Network.Prefix, server.AddressOffset), 32)
		covered := false
		for _, p := range allowed {
			if ipam.Contains(p, own) {
				covered = true
				break
			}
		}
		if !covered {
			allowed = append(allowed, own)
		}

		claimed = append(claimed, allowed...)
		plans = append(plans, PeerPlan{Server: server, Allowed: allowed})
	}
	return plans
}

// WGQuick renders the wg-quick configuration for one client. privateKey is
// the client's decrypted private key; forwardInternet is the client's
// full-tunnel preference. DNS servers are only pushed on full-tunnel configs
// since split-tunnel clients keep their local resolvers.
func WGQuick(snap Snapshot, client Client, privateKey string, forwardInternet bool) string {
	address := ipam.HostAt(snap.Network.Prefix, client.AddressOffset)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", client.Name)
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "# PublicKey = %s\n", client.PublicKey)
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	fmt.Fprintf(&b, "Address = %s/%d\n", address, snap.Network.Prefix.Bits())
	if forwardInternet && len(snap.Network.DNSServers) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(snap.Network.DNSServers, ", "))
	}

	for _, peer := range AllowedIPs(snap, forwardInternet) {
		ranges := make([]string, 0, len(peer.Allowed))
		for _, p := range peer.Allowed {
			ranges = append(ranges, p.String())
		}

		b.WriteString("\n")
		fmt.Fprintf(&b, "# %s\n", peer.Server.Name)
		b.WriteString("[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", peer.Server.PublicKey)
		fmt.Fprintf(&b, "Endpoint = %s\n", peer.Server.Endpoint())
		fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(ranges, ", "))
	}
	return b.String()
}

// BuildDaemonConfig assembles the desired-state document for one server.
// privateKey is that server's decrypted private key; psks maps client id to
// the base64 PSK for this server's pairs. Peers are the network's other
// reachable servers (own /32 plus advertised routes, no PSK) followed by
// every client (own /32, PSK when the pair has one).
func BuildDaemonConfig(snap Snapshot, serverID, privateKey string, psks map[string]string) (daemonapi.Config, error) {
	self, ok := snap.Server(serverID)
	if !ok {
		return daemonapi.Config{}, fmt.Errorf("server %s is not part of network %s", serverID, snap.Network.ID)
	}

	address := ipam.HostAt(snap.Network.Prefix, self.AddressOffset)

	peers := make([]daemonapi.Peer, 0, len(snap.Servers)+len(snap.Clients))
	for _, other := range snap.Servers {
		if other.ID == self.ID || !other.Reachable() {
			continue
		}
		allowed := make([]string, 0, 1+len(other.Routes))
		allowed = append(allowed, fmt.Sprintf("%s/32", ipam.HostAt(snap.Network.Prefix, other.AddressOffset)))
		for _, route := range other.Routes {
			allowed = append(allowed, route.String())
		}
		endpoint := other.Endpoint()
		peers = append(peers, daemonapi.Peer{
			PublicKey:  other.PublicKey,
			AllowedIPs: allowed,
			Endpoint:   &endpoint,
		})
	}
	for _, client := range snap.Clients {
		peer := daemonapi.Peer{
			PublicKey:  client.PublicKey,
			AllowedIPs: []string{fmt.Sprintf("%s/32", ipam.HostAt(snap.Network.Prefix, client.AddressOffset))},
		}
		if psk, ok := psks[client.ID]; ok {
			peer.PresharedKey = &psk
		}
		peers = append(peers, peer)
	}

	return daemonapi.Config{
		Server: daemonapi.ServerInfo{
			ID:         self.ID,
			Name:       self.Name,
			PrivateKey: privateKey,
			PublicKey:  self.PublicKey,
			Address:    fmt.Sprintf("%s/%d", address, snap.Network.Prefix.Bits()),
			ListenPort: self.EndpointPort,
		},
		Network: daemonapi.NetworkInfo{
			ID:                  snap.Network.ID,
			Name:                snap.Network.Name,
			CIDR:                snap.Network.Prefix.String(),
			PersistentKeepalive: snap.Network.PersistentKeepalive,
		},
		Peers: peers,
	}, nil
}
