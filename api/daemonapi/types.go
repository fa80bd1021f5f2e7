// Package daemonapi defines the desired-state document served by the control
// plane at /api/daemon/config and consumed by the host daemon. Both sides
// import this package; the JSON shape is the compatibility contract.
package daemonapi

import "reflect"

// Config is one server's desired state: its own device settings plus every
// peer it should hold (other servers with endpoints, and all clients).
type Config struct {
	Server  ServerInfo  `json:"server"`
	Network NetworkInfo `json:"network"`
	Peers   []Peer      `json:"peers"`
}

// ServerInfo describes the device the daemon manages for this entry. The
// private key travels only inside this document and is never written to disk.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Address    string `json:"address"` // "A.B.C.D/P"
	ListenPort int    `json:"listen_port"`
}

// NetworkInfo carries the network-wide settings the daemon applies to peers.
type NetworkInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	CIDR                string `json:"cidr"`
	PersistentKeepalive int    `json:"persistent_keepalive"`
}

// Peer is one WireGuard peer entry. Endpoint is null for clients (they dial
// in); PresharedKey is set only for server-client pairs that share one.
type Peer struct {
	PublicKey    string   `json:"public_key"`
	AllowedIPs   []string `json:"allowed_ips"`
	Endpoint     *string  `json:"endpoint"`
	PresharedKey *string  `json:"preshared_key,omitempty"`
}

// Equal reports whether two configs describe the same desired state.
func (c Config) Equal(other Config) bool {
	return reflect.DeepEqual(c, other)
}

// Equal reports whether two peer entries carry the same payload.
func (p Peer) Equal(other Peer) bool {
	return reflect.DeepEqual(p, other)
}
