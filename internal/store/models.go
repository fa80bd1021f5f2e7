package store

import (
	"net/netip"
	"time"

	"wirewarden/pkg/ipam"
)

// Network is a named IPv4 CIDR hosting servers and clients.
type Network struct {
	ID                  string   `gorm:"primaryKey"`
	Name                string   `gorm:"uniqueIndex;not null"`
	CIDR                string   `gorm:"not null"` // canonical "base/prefix"
	DNSServers          []string `gorm:"serializer:json;not null"`
	PersistentKeepalive int      `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Prefix parses the stored CIDR. Creation validates it, so failures here
// indicate a corrupted row.
func (n Network) Prefix() (netip.Prefix, error) {
	return ipam.Parse4(n.CIDR)
}

// WgKey holds one Curve25519 keypair. The private key is sealed by the
// process-wide envelope; only the public key is stored in the clear.
type WgKey struct {
	ID                  string `gorm:"primaryKey"`
	PublicKey           string `gorm:"not null"`
	EncryptedPrivateKey []byte `gorm:"not null"`
	Nonce               []byte `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Server is a gateway peer. Its api_token authenticates the host daemon;
// endpoint_host is optional (servers without one are unreachable by clients
// and skipped by the generator).
type Server struct {
	ID                      string `gorm:"primaryKey"`
	NetworkID               string `gorm:"not null;index;uniqueIndex:idx_servers_network_name,priority:1"`
	Name                    string `gorm:"not null;uniqueIndex:idx_servers_network_name,priority:2"`
	KeyID                   string `gorm:"not null"`
	APIToken                string `gorm:"not null;uniqueIndex"`
	AddressOffset           uint32 `gorm:"not null"`
	ForwardsInternetTraffic bool   `gorm:"not null"`
	EndpointHost            *string
	EndpointPort            int `gorm:"not null"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Client is a leaf peer with no endpoint of its own.
type Client struct {
	ID            string `gorm:"primaryKey"`
	NetworkID     string `gorm:"not null;index;uniqueIndex:idx_clients_network_name,priority:1"`
	Name          string `gorm:"not null;uniqueIndex:idx_clients_network_name,priority:2"`
	KeyID         string `gorm:"not null"`
	AddressOffset uint32 `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ServerRoute is an extra CIDR a server advertises beyond the network range.
type ServerRoute struct {
	ID        string `gorm:"primaryKey"`
	ServerID  string `gorm:"not null;index"`
	RouteCIDR string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PresharedKey is the per server-client pair PSK, sealed like private keys.
type PresharedKey struct {
	ID        string `gorm:"primaryKey"`
	ServerID  string `gorm:"not null;uniqueIndex:idx_psks_pair,priority:1"`
	ClientID  string `gorm:"not null;uniqueIndex:idx_psks_pair,priority:2"`
	Encrypted []byte `gorm:"not null"`
	Nonce     []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// addressClaim enforces the offset invariant across servers and clients: one
// row per occupied (network, offset) pair, inserted in the same transaction
// as the owning peer. The unique key turns allocation races into conflicts.
type addressClaim struct {
	NetworkID string `gorm:"primaryKey"`
	Offset    uint32 `gorm:"primaryKey;autoIncrement:false"`
}

func (addressClaim) TableName() string { return "address_claims" }
