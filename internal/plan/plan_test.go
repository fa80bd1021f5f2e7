package plan

import (
	"net/netip"
	"strings"
	"testing"

	"wirewarden/pkg/ipam"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := ipam.Parse4(s)
	if err != nil {
		t.Fatalf("parse prefix %q: %v", s, err)
	}
	return p
}

func testSnapshot(t *testing.T, dns []string, servers []Server, clients []Client) Snapshot {
	t.Helper()
	return Snapshot{
		Network: Network{
			ID:                  "net-1",
			Name:                "homelab",
			Prefix:              mustPrefix(t, "10.0.1.0/24"),
			DNSServers:          dns,
			PersistentKeepalive: 25,
		},
		Servers: servers,
		Clients: clients,
	}
}

func allowedLines(config string) []string {
	var lines []string
	for _, line := range strings.Split(config, "\n") {
		if strings.HasPrefix(line, "AllowedIPs = ") {
			lines = append(lines, strings.TrimPrefix(line, "AllowedIPs = "))
		}
	}
	return lines
}

func TestWGQuickSplitTunnelOneServer(t *testing.T) {
	snap := testSnapshot(t,
		[]string{"1.1.1.1", "8.8.8.8"},
		[]Server{{
			ID: "srv-1", Name: "gateway", PublicKey: "SERVER_PUB",
			AddressOffset: 1, EndpointHost: "vpn.example.com", EndpointPort: 51820,
		}},
		[]Client{{ID: "cli-1", Name: "laptop", PublicKey: "CLIENT_PUB", AddressOffset: 2}},
	)

	got := WGQuick(snap, snap.Clients[0], "CLIENT_PRIV", false)
	want := `# laptop
[Interface]
# PublicKey = CLIENT_PUB
PrivateKey = CLIENT_PRIV
Address = 10.0.1.2/24

# gateway
[Peer]
PublicKey = SERVER_PUB
Endpoint = vpn.example.com:51820
AllowedIPs = 10.0.1.0/24
`
	if got != want {
		t.Errorf("config mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWGQuickFullTunnelOneServer(t *testing.T) {
	snap := testSnapshot(t,
		nil,
		[]Server{{
			ID: "srv-1", Name: "gateway", PublicKey: "SERVER_PUB",
			AddressOffset: 1, ForwardsInternetTraffic: true,
			EndpointHost: "vpn.example.com", EndpointPort: 51820,
		}},
		[]Client{{ID: "cli-1", Name: "laptop", PublicKey: "CLIENT_PUB", AddressOffset: 2}},
	)

	got := WGQuick(snap, snap.Clients[0], "CLIENT_PRIV", true)

	if strings.Contains(got, "DNS") {
		t.Errorf("empty dns list must not emit a DNS line:\n%s", got)
	}
	if strings.Contains(got, "0.0.0.0/0") {
		t.Errorf("full tunnel must not emit a bare default route:\n%s", got)
	}
	if !strings.Contains(got, "10.0.1.0/24") {
		t.Errorf("network range missing from allowed ips:\n%s", got)
	}
	// First piece of 0.0.0.0/0 minus RFC1918.
	if !strings.Contains(got, "0.0.0.0/5") {
		t.Errorf("public ranges missing from allowed ips:\n%s", got)
	}
}

func TestWGQuickDNSLine(t *testing.T) {
	tests := []struct {
		name            string
		dns             []string
		forwardInternet bool
		want            string
	}{
		{"forwarding with dns", []string{"1.1.1.1", "8.8.8.8"}, true, "DNS = 1.1.1.1, 8.8.8.8\n"},
		{"forwarding without dns", nil, true, ""},
		{"split tunnel with dns", []string{"1.1.1.1"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := testSnapshot(t, tt.dns,
				[]Server{{
					ID: "srv-1", Name: "gateway", PublicKey: "SERVER_PUB", AddressOffset: 1,
					ForwardsInternetTraffic: true, EndpointHost: "vpn.example.com", EndpointPort: 51820,
				}},
				[]Client{{ID: "cli-1", Name: "laptop", PublicKey: "CLIENT_PUB", AddressOffset: 2}},
			)
			got := WGQuick(snap, snap.Clients[0], "CLIENT_PRIV", tt.forwardInternet)

			if tt.want == "" {
				if strings.Contains(got, "DNS") {
					t.Errorf("unexpected DNS line:\n%s", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("missing %q in:\n%s", tt.want, got)
			}
		})
	}
}

func TestWGQuickFirstServerWins(t *testing.T) {
	snap := testSnapshot(t, nil,
		[]Server{
			{ID: "srv-1", Name: "alpha", PublicKey: "ALPHA_PUB", AddressOffset: 1,
				EndpointHost: "alpha.example.com", EndpointPort: 51820},
			{ID: "srv-2", Name: "beta", PublicKey: "BETA_PUB", AddressOffset: 2,
				EndpointHost: "beta.example.com", EndpointPort: 51820},
		},
		[]Client{{ID: "cli-1", Name: "laptop", PublicKey: "CLIENT_PUB", AddressOffset: 3}},
	)

	got := WGQuick(snap, snap.Clients[0], "CLIENT_PRIV", false)
	lines := allowedLines(got)
	if len(lines) != 2 {
		t.Fatalf("want 2 peers, got %d:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[0], "10.0.1.0/24") {
		t.Errorf("first server should claim the network range, got %q", lines[0])
	}
	// The enclosing /24 is already claimed; only the own /32 survives.
	if lines[1] != "10.0.1.2/32" {
		t.Errorf("second server allowed ips = %q, want %q", lines[1], "10.0.1.2/32")
	}
}

func TestWGQuickOverlappingRoutes(t *testing.T) {
	shared := mustPrefix(t, "172.16.0.0/16")
	snap := testSnapshot(t, nil,
		[]Server{
			{ID: "srv-1", Name: "alpha", PublicKey: "ALPHA_PUB", AddressOffset: 1,
				EndpointHost: "alpha.example.com", EndpointPort: 51820, Routes: []netip.Prefix{shared}},
			{ID: "srv-2", Name: "beta", PublicKey: "BETA_PUB", AddressOffset: 2,
				EndpointHost: "beta.example.com", EndpointPort: 51820, Routes: []netip.Prefix{shared}},
		},
		[]Client{{ID: "cli-1", Name: "laptop", PublicKey: "CLIENT_PUB", AddressOffset: 3}},
	)

	got := WGQuick(snap, snap.Clients[0], "CLIENT_PRIV", false)
	lines := allowedLines(got)
	if len(lines) != 2 {
		t.Fatalf("want 2 peers, got %d:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[0], "172.16.0.0/16") {
		t.Errorf("first server should claim the shared route, got %q", lines[0])
	}
	if strings.Contains(lines[1], "172.16") {
		t.Errorf("second server must not claim any of the shared route, got %q", lines[1])
	}
}

func TestWGQuickZeroEligibleServers(t *testing.T) {
	snap := testSnapshot(t, nil,
		[]Server{{ID: "srv-1", Name: "dark", PublicKey: "DARK_PUB", AddressOffset: 1, EndpointPort: 51820}},
		[]Client{{ID: "cli-1", Name: "laptop", PublicKey: "CLIENT_PUB", AddressOffset: 2}},
	)

	got := WGQuick(snap, snap.Clients[0], "CLIENT_PRIV", false)
	if !strings.Contains(got, "[Interface]") {
		t.Errorf("interface section missing:\n%s", got)
	}
	if strings.Contains(got, "[Peer]") {
		t.Errorf("server without endpoint must not appear as a peer:\n%s", got)
	}
}

func overlaps(a, b netip.Prefix) bool {
	return ipam.Contains(a, b) || ipam.Contains(b, a)
}

func TestAllowedIPsPairwiseDisjoint(t *testing.T) {
	snap := testSnapshot(t, nil,
		[]Server{
			{ID: "srv-1", Name: "alpha", PublicKey: "A", AddressOffset: 1,
				ForwardsInternetTraffic: true, EndpointHost: "a.example.com", EndpointPort: 51820,
				Routes: []netip.Prefix{mustPrefix(t, "192.168.50.0/24")}},
			{ID: "srv-2", Name: "beta", PublicKey: "B", AddressOffset: 2,
				ForwardsInternetTraffic: true, EndpointHost: "b.example.com", EndpointPort: 51820,
				Routes: []netip.Prefix{mustPrefix(t, "192.168.0.0/16")}},
			{ID: "srv-3", Name: "gamma", PublicKey: "C", AddressOffset: 3,
				EndpointHost: "c.example.com", EndpointPort: 51820},
		},
		nil,
	)

	plans := AllowedIPs(snap, true)
	if len(plans) != 3 {
		t.Fatalf("want 3 peer plans, got %d", len(plans))
	}

	ownHost := func(p PeerPlan) netip.Prefix {
		return netip.PrefixFrom(ipam.HostAt(snap.Network.Prefix, p.Server.AddressOffset), 32)
	}

	for i := range plans {
		for j := i + 1; j < len(plans); j++ {
			for _, a := range plans[i].Allowed {
				for _, b := range plans[j].Allowed {
					if a == ownHost(plans[i]) || b == ownHost(plans[j]) {
						continue
					}
					if overlaps(a, b) {
						t.Errorf("peers %s and %s overlap: %s vs %s",
							plans[i].Server.Name, plans[j].Server.Name, a, b)
					}
				}
			}
		}
	}
}

func TestAllowedIPsFirstEligibleGetsNetwork(t *testing.T) {
	snap := testSnapshot(t, nil,
		[]Server{
			{ID: "srv-1", Name: "dark", PublicKey: "D", AddressOffset: 1, EndpointPort: 51820},
			{ID: "srv-2", Name: "alpha", PublicKey: "A", AddressOffset: 2,
				EndpointHost: "a.example.com", EndpointPort: 51820},
		},
		nil,
	)

	plans := AllowedIPs(snap, false)
	if len(plans) != 1 {
		t.Fatalf("want 1 peer plan, got %d", len(plans))
	}
	found := false
	for _, p := range plans[0].Allowed {
		if p == snap.Network.Prefix {
			found = true
		}
	}
	if !found {
		t.Errorf("first eligible server must receive the network range, got %v", plans[0].Allowed)
	}
}

func TestBuildDaemonConfig(t *testing.T) {
	snap := testSnapshot(t,
		[]string{"1.1.1.1"},
		[]Server{
			{ID: "srv-1", Name: "alpha", PublicKey: "ALPHA_PUB", AddressOffset: 1,
				EndpointHost: "alpha.example.com", EndpointPort: 51820},
			{ID: "srv-2", Name: "beta", PublicKey: "BETA_PUB", AddressOffset: 2,
				EndpointHost: "beta.example.com", EndpointPort: 51821,
				Routes: []netip.Prefix{mustPrefix(t, "192.168.50.0/24")}},
			{ID: "srv-3", Name: "dark", PublicKey: "DARK_PUB", AddressOffset: 3, EndpointPort: 51822},
		},
		[]Client{
			{ID: "cli-1", Name: "laptop", PublicKey: "LAPTOP_PUB", AddressOffset: 10},
			{ID: "cli-2", Name: "phone", PublicKey: "PHONE_PUB", AddressOffset: 11},
		},
	)

	cfg, err := BuildDaemonConfig(snap, "srv-1", "ALPHA_PRIV", map[string]string{"cli-2": "PAIR_PSK"})
	if err != nil {
		t.Fatalf("build daemon config: %v", err)
	}

	if cfg.Server.ID != "srv-1" || cfg.Server.PrivateKey != "ALPHA_PRIV" {
		t.Errorf("server info = %+v", cfg.Server)
	}
	if cfg.Server.Address != "10.0.1.1/24" {
		t.Errorf("server address = %q, want %q", cfg.Server.Address, "10.0.1.1/24")
	}
	if cfg.Server.ListenPort != 51820 {
		t.Errorf("listen port = %d, want 51820", cfg.Server.ListenPort)
	}
	if cfg.Network.CIDR != "10.0.1.0/24" || cfg.Network.PersistentKeepalive != 25 {
		t.Errorf("network info = %+v", cfg.Network)
	}

	// One reachable other server plus both clients; the dark server and
	// self are excluded.
	if len(cfg.Peers) != 3 {
		t.Fatalf("want 3 peers, got %d: %+v", len(cfg.Peers), cfg.Peers)
	}

	beta := cfg.Peers[0]
	if beta.PublicKey != "BETA_PUB" {
		t.Errorf("first peer = %q, want beta", beta.PublicKey)
	}
	if beta.Endpoint == nil || *beta.Endpoint != "beta.example.com:51821" {
		t.Errorf("beta endpoint = %v", beta.Endpoint)
	}
	wantAllowed := []string{"10.0.1.2/32", "192.168.50.0/24"}
	if len(beta.AllowedIPs) != len(wantAllowed) {
		t.Fatalf("beta allowed ips = %v, want %v", beta.AllowedIPs, wantAllowed)
	}
	for i := range wantAllowed {
		if beta.AllowedIPs[i] != wantAllowed[i] {
			t.Errorf("beta allowed ips[%d] = %q, want %q", i, beta.AllowedIPs[i], wantAllowed[i])
		}
	}
	if beta.PresharedKey != nil {
		t.Errorf("server peers must not carry a psk, got %v", *beta.PresharedKey)
	}

	laptop, phone := cfg.Peers[1], cfg.Peers[2]
	if laptop.PublicKey != "LAPTOP_PUB" || phone.PublicKey != "PHONE_PUB" {
		t.Errorf("client peers out of order: %+v", cfg.Peers[1:])
	}
	if laptop.Endpoint != nil {
		t.Errorf("client peers must not carry an endpoint, got %v", *laptop.Endpoint)
	}
	if len(laptop.AllowedIPs) != 1 || laptop.AllowedIPs[0] != "10.0.1.10/32" {
		t.Errorf("laptop allowed ips = %v", laptop.AllowedIPs)
	}
	if laptop.PresharedKey != nil {
		t.Errorf("laptop has no pair psk, got %v", *laptop.PresharedKey)
	}
	if phone.PresharedKey == nil || *phone.PresharedKey != "PAIR_PSK" {
		t.Errorf("phone psk = %v, want PAIR_PSK", phone.PresharedKey)
	}
}

func TestBuildDaemonConfigUnknownServer(t *testing.T) {
	snap := testSnapshot(t, nil, nil, nil)
	if _, err := BuildDaemonConfig(snap, "srv-missing", "PRIV", nil); err == nil {
		t.Fatal("want error for server outside the snapshot")
	}
}
