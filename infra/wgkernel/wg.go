//go:build linux

package wgkernel

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wirewarden/api/daemonapi"
)

// WG manages the WireGuard interfaces under a fixed name prefix using the
// Linux kernel module.
type WG struct {
	prefix string
}

// New creates a kernel WireGuard implementation owning interfaces whose
// names carry the given prefix.
func New(prefix string) *WG {
	return &WG{prefix: prefix}
}

// EnsureInterface creates the named WireGuard link if it does not exist.
func (w *WG) EnsureInterface(name string) error {
	_, _, err := ensureLink(name)
	return err
}

// RemoveInterface deletes the named link. A missing link is not an error.
func (w *WG) RemoveInterface(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("find wireguard interface %q: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete wireguard interface %q: %w", name, err)
	}
	return nil
}

// InterfaceExists reports whether the named link is present.
func (w *WG) InterfaceExists(name string) (bool, error) {
	if _, err := netlink.LinkByName(name); err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("find wireguard interface %q: %w", name, err)
	}
	return true, nil
}

// ListManagedInterfaces returns name → private key (base64) for every live
// WireGuard device under the managed prefix.
func (w *WG) ListManagedInterfaces() (map[string]string, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("create wireguard client: %w", err)
	}
	defer wg.Close()

	devices, err := wg.Devices()
	if err != nil {
		return nil, fmt.Errorf("list wireguard devices: %w", err)
	}

	managed := make(map[string]string)
	for _, dev := range devices {
		if !strings.HasPrefix(dev.Name, w.prefix) {
			continue
		}
		if dev.PrivateKey == (wgtypes.Key{}) {
			continue
		}
		managed[dev.Name] = dev.PrivateKey.String()
	}
	return managed, nil
}

// ApplyConfig makes the named interface match next. With a prior config and
// a link that already existed it issues a differential update; otherwise it
// rewrites the whole device state and brings the link up.
func (w *WG) ApplyConfig(name string, next daemonapi.Config, prev *daemonapi.Config) error {
	link, created, err := ensureLink(name)
	if err != nil {
		return err
	}

	if prev != nil && !created {
		return applyDiff(link, *prev, next)
	}
	return applyFull(link, next)
}

func applyFull(link netlink.Link, next daemonapi.Config) error {
	name := link.Attrs().Name

	privateKey, err := wgtypes.ParseKey(next.Server.PrivateKey)
	if err != nil {
		return fmt.Errorf("parse private key for %q: %w", name, err)
	}
	defer zeroKey(&privateKey)

	peers, err := buildPeerConfigs(next.Peers, next.Network.PersistentKeepalive)
	if err != nil {
		return err
	}

	port := next.Server.ListenPort
	cfg := wgtypes.Config{
		PrivateKey:   &privateKey,
		ListenPort:   &port,
		ReplacePeers: true,
		Peers:        peers,
	}
	if err := configureDevice(name, cfg); err != nil {
		return err
	}

	if err := assignAddress(link, next.Server.Address); err != nil {
		return err
	}

	if link.Attrs().Flags&unix.IFF_UP == 0 {
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("set wireguard interface up: %w", err)
		}
	}
	return nil
}

// applyDiff writes only what changed: device key/port when either differs,
// a peer set diffed by public key, and the address only on change. The link
// up-state is left alone; the kernel preserves it across edits.
func applyDiff(link netlink.Link, prev, next daemonapi.Config) error {
	name := link.Attrs().Name

	var cfg wgtypes.Config
	if prev.Server.PrivateKey != next.Server.PrivateKey {
		privateKey, err := wgtypes.ParseKey(next.Server.PrivateKey)
		if err != nil {
			return fmt.Errorf("parse private key for %q: %w", name, err)
		}
		defer zeroKey(&privateKey)
		cfg.PrivateKey = &privateKey
	}
	if prev.Server.ListenPort != next.Server.ListenPort {
		port := next.Server.ListenPort
		cfg.ListenPort = &port
	}

	peers, err := diffPeerConfigs(prev.Peers, next.Peers, next.Network.PersistentKeepalive)
	if err != nil {
		return err
	}
	cfg.Peers = peers

	if cfg.PrivateKey != nil || cfg.ListenPort != nil || len(cfg.Peers) > 0 {
		if err := configureDevice(name, cfg); err != nil {
			return err
		}
	}

	if prev.Server.Address != next.Server.Address {
		if err := assignAddress(link, next.Server.Address); err != nil {
			return err
		}
	}
	return nil
}

func ensureLink(name string) (netlink.Link, bool, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); !ok {
			return nil, false, fmt.Errorf("find wireguard interface %q: %w", name, err)
		}
		link = &netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Name: name}, LinkType: "wireguard"}
		if err := netlink.LinkAdd(link); err != nil {
			return nil, false, fmt.Errorf("create wireguard interface %q: %w", name, err)
		}
		link, err = netlink.LinkByName(name)
		if err != nil {
			return nil, false, fmt.Errorf("refetch wireguard interface %q: %w", name, err)
		}
		return link, true, nil
	}
	return link, false, nil
}

func configureDevice(name string, cfg wgtypes.Config) error {
	wg, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("create wireguard client: %w", err)
	}
	defer wg.Close()

	if err := wg.ConfigureDevice(name, cfg); err != nil {
		return fmt.Errorf("configure wireguard device %q: %w", name, err)
	}
	return nil
}

func buildPeerConfigs(peers []daemonapi.Peer, keepalive int) ([]wgtypes.PeerConfig, error) {
	cfgs := make([]wgtypes.PeerConfig, 0, len(peers))
	for _, p := range peers {
		pc, err := buildPeerConfig(p, keepalive)
		if err != nil {
			return nil, err
		}
		pc.ReplaceAllowedIPs = true
		cfgs = append(cfgs, pc)
	}
	return cfgs, nil
}

// diffPeerConfigs turns the prev → next peer delta into kernel peer writes:
// new keys are added, vanished keys removed, changed payloads rewritten
// under UpdateOnly so a concurrently removed peer is not resurrected.
func diffPeerConfigs(prev, next []daemonapi.Peer, keepalive int) ([]wgtypes.PeerConfig, error) {
	prevByKey := make(map[string]daemonapi.Peer, len(prev))
	for _, p := range prev {
		prevByKey[p.PublicKey] = p
	}

	var cfgs []wgtypes.PeerConfig
	nextKeys := make(map[string]struct{}, len(next))
	for _, p := range next {
		nextKeys[p.PublicKey] = struct{}{}

		old, known := prevByKey[p.PublicKey]
		if known && old.Equal(p) {
			continue
		}
		pc, err := buildPeerConfig(p, keepalive)
		if err != nil {
			return nil, err
		}
		pc.ReplaceAllowedIPs = true
		pc.UpdateOnly = known
		cfgs = append(cfgs, pc)
	}

	for _, p := range prev {
		if _, ok := nextKeys[p.PublicKey]; ok {
			continue
		}
		publicKey, err := wgtypes.ParseKey(p.PublicKey)
		if err != nil {
			continue
		}
		cfgs = append(cfgs, wgtypes.PeerConfig{PublicKey: publicKey, Remove: true})
	}
	return cfgs, nil
}

func buildPeerConfig(p daemonapi.Peer, keepalive int) (wgtypes.PeerConfig, error) {
	publicKey, err := wgtypes.ParseKey(p.PublicKey)
	if err != nil {
		return wgtypes.PeerConfig{}, fmt.Errorf("parse peer public key %q: %w", p.PublicKey, err)
	}

	pc := wgtypes.PeerConfig{PublicKey: publicKey}

	if p.Endpoint != nil {
		// Unresolvable endpoints are skipped rather than failing the apply;
		// the peer still gets installed and can dial in.
		if addr, err := net.ResolveUDPAddr("udp", *p.Endpoint); err == nil {
			pc.Endpoint = addr
		}
	}

	if p.PresharedKey != nil {
		psk, err := wgtypes.ParseKey(*p.PresharedKey)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("parse preshared key for peer %s: %w", publicKey, err)
		}
		pc.PresharedKey = &psk
	}

	for _, cidr := range p.AllowedIPs {
		pref, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		pc.AllowedIPs = append(pc.AllowedIPs, prefixToIPNet(pref))
	}

	if keepalive > 0 {
		pc.PersistentKeepaliveInterval = ptrDuration(time.Duration(keepalive) * time.Second)
	}

	return pc, nil
}

// assignAddress converges the link onto the single desired address: the new
// one is added before stale ones are removed so the interface never sits
// without an address.
func assignAddress(link netlink.Link, address string) error {
	pref, err := parseAddress(address)
	if err != nil {
		return fmt.Errorf("parse interface address %q: %w", address, err)
	}

	addr := &netlink.Addr{IPNet: ptrIPNet(prefixToIPNet(pref))}
	if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("set wireguard address %s: %w", pref, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("list wireguard addresses on %s: %w", link.Attrs().Name, err)
	}
	for _, existing := range addrs {
		if existing.IPNet == nil {
			continue
		}
		current, err := ipNetToPrefix(*existing.IPNet)
		if err != nil || current == pref {
			continue
		}
		if err := netlink.AddrDel(link, &existing); err != nil && !errors.Is(err, unix.EADDRNOTAVAIL) {
			return fmt.Errorf("remove stale wireguard address %s: %w", current, err)
		}
	}
	return nil
}

// parseAddress accepts "A.B.C.D/P" and tolerates a bare address, which gets
// a host-width prefix.
func parseAddress(address string) (netip.Prefix, error) {
	if pref, err := netip.ParsePrefix(address); err == nil {
		return pref, nil
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func zeroKey(k *wgtypes.Key) {
	for i := range k {
		k[i] = 0
	}
}

func ptrDuration(d time.Duration) *time.Duration { return &d }
func ptrIPNet(n net.IPNet) *net.IPNet             { return &n }

func prefixToIPNet(pref netip.Prefix) net.IPNet {
	bits := 32
	if pref.Addr().Is6() {
		bits = 128
	}
	return net.IPNet{IP: pref.Addr().AsSlice(), Mask: net.CIDRMask(pref.Bits(), bits)}
}

func ipNetToPrefix(n net.IPNet) (netip.Prefix, error) {
	a, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("invalid IP %v", n.IP)
	}
	one, _ := n.Mask.Size()
	return netip.PrefixFrom(a.Unmap(), one), nil
}
