//go:build !linux

package platform

import "wirewarden/platform/wgstub"

// NewWireGuard returns a stub WireGuard that errors on unsupported platforms.
func NewWireGuard() *wgstub.WG {
	return wgstub.New()
}
