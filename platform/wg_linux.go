//go:build linux

package platform

import (
	"wirewarden/daemon"
	"wirewarden/infra/wgkernel"
)

// NewWireGuard creates the kernel WireGuard implementation for Linux.
func NewWireGuard() *wgkernel.WG {
	return wgkernel.New(daemon.InterfacePrefix)
}
