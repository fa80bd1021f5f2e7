//go:build !linux

package wgstub

import (
	"fmt"
	"runtime"

	"wirewarden/api/daemonapi"
)

// WG is a WireGuard implementation for unsupported platforms. Every
// operation reports that kernel WireGuard is unavailable.
type WG struct{}

func New() *WG { return &WG{} }

func (w *WG) EnsureInterface(_ string) error {
	return fmt.Errorf("wireguard not supported on %s", runtime.GOOS)
}

func (w *WG) RemoveInterface(_ string) error {
	return fmt.Errorf("wireguard not supported on %s", runtime.GOOS)
}

func (w *WG) ApplyConfig(_ string, _ daemonapi.Config, _ *daemonapi.Config) error {
	return fmt.Errorf("wireguard not supported on %s", runtime.GOOS)
}

func (w *WG) InterfaceExists(_ string) (bool, error) {
	return false, fmt.Errorf("wireguard not supported on %s", runtime.GOOS)
}

func (w *WG) ListManagedInterfaces() (map[string]string, error) {
	return nil, fmt.Errorf("wireguard not supported on %s", runtime.GOOS)
}
