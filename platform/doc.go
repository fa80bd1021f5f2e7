// Package platform selects the WireGuard backend at compile time.
//
// Platform split:
//   - linux: kernel WireGuard backend (infra/wgkernel)
//   - other: erroring stub backend (platform/wgstub)
//
// platform only chooses concrete implementations. Runtime side effects
// remain in the daemon and infra packages.
package platform
