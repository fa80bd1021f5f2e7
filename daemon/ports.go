package daemon

import "wirewarden/api/daemonapi"

// InterfacePrefix namespaces every interface this daemon manages. The
// daemon is the sole writer for interfaces under the prefix and will remove
// any it no longer has a server for.
const InterfacePrefix = "wwg"

// Platform is the kernel capability set the reconciler drives. One concrete
// implementation per OS; tests substitute a recording fake.
type Platform interface {
	// EnsureInterface creates the named WireGuard interface if missing.
	EnsureInterface(name string) error

	// RemoveInterface deletes the named interface. Missing is not an error.
	RemoveInterface(name string) error

	// ApplyConfig makes the interface match next. A non-nil prev permits a
	// differential apply; implementations fall back to a full apply when
	// they had to create the interface.
	ApplyConfig(name string, next daemonapi.Config, prev *daemonapi.Config) error

	// InterfaceExists reports whether the named interface is present.
	InterfaceExists(name string) (bool, error)

	// ListManagedInterfaces returns name → private key (base64) for every
	// live interface carrying InterfacePrefix.
	ListManagedInterfaces() (map[string]string, error)
}
