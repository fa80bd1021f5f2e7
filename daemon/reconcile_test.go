package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"

	"wirewarden/api/daemonapi"
)

// fakePlatform records every call and keeps an in-memory kernel view.
type fakePlatform struct {
	mu       sync.Mutex
	ifaces   map[string]string // name → private key b64
	applies  []applyCall
	removed  []string
	listErr  error
	applyErr map[string]error // name → error to return
}

type applyCall struct {
	name    string
	config  daemonapi.Config
	hasPrev bool
	failed  bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		ifaces:   make(map[string]string),
		applyErr: make(map[string]error),
	}
}

func (f *fakePlatform) EnsureInterface(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ifaces[name]; !ok {
		f.ifaces[name] = ""
	}
	return nil
}

func (f *fakePlatform) RemoveInterface(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ifaces, name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakePlatform) ApplyConfig(name string, next daemonapi.Config, prev *daemonapi.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := applyCall{name: name, config: next, hasPrev: prev != nil}
	if err := f.applyErr[name]; err != nil {
		call.failed = true
		f.applies = append(f.applies, call)
		return err
	}
	f.applies = append(f.applies, call)
	f.ifaces[name] = next.Server.PrivateKey
	return nil
}

func (f *fakePlatform) InterfaceExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ifaces[name]
	return ok, nil
}

func (f *fakePlatform) ListManagedInterfaces() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]string, len(f.ifaces))
	for name, key := range f.ifaces {
		out[name] = key
	}
	return out, nil
}

// fakeFetcher resolves tokens to canned configs or failures.
type fakeFetcher struct {
	mu      sync.Mutex
	configs map[string]daemonapi.Config
	errs    map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		configs: make(map[string]daemonapi.Config),
		errs:    make(map[string]error),
	}
}

func (f *fakeFetcher) FetchConfig(_ context.Context, _, token string) (daemonapi.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[token]; ok {
		return daemonapi.Config{}, err
	}
	config, ok := f.configs[token]
	if !ok {
		return daemonapi.Config{}, ErrNotFound
	}
	return config, nil
}

func desiredState(name, key string, port int) daemonapi.Config {
	return daemonapi.Config{
		Server: daemonapi.ServerInfo{
			ID:         name + "-id",
			Name:       name,
			PrivateKey: key,
			PublicKey:  key + "-pub",
			Address:    "10.0.0.1/24",
			ListenPort: port,
		},
		Network: daemonapi.NetworkInfo{ID: "net", Name: "office", CIDR: "10.0.0.0/24", PersistentKeepalive: 25},
	}
}

func reconcileOnce(t *testing.T, r *Reconciler, entries []ServerEntry) []ServerEntry {
	t.Helper()
	kept, err := r.Reconcile(context.Background(), entries)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return kept
}

func TestReconcileCreatesAndSkipsUnchanged(t *testing.T) {
	platform := newFakePlatform()
	fetch := newFakeFetcher()
	fetch.configs["tok"] = desiredState("gateway", "KEY1", 51820)
	r := NewReconciler(platform, fetch)
	entries := []ServerEntry{{APIHost: "https://c.example.com", APIToken: "tok"}}

	kept := reconcileOnce(t, r, entries)
	if len(kept) != 1 {
		t.Fatalf("kept = %v", kept)
	}
	if len(platform.applies) != 1 {
		t.Fatalf("applies = %+v", platform.applies)
	}
	first := platform.applies[0]
	if first.name != "wwg0" {
		t.Fatalf("interface = %q, want wwg0", first.name)
	}
	if first.hasPrev {
		t.Fatal("first apply must be full (no prev)")
	}

	// Unchanged desired state is a no-op.
	reconcileOnce(t, r, entries)
	if len(platform.applies) != 1 {
		t.Fatalf("unchanged cycle reapplied: %+v", platform.applies)
	}

	// A changed document goes through a differential apply.
	fetch.configs["tok"] = desiredState("gateway", "KEY1", 51821)
	reconcileOnce(t, r, entries)
	if len(platform.applies) != 2 {
		t.Fatalf("applies = %+v", platform.applies)
	}
	second := platform.applies[1]
	if second.name != "wwg0" || !second.hasPrev {
		t.Fatalf("expected differential apply on wwg0, got %+v", second)
	}
}

func TestReconcileGoneTearsDown(t *testing.T) {
	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	fetch := newFakeFetcher()
	fetch.errs["tok"] = ErrUnauthorized
	r := NewReconciler(platform, fetch)

	kept := reconcileOnce(t, r, []ServerEntry{{APIHost: "https://c.example.com", APIToken: "tok"}})
	if len(kept) != 0 {
		t.Fatalf("gone entry kept: %v", kept)
	}
	if len(platform.removed) != 1 || platform.removed[0] != "wwg0" {
		t.Fatalf("removed = %v, want [wwg0]", platform.removed)
	}
	if len(platform.applies) != 0 {
		t.Fatalf("applies = %+v", platform.applies)
	}
}

func TestReconcileIdentitySurvivesRestart(t *testing.T) {
	// Kernel still holds wwg0 with the server's key; the daemon restarted
	// and lost its in-memory state.
	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	fetch := newFakeFetcher()
	fetch.configs["tok"] = desiredState("gateway", "KEY1", 51820)
	r := NewReconciler(platform, fetch)

	reconcileOnce(t, r, []ServerEntry{{APIHost: "https://c.example.com", APIToken: "tok"}})

	if len(platform.applies) != 1 || platform.applies[0].name != "wwg0" {
		t.Fatalf("expected apply to wwg0, got %+v", platform.applies)
	}
	if len(platform.removed) != 0 {
		t.Fatalf("removed = %v", platform.removed)
	}
	if len(platform.ifaces) != 1 {
		t.Fatalf("interfaces = %v, want only wwg0", platform.ifaces)
	}
}

func TestReconcileTransientKeepsInterface(t *testing.T) {
	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	fetch := newFakeFetcher()
	fetch.errs["tok-a"] = &ServerError{Status: 502, Body: "bad gateway"}
	fetch.configs["tok-b"] = desiredState("relay", "KEY2", 51820)
	r := NewReconciler(platform, fetch)

	entries := []ServerEntry{
		{APIHost: "https://a.example.com", APIToken: "tok-a"},
		{APIHost: "https://b.example.com", APIToken: "tok-b"},
	}
	kept := reconcileOnce(t, r, entries)

	if len(kept) != 2 {
		t.Fatalf("transient entry dropped: %v", kept)
	}
	if len(platform.removed) != 0 {
		t.Fatalf("interface removed on transient failure: %v", platform.removed)
	}
	// The healthy entry still progresses, on a fresh name since wwg0 is
	// owned by a live interface with another key.
	if len(platform.applies) != 1 || platform.applies[0].name != "wwg1" {
		t.Fatalf("applies = %+v", platform.applies)
	}
}

func TestReconcileRemovesOrphans(t *testing.T) {
	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	platform.ifaces["wwg1"] = "KEY2"
	fetch := newFakeFetcher()
	fetch.configs["tok"] = desiredState("gateway", "KEY1", 51820)
	r := NewReconciler(platform, fetch)

	reconcileOnce(t, r, []ServerEntry{{APIHost: "https://c.example.com", APIToken: "tok"}})

	if len(platform.removed) != 1 || platform.removed[0] != "wwg1" {
		t.Fatalf("removed = %v, want [wwg1]", platform.removed)
	}
	if _, ok := platform.ifaces["wwg0"]; !ok {
		t.Fatal("planned interface must survive the sweep")
	}
}

func TestReconcileEmptyConfigLeavesInterfaces(t *testing.T) {
	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	r := NewReconciler(platform, newFakeFetcher())

	kept := reconcileOnce(t, r, nil)
	if len(kept) != 0 {
		t.Fatalf("kept = %v", kept)
	}
	if len(platform.removed) != 0 {
		t.Fatalf("empty config tore down interfaces: %v", platform.removed)
	}
}

func TestReconcileMultiEntryNamingIsOrderIndependent(t *testing.T) {
	platform := newFakePlatform()
	fetch := newFakeFetcher()
	fetch.configs["tok-a"] = desiredState("alpha", "KEYA", 51820)
	fetch.configs["tok-b"] = desiredState("beta", "KEYB", 51821)
	fetch.configs["tok-c"] = desiredState("gamma", "KEYC", 51822)
	r := NewReconciler(platform, fetch)

	entries := []ServerEntry{
		{APIHost: "https://a.example.com", APIToken: "tok-a"},
		{APIHost: "https://b.example.com", APIToken: "tok-b"},
		{APIHost: "https://c.example.com", APIToken: "tok-c"},
	}
	reconcileOnce(t, r, entries)

	names := make(map[string]string, 3) // key → interface
	for _, call := range platform.applies {
		names[call.config.Server.PrivateKey] = call.name
	}
	if names["KEYA"] != "wwg0" || names["KEYB"] != "wwg1" || names["KEYC"] != "wwg2" {
		t.Fatalf("names = %v", names)
	}

	// Reordering the config file must not reshuffle interfaces.
	reversed := []ServerEntry{entries[2], entries[1], entries[0]}
	reconcileOnce(t, r, reversed)
	if len(platform.applies) != 3 {
		t.Fatalf("reorder caused reapplies: %+v", platform.applies)
	}
}

func TestReconcileApplyFailureRetriesNextCycle(t *testing.T) {
	platform := newFakePlatform()
	platform.applyErr["wwg0"] = errors.New("netlink: device busy")
	fetch := newFakeFetcher()
	fetch.configs["tok"] = desiredState("gateway", "KEY1", 51820)
	r := NewReconciler(platform, fetch)
	entries := []ServerEntry{{APIHost: "https://c.example.com", APIToken: "tok"}}

	kept := reconcileOnce(t, r, entries)
	if len(kept) != 1 {
		t.Fatalf("apply failure dropped the entry: %v", kept)
	}
	if len(platform.applies) != 1 || !platform.applies[0].failed {
		t.Fatalf("applies = %+v", platform.applies)
	}

	delete(platform.applyErr, "wwg0")
	reconcileOnce(t, r, entries)
	if len(platform.applies) != 2 {
		t.Fatalf("no retry after failure: %+v", platform.applies)
	}
	retry := platform.applies[1]
	// Nothing was recorded as applied, so the retry is still a full apply.
	if retry.name != "wwg0" || retry.hasPrev {
		t.Fatalf("retry = %+v", retry)
	}
}

func TestReconcileListFailureAbortsCycle(t *testing.T) {
	platform := newFakePlatform()
	platform.listErr = errors.New("netlink: permission denied")
	fetch := newFakeFetcher()
	fetch.configs["tok"] = desiredState("gateway", "KEY1", 51820)
	r := NewReconciler(platform, fetch)
	entries := []ServerEntry{{APIHost: "https://c.example.com", APIToken: "tok"}}

	kept, err := r.Reconcile(context.Background(), entries)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(kept) != 1 {
		t.Fatalf("kept = %v, entries must survive an aborted cycle", kept)
	}
	if len(platform.applies) != 0 || len(platform.removed) != 0 {
		t.Fatalf("aborted cycle touched the kernel: %+v %v", platform.applies, platform.removed)
	}
}

func TestTeardownAll(t *testing.T) {
	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	platform.ifaces["wwg1"] = "KEY2"
	r := NewReconciler(platform, newFakeFetcher())

	r.TeardownAll()

	if len(platform.ifaces) != 0 {
		t.Fatalf("interfaces left: %v", platform.ifaces)
	}
	if len(platform.removed) != 2 {
		t.Fatalf("removed = %v", platform.removed)
	}
}
