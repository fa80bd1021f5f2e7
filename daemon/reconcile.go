package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"wirewarden/api/daemonapi"
	"wirewarden/internal/check"
)

// Reconciler makes the kernel match the control plane's desired state, one
// managed interface per config entry. Both state maps are owned by the
// cycle loop; nothing else may touch them.
type Reconciler struct {
	platform Platform
	fetch    Fetcher

	// applied holds the last successfully applied config per interface
	// name, so unchanged cycles are no-ops and changed ones can diff.
	applied map[string]daemonapi.Config
	// assignments maps private key (base64) to interface name. It keeps
	// names stable across cycles even when the interface is briefly gone
	// from the kernel.
	assignments map[string]string
}

// NewReconciler builds a reconciler with empty state. Identity rebuilds
// itself from live kernel interfaces on the first cycle, so a daemon
// restart does not churn interface names.
func NewReconciler(platform Platform, fetch Fetcher) *Reconciler {
	check.Assert(platform != nil, "NewReconciler: platform must not be nil")
	check.Assert(fetch != nil, "NewReconciler: fetch must not be nil")
	return &Reconciler{
		platform:    platform,
		fetch:       fetch,
		applied:     make(map[string]daemonapi.Config),
		assignments: make(map[string]string),
	}
}

// nextInterfaceName returns the lowest-numbered prefixed name not in taken.
func nextInterfaceName(taken map[string]bool) string {
	for n := 0; ; n++ {
		name := fmt.Sprintf("%s%d", InterfacePrefix, n)
		if !taken[name] {
			return name
		}
	}
}

// Reconcile runs one cycle over the given entries and returns the entries
// still valid upstream. Entries answered with 401/404 are dropped; their
// interfaces fall out of the plan and are removed by the orphan sweep.
//
// An empty entry list is a no-op: the daemon never tears down interfaces it
// was not asked about.
func (r *Reconciler) Reconcile(ctx context.Context, entries []ServerEntry) ([]ServerEntry, error) {
	slog.Debug("Reconcile cycle starting.", "servers", len(entries))
	if len(entries) == 0 {
		return entries, nil
	}

	live, err := r.platform.ListManagedInterfaces()
	if err != nil {
		return entries, fmt.Errorf("list managed interfaces: %w", err)
	}
	liveByKey := make(map[string]string, len(live))
	for name, key := range live {
		liveByKey[key] = name
	}

	// Fetch every entry's desired state in parallel. Failures stay in the
	// per-entry slot; one bad entry never aborts the cycle.
	configs := make([]daemonapi.Config, len(entries))
	failures := make([]error, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			configs[i], failures[i] = r.fetch.FetchConfig(ctx, entry.APIHost, entry.APIToken)
			return nil
		})
	}
	_ = g.Wait()

	// Classify results and pin interface names. Identity is key-derived:
	// a live interface holding the config's private key wins, then a prior
	// assignment, then the lowest free name. Names already live, already
	// assigned, or planned this cycle are never handed out twice.
	type job struct {
		name   string
		config daemonapi.Config
	}
	var plan []job
	kept := make([]ServerEntry, 0, len(entries))
	taken := make(map[string]bool, len(live)+len(r.assignments))
	for name := range live {
		taken[name] = true
	}
	for _, name := range r.assignments {
		taken[name] = true
	}
	transient := 0

	for i, entry := range entries {
		switch err := failures[i]; {
		case err == nil:
			config := configs[i]
			key := config.Server.PrivateKey
			name, ok := liveByKey[key]
			if !ok {
				name, ok = r.assignments[key]
			}
			if !ok {
				name = nextInterfaceName(taken)
				slog.Info("Allocated interface.", "interface", name, "server", config.Server.Name)
			}
			taken[name] = true
			r.assignments[key] = name
			plan = append(plan, job{name: name, config: config})
			kept = append(kept, entry)
		case Gone(err):
			slog.Warn("Server gone upstream, dropping entry.", "host", entry.APIHost)
		default:
			transient++
			slog.Error("fetch failed, will retry next cycle", "host", entry.APIHost, "err", err)
			kept = append(kept, entry)
		}
	}

	// Apply sequentially; kernel writes on one host don't overlap.
	planned := make(map[string]bool, len(plan))
	for _, j := range plan {
		planned[j.name] = true

		last, ok := r.applied[j.name]
		if ok && last.Equal(j.config) {
			slog.Debug("Config unchanged, skipping.", "interface", j.name)
			continue
		}
		var prev *daemonapi.Config
		if ok {
			prev = &last
		}
		if err := r.platform.ApplyConfig(j.name, j.config, prev); err != nil {
			slog.Error("apply failed, will retry next cycle", "interface", j.name, "err", err)
			continue
		}
		slog.Info("Interface configured.",
			"interface", j.name,
			"server", j.config.Server.Name,
			"peers", len(j.config.Peers))
		r.applied[j.name] = j.config
	}

	// Managed interfaces outside the plan are orphans, but only a cycle
	// that heard from every entry may say so: a transient fetch failure
	// keeps its interface up.
	if transient == 0 {
		for name := range live {
			if planned[name] {
				continue
			}
			slog.Warn("Removing orphaned interface.", "interface", name)
			if err := r.platform.RemoveInterface(name); err != nil {
				slog.Error("remove interface failed, will retry next cycle", "interface", name, "err", err)
			}
			delete(r.applied, name)
			for key, assigned := range r.assignments {
				if assigned == name {
					delete(r.assignments, key)
				}
			}
		}
	}

	return kept, nil
}

// TeardownAll removes every managed interface. Shutdown path: the host
// holds no tunnels once the daemon is gone.
func (r *Reconciler) TeardownAll() {
	live, err := r.platform.ListManagedInterfaces()
	if err != nil {
		slog.Error("list managed interfaces for teardown", "err", err)
		return
	}
	for name := range live {
		if err := r.platform.RemoveInterface(name); err != nil {
			slog.Error("teardown failed", "interface", name, "err", err)
			continue
		}
		slog.Info("Interface removed.", "interface", name)
	}
	r.applied = make(map[string]daemonapi.Config)
	r.assignments = make(map[string]string)
}
