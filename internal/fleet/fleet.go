// Package fleet is the process-wide directory mapping RealmId to its
// lifecycle manager, one independently lockable entry per realm so a
// single client request never blocks unrelated realms (spec.md §4.7).
//
// The flat `instances map[string]*Instance` plus a single registry mutex
// protecting only the map (never the per-realm state) follows the
// teacher's lifecycle.Manager (internal/lifecycle/manager.go); what each
// entry IS (a realm.Manager state machine, not a serve-mode Instance) is
// this spec's.
package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xfeldman/warden/internal/model"
	"github.com/xfeldman/warden/internal/netfabric"
	"github.com/xfeldman/warden/internal/realm"
	"github.com/xfeldman/warden/internal/store"
	"github.com/xfeldman/warden/internal/wardenerr"
)

// Fleet is the registry of all realms known to this daemon.
type Fleet struct {
	mu      sync.RWMutex
	managers map[string]*realm.Manager

	store *store.Store
	deps  realm.Deps
}

// New constructs an empty Fleet. Call LoadAll to rehydrate persisted
// realms at boot.
func New(st *store.Store, deps realm.Deps) *Fleet {
	return &Fleet{
		managers: make(map[string]*realm.Manager),
		store:    st,
		deps:     deps,
	}
}

// LoadAll rehydrates one manager per persisted realm, all in state
// Halted (spec.md §4.7, §4.9).
func (f *Fleet) LoadAll() error {
	loaded, err := f.store.LoadAll()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lr := range loaded {
		f.managers[lr.ID] = realm.New(lr.ID, lr.Config, lr.Apps, f.deps)
	}
	return nil
}

// Create validates the new config against every realm currently known
// (TAP/CID collision rejection, spec.md §3 invariant and SPEC_FULL.md
// supplement 1), persists it, and inserts a new Halted manager.
func (f *Fleet) Create(cfg model.RealmConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, mgr := range f.managers {
		existing := mgr.Config()
		if existing.Network.TapDeviceName == cfg.Network.TapDeviceName {
			return "", wardenerr.Newf(wardenerr.InvalidConfig, "tap device %q already used by realm %s", cfg.Network.TapDeviceName, id)
		}
		if existing.Network.VsockCID == cfg.Network.VsockCID {
			return "", wardenerr.Newf(wardenerr.InvalidConfig, "vsock cid %d already used by realm %s", cfg.Network.VsockCID, id)
		}
	}

	id := uuid.NewString()
	if err := f.store.CreateRealm(id, cfg); err != nil {
		return "", err
	}

	f.managers[id] = realm.New(id, cfg, nil, f.deps)
	return id, nil
}

// Get returns the manager for id, or RealmNotFound.
func (f *Fleet) Get(id string) (*realm.Manager, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	mgr, ok := f.managers[id]
	if !ok {
		return nil, wardenerr.New(wardenerr.RealmNotFound, id)
	}
	return mgr, nil
}

// List returns every known realm's id.
func (f *Fleet) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.managers))
	for id := range f.managers {
		ids = append(ids, id)
	}
	return ids
}

// Destroy destroys the realm's manager, removing it from the registry
// only once destroy() completes (spec.md §4.7).
func (f *Fleet) Destroy(ctx context.Context, id string) error {
	mgr, err := f.Get(id)
	if err != nil {
		return err
	}
	if err := mgr.Destroy(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.managers, id)
	f.mu.Unlock()
	return nil
}

// StopAll stops every realm in parallel, for graceful daemon shutdown
// (spec.md §4.9, §5). All realms are given a chance to stop regardless
// of one another's failures; every failure is returned, not just the
// first, so shutdown logging sees the full picture.
func (f *Fleet) StopAll(ctx context.Context) []error {
	f.mu.RLock()
	managers := make([]*realm.Manager, 0, len(f.managers))
	for _, mgr := range f.managers {
		managers = append(managers, mgr)
	}
	f.mu.RUnlock()

	var (
		g       errgroup.Group
		errsMu  sync.Mutex
		errs    []error
	)
	for _, mgr := range managers {
		mgr := mgr
		g.Go(func() error {
			if err := mgr.Stop(ctx); err != nil {
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("realm %s: %w", mgr.ID(), err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

// FabricRef exposes the shared fabric the fleet's realms were built with.
func (f *Fleet) FabricRef() *netfabric.Fabric {
	return f.deps.Fabric
}
