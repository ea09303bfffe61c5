// Package realm implements the per-realm lifecycle state machine
// (spec.md §4.6): Halted, Provisioning, Running, NeedReboot, composing
// the hypervisor launcher, the agent channel, the network fabric, and
// the persistence store. One Manager owns exactly one realm; the
// per-manager mutex is the sole serialization point for that realm's
// operations (spec.md §5).
//
// The struct shape and per-instance mutex follow the teacher's
// lifecycle.Instance/Manager (internal/lifecycle/manager.go); the state
// values and transition rules are this spec's, not the teacher's.
package realm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xfeldman/warden/internal/agent"
	"github.com/xfeldman/warden/internal/hypervisor"
	"github.com/xfeldman/warden/internal/model"
	"github.com/xfeldman/warden/internal/netfabric"
	"github.com/xfeldman/warden/internal/store"
	"github.com/xfeldman/warden/internal/wardenerr"
)

// killGrace bounds how long Stop/Reboot wait for a forced kill to land
// after SIGTERM, once the child has already missed its response deadline.
const killGrace = 5 * time.Second

// Deps are the process-wide collaborators a Manager needs; they are
// value-typed references shared across every realm, never owned
// exclusively by one (spec.md §9: "managers never hold the registry").
type Deps struct {
	Store              *store.Store
	Fabric             *netfabric.Fabric
	Launcher           *hypervisor.Launcher
	AgentListener      *agent.Listener
	AgentPort          uint32
	ConnectionWaitTime time.Duration
	ResponseWaitTime   time.Duration
}

// Manager is the lifecycle state machine for one realm.
type Manager struct {
	mu sync.Mutex

	id   string
	cfg  model.RealmConfig
	apps map[string]*model.Application

	state   model.RealmState
	hv      *hypervisor.Instance
	channel *agent.Channel

	deps Deps
}

// New constructs a Manager for an already-persisted realm. Newly created
// realms and realms rehydrated at boot both start life Halted
// (spec.md §3: "RealmState ... runtime-only, not persisted").
func New(id string, cfg model.RealmConfig, apps map[string]*model.Application, deps Deps) *Manager {
	if apps == nil {
		apps = make(map[string]*model.Application)
	}
	return &Manager{
		id:    id,
		cfg:   cfg,
		apps:  apps,
		state: model.RealmHalted,
		deps:  deps,
	}
}

// ID returns the realm's id.
func (m *Manager) ID() string { return m.id }

// Start acquires a TAP, spawns the hypervisor, waits for the guest agent
// to connect, and runs provisioning (spec.md §4.6).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case model.RealmHalted, model.RealmNeedReboot:
	default:
		return wardenerr.New(wardenerr.InvalidRealmState, fmt.Sprintf("cannot start realm in state %s", m.state))
	}

	return m.bootLocked(ctx)
}

// bootLocked acquires a TAP, spawns the hypervisor, waits for the guest
// to connect, and provisions it. Called with m.mu held, from both Start
// and Reboot (spec.md §4.6: reboot() "perform start()'s logic").
func (m *Manager) bootLocked(ctx context.Context) error {
	if err := m.deps.Fabric.CreateTAP(m.cfg.Network.TapDeviceName); err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.deps.ConnectionWaitTime)
	defer cancel()

	type connResult struct {
		ch  *agent.Channel
		err error
	}
	waitCh := make(chan connResult, 1)
	go func() {
		ch, err := m.deps.AgentListener.WaitForConnect(connectCtx, m.cfg.Network.VsockCID)
		waitCh <- connResult{ch, err}
	}()

	hv, err := m.deps.Launcher.Start(m.cfg, m.id, m.deps.AgentPort)
	if err != nil {
		m.deps.Fabric.DestroyTAP(m.cfg.Network.TapDeviceName)
		return err
	}

	res := <-waitCh
	if res.err != nil {
		hv.Kill(killGrace)
		m.deps.Fabric.DestroyTAP(m.cfg.Network.TapDeviceName)
		return res.err
	}

	m.hv = hv
	m.channel = res.ch
	m.state = model.RealmProvisioning
	log.Printf("realm %s: provisioning", m.id)

	if err := m.provisionLocked(ctx); err != nil {
		// The guest VM is alive but unprovisioned: an inconsistent
		// runtime state, not a clean failure to start (spec.md §4.6
		// transition diagram: Provisioning →(fail/timeout)→ NeedReboot).
		m.state = model.RealmNeedReboot
		log.Printf("realm %s: provisioning failed, needs reboot: %v", m.id, err)
		return err
	}

	m.state = model.RealmRunning
	log.Printf("realm %s: running", m.id)
	return nil
}

func (m *Manager) provisionLocked(ctx context.Context) error {
	infos := make([]model.ApplicationInfo, 0, len(m.apps))
	for _, app := range m.apps {
		infos = append(infos, agent.BuildApplicationInfo(app))
	}

	provisionCtx, cancel := context.WithTimeout(ctx, m.deps.ResponseWaitTime)
	defer cancel()
	if err := m.channel.SendProvisionInfo(provisionCtx, infos); err != nil {
		return err
	}

	// The guest's ack means provisioning was requested, not independently
	// verified — Warden never second-guesses it (spec.md §9 Open Question).
	for _, app := range m.apps {
		if app.Installed {
			continue
		}
		app.Installed = true
		if err := m.deps.Store.SaveApp(m.id, app); err != nil {
			return wardenerr.Wrap(wardenerr.PersistenceError, "persist installed flag", err)
		}
	}
	return nil
}

// Stop sends Shutdown to the guest, waits (bounded) for the child to
// exit, force-kills past the deadline, and releases the TAP. Stopping a
// Halted realm is a no-op (spec.md §8: idempotence).
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	switch m.state {
	case model.RealmHalted:
		return nil
	case model.RealmRunning, model.RealmNeedReboot:
	default:
		return wardenerr.New(wardenerr.InvalidRealmState, fmt.Sprintf("cannot stop realm in state %s", m.state))
	}

	if m.channel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.deps.ResponseWaitTime)
		if err := m.channel.Shutdown(shutdownCtx); err != nil {
			log.Printf("realm %s: shutdown request failed: %v", m.id, err)
		}
		cancel()
		m.channel.Close()
		m.channel = nil
	}

	m.awaitExitOrKillLocked()
	m.deps.Fabric.DestroyTAP(m.cfg.Network.TapDeviceName)
	m.state = model.RealmHalted
	log.Printf("realm %s: halted", m.id)
	return nil
}

// awaitExitOrKillLocked waits for the hypervisor child to exit within
// the response-wait budget, force-killing it past that point
// (spec.md §4.6 stop(): "on timeout, kill() child").
func (m *Manager) awaitExitOrKillLocked() {
	if m.hv == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		m.hv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.deps.ResponseWaitTime):
		m.hv.Kill(killGrace)
	}
	m.hv = nil
}

// Reboot asks the guest to acknowledge a reboot, awaits child exit, and
// re-runs Start's logic, preserving the realm's id (spec.md §4.6).
func (m *Manager) Reboot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case model.RealmRunning, model.RealmNeedReboot:
	default:
		return wardenerr.New(wardenerr.InvalidRealmState, fmt.Sprintf("cannot reboot realm in state %s", m.state))
	}

	if m.channel != nil {
		rebootCtx, cancel := context.WithTimeout(ctx, m.deps.ResponseWaitTime)
		if err := m.channel.Reboot(rebootCtx); err != nil {
			log.Printf("realm %s: reboot request failed: %v", m.id, err)
		}
		cancel()
		m.channel.Close()
		m.channel = nil
	}

	m.awaitExitOrKillLocked()
	m.deps.Fabric.DestroyTAP(m.cfg.Network.TapDeviceName)
	m.state = model.RealmHalted

	return m.bootLocked(ctx)
}

// Destroy stops the realm if it is not already Halted, then removes its
// persisted directory (spec.md §4.6).
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.RealmHalted {
		if err := m.stopLocked(ctx); err != nil {
			return err
		}
	}
	return m.deps.Store.DeleteRealm(m.id)
}

// CreateApp persists a new application. The realm must be Halted
// (spec.md §4.6: create_app).
func (m *Manager) CreateApp(cfg model.ApplicationConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.RealmHalted {
		return "", wardenerr.New(wardenerr.InvalidRealmState, "applications can only be created on a halted realm")
	}

	id := uuid.NewString()
	app := &model.Application{ID: id, Config: cfg, Installed: false}
	if err := m.deps.Store.SaveApp(m.id, app); err != nil {
		return "", err
	}
	m.apps[id] = app
	return id, nil
}

// UpdateApp overwrites an application's config and flips installed back
// to false, requiring reprovisioning on the realm's next start
// (spec.md §3, §4.6: update_app).
func (m *Manager) UpdateApp(id string, cfg model.ApplicationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.RealmHalted {
		return wardenerr.New(wardenerr.InvalidRealmState, "applications can only be updated on a halted realm")
	}
	app, ok := m.apps[id]
	if !ok {
		return wardenerr.New(wardenerr.ApplicationNotFound, id)
	}

	app.Config = cfg
	app.Installed = false
	return m.deps.Store.SaveApp(m.id, app)
}

// StartApp forwards a start request to the guest agent. The realm must
// be Running (spec.md §4.6: start_app).
func (m *Manager) StartApp(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.RealmRunning {
		return wardenerr.New(wardenerr.InvalidRealmState, "applications can only be started on a running realm")
	}
	if _, ok := m.apps[id]; !ok {
		return wardenerr.New(wardenerr.ApplicationNotFound, id)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.deps.ResponseWaitTime)
	defer cancel()
	if err := m.channel.StartApp(callCtx, id); err != nil {
		m.state = model.RealmNeedReboot
		return err
	}
	return nil
}

// StopApp forwards a stop request to the guest agent. The realm must be
// Running (spec.md §4.6: stop_app).
func (m *Manager) StopApp(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.RealmRunning {
		return wardenerr.New(wardenerr.InvalidRealmState, "applications can only be stopped on a running realm")
	}
	if _, ok := m.apps[id]; !ok {
		return wardenerr.New(wardenerr.ApplicationNotFound, id)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.deps.ResponseWaitTime)
	defer cancel()
	if err := m.channel.StopApp(callCtx, id); err != nil {
		m.state = model.RealmNeedReboot
		return err
	}
	return nil
}

// Inspect returns a read-only snapshot of the realm (spec.md §4.6).
func (m *Manager) Inspect() model.RealmDescription {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := model.Realm{ID: m.id, Config: m.cfg, State: m.state, Apps: m.apps}
	return r.Describe()
}

// Config returns the realm's persisted configuration.
func (m *Manager) Config() model.RealmConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}
