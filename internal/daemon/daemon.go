// Package daemon sequences wardend's startup and shutdown
// (spec.md §4.9): config → logging → network fabric → agent listener →
// registry rehydration → RPC socket → accept loop, and the reverse on
// shutdown. Ordering and signal handling follow the teacher's
// cmd/aegisd/main.go, generalized from a fixed call sequence in main
// into a Daemon type with its own Start/Run/Shutdown so startup failure
// can unwind whatever already succeeded.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xfeldman/warden/internal/agent"
	"github.com/xfeldman/warden/internal/config"
	"github.com/xfeldman/warden/internal/fleet"
	"github.com/xfeldman/warden/internal/hypervisor"
	"github.com/xfeldman/warden/internal/netfabric"
	"github.com/xfeldman/warden/internal/realm"
	"github.com/xfeldman/warden/internal/rpcserver"
	"github.com/xfeldman/warden/internal/store"
)

// shutdownGrace bounds how long graceful shutdown waits for in-flight
// RPC requests to drain before moving on regardless.
const shutdownGrace = 5 * time.Second

// Daemon owns every process-wide resource of one wardend instance.
type Daemon struct {
	cfg *config.Config

	fabric        *netfabric.Fabric
	agentListener *agent.Listener
	fleet         *fleet.Fleet
	rpc           *rpcserver.Server
}

// New constructs a Daemon. Call Start to bring it up.
func New(cfg *config.Config) *Daemon {
	return &Daemon{cfg: cfg}
}

// Start runs the startup sequence of spec.md §4.9. Any step's failure
// unwinds the steps that already succeeded, in reverse, before
// returning the error.
func (d *Daemon) Start() error {
	if err := d.cfg.EnsureWorkdir(); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}

	fab := netfabric.New(netfabric.Config{
		BridgeName:            d.cfg.BridgeName,
		NetworkCIDR:           d.cfg.NetworkCIDR,
		DHCPExecPath:          d.cfg.DHCPExecPath,
		DHCPConnectionsNumber: d.cfg.DHCPConnectionsNumber,
		DNSRecords:            d.cfg.DNSRecords,
	})
	if err := fab.Up(); err != nil {
		return fmt.Errorf("bring up network fabric: %w", err)
	}
	d.fabric = fab
	log.Printf("daemon: network fabric up (bridge %s, %s)", d.cfg.BridgeName, d.cfg.NetworkCIDR)

	agentLn, err := agent.Listen(d.cfg.Port)
	if err != nil {
		d.fabric.Down()
		return fmt.Errorf("open agent listener: %w", err)
	}
	d.agentListener = agentLn
	log.Printf("daemon: agent listener on cid %d port %d", d.cfg.CID, d.cfg.Port)

	st := store.New(d.cfg.WorkdirPath)
	deps := realm.Deps{
		Store:              st,
		Fabric:             d.fabric,
		Launcher:           hypervisor.NewLauncher(d.cfg.QemuPath),
		AgentListener:      d.agentListener,
		AgentPort:          d.cfg.Port,
		ConnectionWaitTime: time.Duration(d.cfg.ConnectionWaitTimeSecs) * time.Second,
		ResponseWaitTime:   time.Duration(d.cfg.ResponseWaitTimeSecs) * time.Second,
	}
	fl := fleet.New(st, deps)
	if err := fl.LoadAll(); err != nil {
		d.agentListener.Close()
		d.fabric.Down()
		return fmt.Errorf("rehydrate registry: %w", err)
	}
	d.fleet = fl
	log.Printf("daemon: rehydrated %d realm(s) from %s", len(fl.List()), d.cfg.WorkdirPath)

	rpc := rpcserver.NewServer(d.cfg.UnixSockPath, d.fleet)
	if err := rpc.Start(); err != nil {
		d.agentListener.Close()
		d.fabric.Down()
		return fmt.Errorf("bind rpc socket: %w", err)
	}
	d.rpc = rpc

	log.Printf("daemon: ready (pid %d, socket %s)", os.Getpid(), d.cfg.UnixSockPath)
	return nil
}

// Run starts the daemon, blocks until a termination signal, then runs
// graceful shutdown. It returns nil on a clean exit.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("daemon: received %v, shutting down", sig)

	d.Shutdown()
	return nil
}

// Shutdown quiesces the RPC server, stops every realm in parallel, and
// tears down the fabric (spec.md §4.9, §5).
func (d *Daemon) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if d.rpc != nil {
		if err := d.rpc.Stop(ctx); err != nil {
			log.Printf("daemon: rpc server shutdown: %v", err)
		}
	}

	if d.fleet != nil {
		for _, err := range d.fleet.StopAll(ctx) {
			log.Printf("daemon: %v", err)
		}
	}

	if d.agentListener != nil {
		d.agentListener.Close()
	}
	if d.fabric != nil {
		d.fabric.Down()
	}

	log.Println("daemon: stopped")
}
