// Package netfabric owns the one process-wide host network that every
// realm's TAP attaches to: a Linux bridge with NAT and a dnsmasq sidecar
// providing DHCP/DNS (spec.md §4.2).
//
// Bridge and TAP programming goes through vishvananda/netlink rather than
// shelling out to `ip`, the way the teacher's cloudhv.go does it — the
// rest of the retrieval pack reaches for netlink for exactly this job.
// NAT rule installation still shells out to iptables: no pack dependency
// wraps it, and the teacher's runCmd pattern is the idiomatic fallback.
package netfabric

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/xfeldman/warden/internal/wardenerr"
)

// Config parameterizes the fabric, taken verbatim from the daemon config.
type Config struct {
	BridgeName            string
	NetworkCIDR           string
	DHCPExecPath          string
	DHCPConnectionsNumber int
	DNSRecords            []string
}

// Fabric owns the bridge, NAT rules, and DHCP/DNS sidecar for the life of
// the daemon process. All TAP add/remove operations share a single
// internal lock (spec.md §5: "fabric-internal operations ... serialized
// by an internal lock").
type Fabric struct {
	cfg Config

	mu        sync.Mutex
	taps      map[string]bool
	dhcp      *sidecar
	bridgeIP  net.IP
	bridgeNet *net.IPNet
}

// New constructs a Fabric. Call Up to actually create the bridge.
func New(cfg Config) *Fabric {
	return &Fabric{cfg: cfg, taps: make(map[string]bool)}
}

// Up brings the fabric online: bridge, forwarding, NAT, DHCP sidecar.
// Any failure here is fatal to the daemon (spec.md §4.2, §4.9).
func (f *Fabric) Up() error {
	ip, ipnet, err := net.ParseCIDR(f.cfg.NetworkCIDR)
	if err != nil {
		return wardenerr.Wrap(wardenerr.InvalidConfig, "parse network-address", err)
	}
	f.bridgeIP = ip
	f.bridgeNet = ipnet

	if err := f.createBridge(); err != nil {
		return wardenerr.Wrap(wardenerr.NetworkError, "create bridge", err)
	}
	if err := enableIPForward(); err != nil {
		f.destroyBridge()
		return wardenerr.Wrap(wardenerr.NetworkError, "enable ip forwarding", err)
	}
	if err := f.setupNAT(); err != nil {
		f.destroyBridge()
		return wardenerr.Wrap(wardenerr.NetworkError, "install nat rules", err)
	}

	sc, err := startDHCPSidecar(f.cfg, f.bridgeIP, f.bridgeNet)
	if err != nil {
		f.removeNAT()
		f.destroyBridge()
		return wardenerr.Wrap(wardenerr.NetworkError, "start dhcp sidecar", err)
	}
	f.dhcp = sc

	return nil
}

// Down tears the fabric down in reverse order of Up, best-effort
// (spec.md §4.9: "tear down fabric" during graceful shutdown).
func (f *Fabric) Down() {
	f.mu.Lock()
	dhcp := f.dhcp
	f.dhcp = nil
	f.mu.Unlock()

	if dhcp != nil {
		dhcp.stop()
	}
	f.removeNAT()
	f.destroyBridge()
}

func (f *Fabric) createBridge() error {
	link := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: f.cfg.BridgeName}}
	if err := netlink.LinkAdd(link); err != nil && err != netlink.ErrLinkNotFound {
		existing, getErr := netlink.LinkByName(f.cfg.BridgeName)
		if getErr != nil || existing.Type() != "bridge" {
			return fmt.Errorf("link add %s: %w", f.cfg.BridgeName, err)
		}
		link = existing.(*netlink.Bridge)
	}

	br, err := netlink.LinkByName(f.cfg.BridgeName)
	if err != nil {
		return fmt.Errorf("lookup bridge %s: %w", f.cfg.BridgeName, err)
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{IP: f.bridgeIP, Mask: f.bridgeNet.Mask}}
	if err := netlink.AddrAdd(br, addr); err != nil {
		return fmt.Errorf("assign address to %s: %w", f.cfg.BridgeName, err)
	}
	if err := netlink.LinkSetUp(br); err != nil {
		return fmt.Errorf("bring up %s: %w", f.cfg.BridgeName, err)
	}
	return nil
}

func (f *Fabric) destroyBridge() {
	link, err := netlink.LinkByName(f.cfg.BridgeName)
	if err != nil {
		return
	}
	netlink.LinkSetDown(link)
	netlink.LinkDel(link)
}

func enableIPForward() error {
	return os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1"), 0644)
}

func (f *Fabric) setupNAT() error {
	src := f.cfg.NetworkCIDR
	if err := runCmd("iptables", "-t", "nat", "-A", "POSTROUTING", "-s", src, "!", "-o", f.cfg.BridgeName, "-j", "MASQUERADE"); err != nil {
		return err
	}
	if err := runCmd("iptables", "-A", "FORWARD", "-i", f.cfg.BridgeName, "-j", "ACCEPT"); err != nil {
		f.removeNAT()
		return err
	}
	if err := runCmd("iptables", "-A", "FORWARD", "-o", f.cfg.BridgeName, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"); err != nil {
		f.removeNAT()
		return err
	}
	return nil
}

// removeNAT is best-effort: ignores errors, the rules may already be gone.
func (f *Fabric) removeNAT() {
	src := f.cfg.NetworkCIDR
	runCmd("iptables", "-t", "nat", "-D", "POSTROUTING", "-s", src, "!", "-o", f.cfg.BridgeName, "-j", "MASQUERADE")
	runCmd("iptables", "-D", "FORWARD", "-i", f.cfg.BridgeName, "-j", "ACCEPT")
	runCmd("iptables", "-D", "FORWARD", "-o", f.cfg.BridgeName, "-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT")
}

// CreateTAP creates a persistent, multi-queue TAP device owned by the
// daemon, brings it up, and attaches it to the bridge (spec.md §4.2).
func (f *Fabric) CreateTAP(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.taps[name] {
		return wardenerr.Newf(wardenerr.InvalidConfig, "tap %s already in use by this daemon", name)
	}

	tap := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_MULTI_QUEUE_DEFAULTS,
	}
	if err := netlink.LinkAdd(tap); err != nil {
		return wardenerr.Wrap(wardenerr.NetworkError, fmt.Sprintf("create tap %s", name), err)
	}

	br, err := netlink.LinkByName(f.cfg.BridgeName)
	if err != nil {
		netlink.LinkDel(tap)
		return wardenerr.Wrap(wardenerr.NetworkError, "lookup bridge", err)
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		netlink.LinkDel(tap)
		return wardenerr.Wrap(wardenerr.NetworkError, "lookup tap after create", err)
	}
	if err := netlink.LinkSetMaster(link, br.(*netlink.Bridge)); err != nil {
		netlink.LinkDel(tap)
		return wardenerr.Wrap(wardenerr.NetworkError, fmt.Sprintf("attach %s to bridge", name), err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		netlink.LinkDel(tap)
		return wardenerr.Wrap(wardenerr.NetworkError, fmt.Sprintf("bring up %s", name), err)
	}

	f.taps[name] = true
	return nil
}

// DestroyTAP detaches and removes a TAP device. Best-effort: a realm
// tearing down after a failed start may call this on a TAP that was
// never fully created.
func (f *Fabric) DestroyTAP(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.taps, name)

	link, err := netlink.LinkByName(name)
	if err != nil {
		return
	}
	netlink.LinkSetDown(link)
	netlink.LinkDel(link)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, out)
	}
	return nil
}

// sidecar is the dnsmasq child process providing DHCP/DNS for the bridge
// network, supervised the way the teacher's daemon.Manager spawns and
// monitors per-instance sidecars (internal/daemon/manager.go), simplified
// to one instance with no crash-loop restart: if dnsmasq dies it is not
// re-spawned, and nothing besides stop observes its exit.
type sidecar struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startDHCPSidecar(cfg Config, bridgeIP net.IP, bridgeNet *net.IPNet) (*sidecar, error) {
	dhcpLow, dhcpHigh := dhcpRange(bridgeIP, bridgeNet, cfg.DHCPConnectionsNumber)

	args := []string{
		"--interface=" + cfg.BridgeName,
		"--bind-interfaces",
		"--dhcp-range=" + dhcpLow.String() + "," + dhcpHigh.String(),
		"--dhcp-leasefile=/dev/null",
		"--no-daemon",
	}
	for _, rec := range cfg.DNSRecords {
		args = append(args, "--address="+rec)
	}

	cmd := exec.Command(cfg.DHCPExecPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.DHCPExecPath, err)
	}

	sc := &sidecar{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(sc.done)
	}()
	return sc, nil
}

func (sc *sidecar) stop() {
	if sc.cmd.Process == nil {
		return
	}
	sc.cmd.Process.Signal(os.Interrupt)
	select {
	case <-sc.done:
	case <-time.After(5 * time.Second):
		sc.cmd.Process.Kill()
		<-sc.done
	}
}

// dhcpRange derives a [low, high] DHCP pool of the requested size from
// the bridge's network, starting two addresses past the bridge IP itself.
func dhcpRange(bridgeIP net.IP, network *net.IPNet, count int) (net.IP, net.IP) {
	base := bridgeIP.To4()
	start := cloneIP4(base)
	start[3] += 2

	end := cloneIP4(base)
	last := int(base[3]) + 1 + count
	if last > 254 {
		last = 254
	}
	end[3] = byte(last)

	return start, end
}

func cloneIP4(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
