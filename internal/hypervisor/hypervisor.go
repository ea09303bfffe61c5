// Package hypervisor translates a realm configuration into a hypervisor
// child-process invocation and owns the resulting process handle
// (spec.md §4.3). Argv construction and process supervision follow the
// teacher's CloudHypervisorVMM.StartVM (internal/vmm/cloudhv.go), adapted
// from a REST-over-unix-socket API to a direct QEMU-style argv.
package hypervisor

import (
	"bufio"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xfeldman/warden/internal/model"
	"github.com/xfeldman/warden/internal/wardenerr"
)

// Launcher spawns the hypervisor binary configured by QemuPath.
type Launcher struct {
	QemuPath string
}

// NewLauncher constructs a Launcher for the given hypervisor binary.
func NewLauncher(qemuPath string) *Launcher {
	return &Launcher{QemuPath: qemuPath}
}

// Instance is a running hypervisor child process.
type Instance struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// BuildArgs constructs the hypervisor argv from a RealmConfig, per
// spec.md §4.3. agentPort is appended to the kernel command line as
// warden.port=<port> so the in-guest agent knows which vsock port to
// dial back on (spec.md §4.4, §4.5).
func BuildArgs(cfg model.RealmConfig, agentPort uint32) []string {
	args := []string{
		"-machine", cfg.Machine,
		"-cpu", cfg.CPU.Model,
		"-smp", strconv.Itoa(cfg.CPU.CoresNumber),
		"-m", strconv.Itoa(cfg.Memory.RAMSizeMB),
		"-kernel", cfg.Kernel.KernelPath,
	}

	if cfg.Kernel.InitramfsPath != "" {
		args = append(args, "-initrd", cfg.Kernel.InitramfsPath)
	}

	params := append([]string{cfg.Kernel.KernelCmdlineExtra}, cfg.KernelInitParams...)
	params = append(params, fmt.Sprintf("warden.port=%d", agentPort))
	cmdline := strings.TrimSpace(strings.Join(params, " "))
	args = append(args, "-append", cmdline)

	net := cfg.Network
	args = append(args,
		"-netdev", fmt.Sprintf("tap,id=net0,ifname=%s,script=no,downscript=no", net.TapDeviceName),
		"-device", fmt.Sprintf("%s,netdev=net0,mac=%s", net.HardwareDevice, net.MACAddress),
		"-device", fmt.Sprintf("vhost-vsock-pci,guest-cid=%d", net.VsockCID),
	)

	if net.RemoteTerminalURI != nil && *net.RemoteTerminalURI != "" {
		args = append(args, "-serial", *net.RemoteTerminalURI)
	} else {
		args = append(args, "-nographic")
	}

	args = append(args, "-no-reboot")
	return args
}

// Start spawns the hypervisor with stderr captured and line-logged,
// matching the teacher's chCmd.Stdout/Stderr wiring in CreateVM/StartVM
// but routed through log instead of inherited os.Stdout, since many realms
// share one daemon log stream. The standard log package has no levels, so
// these lines are always emitted; stdout is not captured.
func (l *Launcher) Start(cfg model.RealmConfig, realmID string, agentPort uint32) (*Instance, error) {
	args := BuildArgs(cfg, agentPort)
	cmd := exec.Command(l.QemuPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, wardenerr.Wrap(wardenerr.HypervisorError, "stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, wardenerr.Wrap(wardenerr.HypervisorError, "spawn hypervisor", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("realm %s: hypervisor: %s", realmID, scanner.Text())
		}
	}()

	inst := &Instance{cmd: cmd, done: make(chan struct{})}
	go func() {
		inst.err = cmd.Wait()
		close(inst.done)
	}()

	return inst, nil
}

// Wait blocks until the child exits, returning its exit error (nil on a
// clean exit). Safe to call concurrently with Kill.
func (inst *Instance) Wait() error {
	<-inst.done
	return inst.err
}

// Kill sends a termination signal and, if the process has not exited
// within grace, force-kills it (spec.md §4.3: "kill(): send termination
// signal; after a configurable grace window, force-kill").
func (inst *Instance) Kill(grace time.Duration) error {
	if inst.cmd.Process == nil {
		return nil
	}
	inst.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-inst.done:
	case <-time.After(grace):
		inst.cmd.Process.Kill()
		<-inst.done
	}
	return inst.err
}
