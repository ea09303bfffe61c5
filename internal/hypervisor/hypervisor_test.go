package hypervisor

import (
	"strings"
	"testing"

	"github.com/xfeldman/warden/internal/model"
)

func testConfig() model.RealmConfig {
	return model.RealmConfig{
		Machine: "q35",
		CPU:     model.CPUConfig{Model: "host", CoresNumber: 4},
		Memory:  model.MemoryConfig{RAMSizeMB: 2048},
		Kernel:  model.KernelConfig{KernelPath: "/boot/vmlinuz", KernelCmdlineExtra: "console=ttyS0"},
		Network: model.NetworkAttachment{
			VsockCID:       5,
			TapDeviceName:  "tap5",
			MACAddress:     "52:54:00:00:00:05",
			HardwareDevice: "virtio-net-pci",
		},
	}
}

func TestBuildArgs_AppendsAgentPort(t *testing.T) {
	args := BuildArgs(testConfig(), 8080)

	cmdline := findFlagValue(t, args, "-append")
	if !strings.Contains(cmdline, "warden.port=8080") {
		t.Errorf("cmdline = %q, want it to contain warden.port=8080", cmdline)
	}
	if !strings.Contains(cmdline, "console=ttyS0") {
		t.Errorf("cmdline = %q, want it to keep kernel_cmdline_extra", cmdline)
	}
}

func TestBuildArgs_NoRemoteTerminal(t *testing.T) {
	cfg := testConfig()
	args := BuildArgs(cfg, 80)

	if contains(args, "-serial") {
		t.Errorf("args = %v, want no -serial when RemoteTerminalURI is unset", args)
	}
	if !contains(args, "-nographic") {
		t.Errorf("args = %v, want -nographic when RemoteTerminalURI is unset", args)
	}
}

func TestBuildArgs_WithRemoteTerminal(t *testing.T) {
	cfg := testConfig()
	uri := "pty"
	cfg.Network.RemoteTerminalURI = &uri

	args := BuildArgs(cfg, 80)

	if got := findFlagValue(t, args, "-serial"); got != "pty" {
		t.Errorf("-serial = %q, want %q", got, "pty")
	}
	if contains(args, "-nographic") {
		t.Errorf("args = %v, want no -nographic when RemoteTerminalURI is set", args)
	}
}

func TestBuildArgs_VsockDevice(t *testing.T) {
	args := BuildArgs(testConfig(), 80)
	cmdline := strings.Join(args, " ")
	if !strings.Contains(cmdline, "vhost-vsock-pci,guest-cid=5") {
		t.Errorf("args = %q, want guest-cid=5 vsock device", cmdline)
	}
}

func contains(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func findFlagValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %q not found in args %v", flag, args)
	return ""
}
