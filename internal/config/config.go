// Package config holds wardend's runtime configuration, assembled from the
// CLI flags in spec.md §6.
package config

import (
	"fmt"
	"os"
)

// Config holds wardend runtime configuration.
type Config struct {
	// QemuPath is the hypervisor binary invoked by the hypervisor launcher.
	QemuPath string

	// WorkdirPath is the persistence root (<workdir>/<realm-id>/...).
	WorkdirPath string

	// UnixSockPath is the client RPC socket path.
	UnixSockPath string

	// DHCPExecPath is the dnsmasq-compatible DHCP/DNS binary.
	DHCPExecPath string

	// CID is the host vsock CID, reported in the startup log. The agent
	// listener does not use it: it binds Port on the context id the host
	// kernel reports for itself.
	CID uint32

	// Port is the vsock port the agent listener binds.
	Port uint32

	// ConnectionWaitTimeSecs bounds how long Start waits for the guest
	// agent to connect.
	ConnectionWaitTimeSecs int

	// ResponseWaitTimeSecs bounds every individual agent-channel request.
	ResponseWaitTimeSecs int

	// BridgeName is the host bridge interface created at startup.
	BridgeName string

	// NetworkCIDR is the bridge's network, e.g. "192.168.100.0/24".
	NetworkCIDR string

	// DHCPConnectionsNumber sizes the DHCP pool handed to dnsmasq.
	DHCPConnectionsNumber int

	// DNSRecords are extra "--address=/domain/ip" entries passed to
	// dnsmasq verbatim.
	DNSRecords []string
}

// Validate checks that required fields are non-empty. It does not parse
// or otherwise check their values.
func (c *Config) Validate() error {
	switch {
	case c.QemuPath == "":
		return fmt.Errorf("--qemu-path is required")
	case c.WorkdirPath == "":
		return fmt.Errorf("--warden-workdir-path is required")
	case c.UnixSockPath == "":
		return fmt.Errorf("--unix-sock-path is required")
	case c.DHCPExecPath == "":
		return fmt.Errorf("--dhcp-exec-path is required")
	case c.BridgeName == "":
		return fmt.Errorf("--bridge-name must not be empty")
	case c.NetworkCIDR == "":
		return fmt.Errorf("--network-address must not be empty")
	}
	return nil
}

// EnsureWorkdir creates the persistence root if it does not exist.
func (c *Config) EnsureWorkdir() error {
	return os.MkdirAll(c.WorkdirPath, 0700)
}
