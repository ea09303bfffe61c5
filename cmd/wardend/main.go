// wardend is the realm control-plane daemon: it listens on a unix
// socket for client requests and supervises the confidential-computing
// realms (guest microVMs) it manages (spec.md §1, §4.9, §6).
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/xfeldman/warden/internal/config"
	"github.com/xfeldman/warden/internal/daemon"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "wardend",
	Short: "wardend is the confidential-computing realm control-plane daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags | log.Lshortfile)

		if err := cfg.Validate(); err != nil {
			return err
		}

		d := daemon.New(&cfg)
		if err := d.Run(); err != nil {
			return fmt.Errorf("run daemon: %w", err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()

	flags.StringVar(&cfg.QemuPath, "qemu-path", "", "path to the hypervisor binary (required)")
	flags.StringVar(&cfg.WorkdirPath, "warden-workdir-path", "", "persistence root for realm and application state (required)")
	flags.StringVar(&cfg.UnixSockPath, "unix-sock-path", "", "client RPC unix-domain socket path (required)")
	flags.StringVar(&cfg.DHCPExecPath, "dhcp-exec-path", "", "path to the dnsmasq-compatible DHCP/DNS binary (required)")

	flags.Uint32Var(&cfg.CID, "cid", 2, "host vsock context id")
	flags.Uint32Var(&cfg.Port, "port", 80, "vsock port the agent listener binds")

	flags.IntVar(&cfg.ConnectionWaitTimeSecs, "realm-connection-wait-time-secs", 60, "seconds to wait for a realm's guest agent to connect after boot")
	flags.IntVar(&cfg.ResponseWaitTimeSecs, "realm-response-wait-time-secs", 10, "seconds to wait for a response to any individual agent request")

	flags.StringVar(&cfg.BridgeName, "bridge-name", "virtbWarden", "name of the host bridge interface")
	flags.StringVar(&cfg.NetworkCIDR, "network-address", "192.168.100.0/24", "network CIDR assigned to the bridge")
	flags.IntVar(&cfg.DHCPConnectionsNumber, "dhcp-connections-number", 20, "size of the DHCP address pool")
	flags.StringSliceVar(&cfg.DNSRecords, "dns-records", nil, "extra dnsmasq --address records, repeatable")

	rootCmd.MarkFlagRequired("qemu-path")
	rootCmd.MarkFlagRequired("warden-workdir-path")
	rootCmd.MarkFlagRequired("unix-sock-path")
	rootCmd.MarkFlagRequired("dhcp-exec-path")
}
