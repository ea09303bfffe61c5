// warden-guest-agent is the realm-side binary: it runs as PID 1 inside
// a Warden guest and answers the host's agent channel requests
// (spec.md §4.4). The port it dials out on is passed on the kernel
// command line as warden.port=<port>, set by the hypervisor launcher
// to match the daemon's --port (spec.md §4.3).
package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/xfeldman/warden/internal/guestagent"
)

const defaultPort = 80

func main() {
	port := defaultPort
	if p, ok := portFromCmdline(); ok {
		port = p
	}

	if err := guestagent.Run(context.Background(), uint32(port)); err != nil {
		log.Fatalf("warden-guest-agent: %v", err)
	}
}

func portFromCmdline() (int, bool) {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return 0, false
	}
	for _, field := range strings.Fields(string(data)) {
		if !strings.HasPrefix(field, "warden.port=") {
			continue
		}
		port, err := strconv.Atoi(strings.TrimPrefix(field, "warden.port="))
		if err != nil {
			return 0, false
		}
		return port, true
	}
	return 0, false
}
