package agent

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mdlayher/vsock"

	"github.com/xfeldman/warden/internal/wardenerr"
)

// Listener is the one process-wide vsock listener every realm's guest
// connects back to. Incoming connections are routed to the realm that
// is waiting for them by matching the peer's context id — the small
// demultiplexer described in spec.md §9 ("pending (cid → oneshot)
// waiters, registered by start() before spawning the hypervisor").
type Listener struct {
	ln *vsock.Listener

	mu      sync.Mutex
	waiters map[uint32]chan *Channel
}

// Listen binds the host vsock listener on the given port, on whatever
// context id the host kernel reports for itself.
func Listen(port uint32) (*Listener, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, wardenerr.Wrap(wardenerr.NetworkError, "listen vsock", err)
	}
	l := &Listener{ln: ln, waiters: make(map[uint32]chan *Channel)}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return // listener closed
		}
		addr, ok := conn.RemoteAddr().(*vsock.Addr)
		if !ok {
			log.Printf("agent: connection with non-vsock remote address, closing")
			conn.Close()
			continue
		}

		l.mu.Lock()
		waiter, ok := l.waiters[addr.ContextID]
		if ok {
			delete(l.waiters, addr.ContextID)
		}
		l.mu.Unlock()

		if !ok {
			log.Printf("agent: connection from unexpected cid %d, closing", addr.ContextID)
			conn.Close()
			continue
		}
		waiter <- NewChannel(conn)
	}
}

// WaitForConnect registers a waiter for cid and blocks until a guest
// with that context id connects or ctx is done. Must be called before
// the hypervisor child that will connect from cid is spawned, so the
// accept loop never races ahead of a registered waiter.
func (l *Listener) WaitForConnect(ctx context.Context, cid uint32) (*Channel, error) {
	waiter := make(chan *Channel, 1)

	l.mu.Lock()
	l.waiters[cid] = waiter
	l.mu.Unlock()

	select {
	case ch := <-waiter:
		return ch, nil
	case <-ctx.Done():
		l.mu.Lock()
		delete(l.waiters, cid)
		l.mu.Unlock()
		return nil, wardenerr.New(wardenerr.RealmConnectionTimeout, fmt.Sprintf("no agent connection from cid %d", cid))
	}
}

// Close shuts down the listener. Waiters still registered are not woken;
// each returns RealmConnectionTimeout once its own ctx is done.
func (l *Listener) Close() error {
	return l.ln.Close()
}
