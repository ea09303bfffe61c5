package rpcserver

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/xfeldman/warden/internal/fleet"
	"github.com/xfeldman/warden/internal/wardenerr"
)

// Server listens on a local unix-domain socket and serves the client
// protocol (spec.md §4.8).
type Server struct {
	sockPath string
	fleet    *fleet.Fleet

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer constructs a Server bound to sockPath, dispatching requests
// to reg.
func NewServer(sockPath string, reg *fleet.Fleet) *Server {
	return &Server{sockPath: sockPath, fleet: reg}
}

// Start removes any stale socket and begins accepting connections.
func (s *Server) Start() error {
	os.Remove(s.sockPath)

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return wardenerr.Wrap(wardenerr.NetworkError, "bind rpc socket", err)
	}
	s.ln = ln

	log.Printf("rpcserver: listening on %s", s.sockPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("rpcserver: accept error: %v", err)
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn serves one connection's requests sequentially until the
// peer closes it (spec.md §4.8: "serves requests sequentially until the
// peer closes").
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			if err != io.EOF {
				log.Printf("rpcserver: read request: %v", err)
			}
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := writeFrame(conn, resp); err != nil {
			log.Printf("rpcserver: write response: %v", err)
			return
		}
	}
}

// Stop closes the listener and waits for in-flight connections to
// finish, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	s.ln.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorResponse(err error) Response {
	return Response{Kind: KindError, ErrKind: string(wardenerr.KindOf(err)), ErrMsg: err.Error()}
}
