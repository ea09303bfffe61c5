package agent

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/xfeldman/warden/internal/model"
	"github.com/xfeldman/warden/internal/wardenerr"
)

// Channel is one realm's agent-channel endpoint: a single full-duplex
// connection over which requests and responses are exchanged strictly
// one at a time (spec.md §9: "messages are strictly request/response;
// there are no server-initiated events from the guest").
type Channel struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewChannel wraps an already-accepted connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

// Call sends req and waits for the matching response, honoring ctx's
// deadline the way the teacher's NetControlChannel does (SetDeadline
// before the round trip, cleared after).
func (c *Channel) Call(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := writeFrame(c.conn, req); err != nil {
		return Response{}, wrapCallErr("send request", err)
	}

	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return Response{}, wrapCallErr("recv response", err)
	}
	return resp, nil
}

// wrapCallErr classifies a Call-time transport failure: a deadline blown
// by the caller's ctx is a RealmResponseTimeout (spec.md §7), distinct
// from any other transport failure, which is a RealmProtocolError.
func wrapCallErr(msg string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return wardenerr.Wrap(wardenerr.RealmResponseTimeout, msg, err)
	}
	return wardenerr.Wrap(wardenerr.RealmProtocolError, msg, err)
}

// Close tears down the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// AppStatus is the decoded result of CheckApp.
type AppStatus struct {
	Running    bool
	ExitStatus *int
}

// SendProvisionInfo pushes the full application set to the guest once
// per realm boot (spec.md §4.5).
func (c *Channel) SendProvisionInfo(ctx context.Context, apps []model.ApplicationInfo) error {
	resp, err := c.Call(ctx, Request{Kind: KindProvisionInfo, Apps: apps})
	if err != nil {
		return err
	}
	return responseToError(resp)
}

// StartApp asks the guest to start application id.
func (c *Channel) StartApp(ctx context.Context, id string) error {
	resp, err := c.Call(ctx, Request{Kind: KindStartApp, AppID: id})
	if err != nil {
		return err
	}
	return responseToError(resp)
}

// StopApp asks the guest to stop application id.
func (c *Channel) StopApp(ctx context.Context, id string) error {
	resp, err := c.Call(ctx, Request{Kind: KindStopApp, AppID: id})
	if err != nil {
		return err
	}
	return responseToError(resp)
}

// KillApp asks the guest to forcibly kill application id.
func (c *Channel) KillApp(ctx context.Context, id string) error {
	resp, err := c.Call(ctx, Request{Kind: KindKillApp, AppID: id})
	if err != nil {
		return err
	}
	return responseToError(resp)
}

// CheckApp queries the run status of application id.
func (c *Channel) CheckApp(ctx context.Context, id string) (AppStatus, error) {
	resp, err := c.Call(ctx, Request{Kind: KindCheckAppStatus, AppID: id})
	if err != nil {
		return AppStatus{}, err
	}
	if resp.Kind != KindAppStatus {
		if err := responseToError(resp); err != nil {
			return AppStatus{}, err
		}
		return AppStatus{}, wardenerr.New(wardenerr.RealmProtocolError, "expected AppStatus response")
	}
	return AppStatus{Running: resp.Running, ExitStatus: resp.ExitStatus}, nil
}

// Reboot asks the guest to acknowledge a reboot; the caller awaits the
// child process exiting separately (spec.md §4.4).
func (c *Channel) Reboot(ctx context.Context) error {
	resp, err := c.Call(ctx, Request{Kind: KindReboot})
	if err != nil {
		return err
	}
	return responseToError(resp)
}

// Shutdown asks the guest to acknowledge and power off.
func (c *Channel) Shutdown(ctx context.Context) error {
	resp, err := c.Call(ctx, Request{Kind: KindShutdown})
	if err != nil {
		return err
	}
	return responseToError(resp)
}

func responseToError(resp Response) error {
	if resp.Kind == KindError {
		return wardenerr.New(wardenerr.RealmProtocolError, resp.Msg)
	}
	return nil
}
