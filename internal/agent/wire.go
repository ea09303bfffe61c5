// Package agent implements the host side of the realm agent channel: a
// length-prefixed JSON stream over vsock between the daemon and the
// in-guest agent (spec.md §4.4, §4.5).
//
// Framing mirrors the teacher's NetControlChannel (internal/vmm/channel.go)
// — deadlines taken from ctx, applied to the underlying conn — but the
// wire format itself is 4-byte big-endian length prefix plus a JSON
// object, not newline-delimited JSON-RPC, per spec.md §4.4/§6.
package agent

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xfeldman/warden/internal/model"
)

// Request kinds, each the sole key of the wire tagged union.
const (
	KindProvisionInfo   = "ProvisionInfo"
	KindStartApp        = "StartApp"
	KindStopApp         = "StopApp"
	KindKillApp         = "KillApp"
	KindCheckAppStatus  = "CheckAppStatus"
	KindReboot          = "Reboot"
	KindShutdown        = "Shutdown"
)

// Response kinds.
const (
	KindSuccess  = "Success"
	KindAppStatus = "AppStatus"
	KindError    = "Error"
)

// Request is the host→guest message, externally tagged by Kind
// (spec.md §4.4 Request grammar).
type Request struct {
	Kind  string
	Apps  []model.ApplicationInfo
	AppID string
}

type provisionInfoBody struct {
	Apps []model.ApplicationInfo `json:"apps"`
}

type appIDBody struct {
	ID string `json:"id"`
}

// MarshalJSON renders the request as its single-key tagged union.
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindProvisionInfo:
		return json.Marshal(map[string]provisionInfoBody{r.Kind: {Apps: r.Apps}})
	case KindStartApp, KindStopApp, KindKillApp, KindCheckAppStatus:
		return json.Marshal(map[string]appIDBody{r.Kind: {ID: r.AppID}})
	case KindReboot, KindShutdown:
		return json.Marshal(map[string]struct{}{r.Kind: {}})
	default:
		return nil, fmt.Errorf("agent: unknown request kind %q", r.Kind)
	}
}

// UnmarshalJSON parses a single-key tagged union into Request.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("agent: request must have exactly one key, got %d", len(raw))
	}
	for kind, body := range raw {
		r.Kind = kind
		switch kind {
		case KindProvisionInfo:
			var b provisionInfoBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.Apps = b.Apps
		case KindStartApp, KindStopApp, KindKillApp, KindCheckAppStatus:
			var b appIDBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.AppID = b.ID
		case KindReboot, KindShutdown:
			// no payload
		default:
			return fmt.Errorf("agent: unknown request kind %q", kind)
		}
	}
	return nil
}

// Response is the guest→host message, externally tagged by Kind
// (spec.md §4.4 Response grammar).
type Response struct {
	Kind       string
	Running    bool
	ExitStatus *int
	Msg        string
}

type appStatusBody struct {
	Running    bool `json:"running"`
	ExitStatus *int `json:"exit_status,omitempty"`
}

type errorBody struct {
	Msg string `json:"msg"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindSuccess:
		return json.Marshal(map[string]struct{}{r.Kind: {}})
	case KindAppStatus:
		return json.Marshal(map[string]appStatusBody{r.Kind: {Running: r.Running, ExitStatus: r.ExitStatus}})
	case KindError:
		return json.Marshal(map[string]errorBody{r.Kind: {Msg: r.Msg}})
	default:
		return nil, fmt.Errorf("agent: unknown response kind %q", r.Kind)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("agent: response must have exactly one key, got %d", len(raw))
	}
	for kind, body := range raw {
		r.Kind = kind
		switch kind {
		case KindSuccess:
		case KindAppStatus:
			var b appStatusBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.Running = b.Running
			r.ExitStatus = b.ExitStatus
		case KindError:
			var b errorBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.Msg = b.Msg
		default:
			return fmt.Errorf("agent: unknown response kind %q", kind)
		}
	}
	return nil
}

// writeFrame writes v as a 4-byte big-endian length prefix followed by
// its JSON encoding.
func writeFrame(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
