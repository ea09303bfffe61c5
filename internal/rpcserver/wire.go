// Package rpcserver is the client-facing RPC server: a length-prefixed
// JSON tagged-union protocol over a local unix-domain stream socket
// (spec.md §4.8, §6). The Server struct/Start/Stop shape follows the
// teacher's api.Server (internal/api/server.go); the wire protocol is
// re-framed entirely, from HTTP/REST to the same length-prefixed JSON
// framing used on the agent channel (spec.md §4.4).
package rpcserver

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xfeldman/warden/internal/model"
)

// Request kinds.
const (
	KindCreateRealm       = "CreateRealm"
	KindStartRealm        = "StartRealm"
	KindStopRealm         = "StopRealm"
	KindRebootRealm       = "RebootRealm"
	KindDestroyRealm      = "DestroyRealm"
	KindInspectRealm      = "InspectRealm"
	KindListRealms        = "ListRealms"
	KindCreateApplication = "CreateApplication"
	KindUpdateApplication = "UpdateApplication"
	KindStartApplication  = "StartApplication"
	KindStopApplication   = "StopApplication"
)

// Response kinds.
const (
	KindCreatedRealm       = "CreatedRealm"
	KindOk                 = "Ok"
	KindInspectedRealm     = "InspectedRealm"
	KindListedRealms       = "ListedRealms"
	KindCreatedApplication = "CreatedApplication"
	KindError              = "Error"
)

// Request is one client→daemon message (spec.md §4.8 request grammar).
type Request struct {
	Kind        string
	RealmConfig model.RealmConfig
	RealmID     string
	AppID       string
	AppConfig   model.ApplicationConfig
}

type createRealmBody struct {
	Config model.RealmConfig `json:"config"`
}

type realmIDBody struct {
	UUID string `json:"uuid"`
}

type createApplicationBody struct {
	UUID   string                  `json:"uuid"`
	Config model.ApplicationConfig `json:"config"`
}

type updateApplicationBody struct {
	UUID   string                  `json:"uuid"`
	App    string                  `json:"app"`
	Config model.ApplicationConfig `json:"config"`
}

type appOpBody struct {
	UUID string `json:"uuid"`
	App  string `json:"app"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindCreateRealm:
		return json.Marshal(map[string]createRealmBody{r.Kind: {Config: r.RealmConfig}})
	case KindStartRealm, KindStopRealm, KindRebootRealm, KindDestroyRealm, KindInspectRealm:
		return json.Marshal(map[string]realmIDBody{r.Kind: {UUID: r.RealmID}})
	case KindListRealms:
		return json.Marshal(map[string]struct{}{r.Kind: {}})
	case KindCreateApplication:
		return json.Marshal(map[string]createApplicationBody{r.Kind: {UUID: r.RealmID, Config: r.AppConfig}})
	case KindUpdateApplication:
		return json.Marshal(map[string]updateApplicationBody{r.Kind: {UUID: r.RealmID, App: r.AppID, Config: r.AppConfig}})
	case KindStartApplication, KindStopApplication:
		return json.Marshal(map[string]appOpBody{r.Kind: {UUID: r.RealmID, App: r.AppID}})
	default:
		return nil, fmt.Errorf("rpcserver: unknown request kind %q", r.Kind)
	}
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("rpcserver: request must have exactly one key, got %d", len(raw))
	}
	for kind, body := range raw {
		r.Kind = kind
		switch kind {
		case KindCreateRealm:
			var b createRealmBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.RealmConfig = b.Config
		case KindStartRealm, KindStopRealm, KindRebootRealm, KindDestroyRealm, KindInspectRealm:
			var b realmIDBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.RealmID = b.UUID
		case KindListRealms:
			// no payload
		case KindCreateApplication:
			var b createApplicationBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.RealmID = b.UUID
			r.AppConfig = b.Config
		case KindUpdateApplication:
			var b updateApplicationBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.RealmID = b.UUID
			r.AppID = b.App
			r.AppConfig = b.Config
		case KindStartApplication, KindStopApplication:
			var b appOpBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.RealmID = b.UUID
			r.AppID = b.App
		default:
			return fmt.Errorf("rpcserver: unknown request kind %q", kind)
		}
	}
	return nil
}

// Response is one daemon→client message (spec.md §4.8 response grammar).
type Response struct {
	Kind         string
	UUID         string
	Description  model.RealmDescription
	Descriptions []model.RealmDescription
	ErrKind      string
	ErrMsg       string
}

type uuidBody struct {
	UUID string `json:"uuid"`
}

type inspectedRealmBody struct {
	Description model.RealmDescription `json:"description"`
}

type listedRealmsBody struct {
	Descriptions []model.RealmDescription `json:"descriptions"`
}

type errorBody struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindCreatedRealm, KindCreatedApplication:
		return json.Marshal(map[string]uuidBody{r.Kind: {UUID: r.UUID}})
	case KindOk:
		return json.Marshal(map[string]struct{}{r.Kind: {}})
	case KindInspectedRealm:
		return json.Marshal(map[string]inspectedRealmBody{r.Kind: {Description: r.Description}})
	case KindListedRealms:
		return json.Marshal(map[string]listedRealmsBody{r.Kind: {Descriptions: r.Descriptions}})
	case KindError:
		return json.Marshal(map[string]errorBody{r.Kind: {Kind: r.ErrKind, Msg: r.ErrMsg}})
	default:
		return nil, fmt.Errorf("rpcserver: unknown response kind %q", r.Kind)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("rpcserver: response must have exactly one key, got %d", len(raw))
	}
	for kind, body := range raw {
		r.Kind = kind
		switch kind {
		case KindCreatedRealm, KindCreatedApplication:
			var b uuidBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.UUID = b.UUID
		case KindOk:
		case KindInspectedRealm:
			var b inspectedRealmBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.Description = b.Description
		case KindListedRealms:
			var b listedRealmsBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.Descriptions = b.Descriptions
		case KindError:
			var b errorBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			r.ErrKind = b.Kind
			r.ErrMsg = b.Msg
		default:
			return fmt.Errorf("rpcserver: unknown response kind %q", kind)
		}
	}
	return nil
}

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
