package rpcserver

import (
	"bytes"
	"testing"

	"github.com/xfeldman/warden/internal/model"
)

func TestRequestRoundTrip_CreateRealm(t *testing.T) {
	want := Request{Kind: KindCreateRealm, RealmConfig: model.RealmConfig{Machine: "q35"}}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindCreateRealm || got.RealmConfig.Machine != "q35" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTrip_RealmID(t *testing.T) {
	want := Request{Kind: KindStartRealm, RealmID: "realm-abc"}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindStartRealm || got.RealmID != "realm-abc" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTrip_ListRealms(t *testing.T) {
	want := Request{Kind: KindListRealms}
	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindListRealms {
		t.Errorf("Kind = %q, want %q", got.Kind, KindListRealms)
	}
}

func TestRequestRoundTrip_CreateApplication(t *testing.T) {
	want := Request{
		Kind:      KindCreateApplication,
		RealmID:   "realm-1",
		AppConfig: model.ApplicationConfig{Name: "web", Version: "2.0"},
	}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.RealmID != "realm-1" || got.AppConfig.Name != "web" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTrip_UpdateApplication(t *testing.T) {
	want := Request{
		Kind:      KindUpdateApplication,
		RealmID:   "realm-1",
		AppID:     "app-2",
		AppConfig: model.ApplicationConfig{Name: "web", Version: "3.0"},
	}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.RealmID != "realm-1" || got.AppID != "app-2" || got.AppConfig.Version != "3.0" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTrip_StartApplication(t *testing.T) {
	want := Request{Kind: KindStartApplication, RealmID: "realm-1", AppID: "app-2"}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.RealmID != "realm-1" || got.AppID != "app-2" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestUnmarshal_UnknownKind(t *testing.T) {
	var r Request
	if err := r.UnmarshalJSON([]byte(`{"Bogus":{}}`)); err == nil {
		t.Error("UnmarshalJSON with unknown kind: got nil error, want error")
	}
}

func TestResponseRoundTrip_CreatedRealm(t *testing.T) {
	want := Response{Kind: KindCreatedRealm, UUID: "realm-xyz"}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Response
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindCreatedRealm || got.UUID != "realm-xyz" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResponseRoundTrip_InspectedRealm(t *testing.T) {
	want := Response{Kind: KindInspectedRealm, Description: model.RealmDescription{
		ID:    "realm-1",
		State: model.RealmRunning,
	}}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Response
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Description.ID != "realm-1" || got.Description.State != model.RealmRunning {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResponseRoundTrip_ListedRealms(t *testing.T) {
	want := Response{Kind: KindListedRealms, Descriptions: []model.RealmDescription{
		{ID: "realm-1", State: model.RealmHalted},
		{ID: "realm-2", State: model.RealmRunning},
	}}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Response
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if len(got.Descriptions) != 2 || got.Descriptions[1].ID != "realm-2" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResponseRoundTrip_Error(t *testing.T) {
	want := Response{Kind: KindError, ErrKind: "InvalidState", ErrMsg: "realm is Running"}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Response
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.ErrKind != "InvalidState" || got.ErrMsg != "realm is Running" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Request{Kind: KindInspectRealm, RealmID: "realm-1"}

	if err := writeFrame(&buf, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	var got Request
	if err := readFrame(&buf, &got); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.Kind != want.Kind || got.RealmID != want.RealmID {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
