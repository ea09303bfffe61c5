package agent

import (
	"bytes"
	"testing"

	"github.com/xfeldman/warden/internal/model"
)

func TestRequestRoundTrip_ProvisionInfo(t *testing.T) {
	want := Request{Kind: KindProvisionInfo, Apps: []model.ApplicationInfo{
		{ID: "app-1", Name: "web", Version: "1.0"},
	}}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != want.Kind || len(got.Apps) != 1 || got.Apps[0].ID != "app-1" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTrip_AppID(t *testing.T) {
	want := Request{Kind: KindStopApp, AppID: "app-7"}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Request
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindStopApp || got.AppID != "app-7" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRequestRoundTrip_NoPayload(t *testing.T) {
	for _, kind := range []string{KindReboot, KindShutdown} {
		want := Request{Kind: kind}
		data, err := want.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%s): %v", kind, err)
		}
		var got Request
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", kind, err)
		}
		if got.Kind != kind {
			t.Errorf("Kind = %q, want %q", got.Kind, kind)
		}
	}
}

func TestRequestUnmarshal_UnknownKind(t *testing.T) {
	var r Request
	if err := r.UnmarshalJSON([]byte(`{"Bogus":{}}`)); err == nil {
		t.Error("UnmarshalJSON with unknown kind: got nil error, want error")
	}
}

func TestRequestUnmarshal_MultipleKeys(t *testing.T) {
	var r Request
	if err := r.UnmarshalJSON([]byte(`{"Reboot":{},"Shutdown":{}}`)); err == nil {
		t.Error("UnmarshalJSON with two keys: got nil error, want error")
	}
}

func TestResponseRoundTrip_AppStatus(t *testing.T) {
	status := 1
	want := Response{Kind: KindAppStatus, Running: false, ExitStatus: &status}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Response
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindAppStatus || got.Running != false || got.ExitStatus == nil || *got.ExitStatus != 1 {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResponseRoundTrip_Error(t *testing.T) {
	want := Response{Kind: KindError, Msg: "app not found"}

	data, err := want.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Response
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Kind != KindError || got.Msg != "app not found" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Request{Kind: KindCheckAppStatus, AppID: "app-3"}

	if err := writeFrame(&buf, want); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	var got Request
	if err := readFrame(&buf, &got); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if got.Kind != want.Kind || got.AppID != want.AppID {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if buf.Len() != 0 {
		t.Errorf("buf.Len() = %d, want 0 after reading one frame", buf.Len())
	}
}

func TestFrameRoundTrip_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	first := Request{Kind: KindReboot}
	second := Request{Kind: KindStartApp, AppID: "app-9"}

	if err := writeFrame(&buf, first); err != nil {
		t.Fatalf("writeFrame(first): %v", err)
	}
	if err := writeFrame(&buf, second); err != nil {
		t.Fatalf("writeFrame(second): %v", err)
	}

	var gotFirst, gotSecond Request
	if err := readFrame(&buf, &gotFirst); err != nil {
		t.Fatalf("readFrame(first): %v", err)
	}
	if err := readFrame(&buf, &gotSecond); err != nil {
		t.Fatalf("readFrame(second): %v", err)
	}
	if gotFirst.Kind != KindReboot {
		t.Errorf("first.Kind = %q, want %q", gotFirst.Kind, KindReboot)
	}
	if gotSecond.Kind != KindStartApp || gotSecond.AppID != "app-9" {
		t.Errorf("second = %+v, want {StartApp app-9}", gotSecond)
	}
}
