package guestagent

import (
	"os/exec"
	"testing"

	"github.com/xfeldman/warden/internal/agent"
)

func newTestAgent() *Agent {
	return &Agent{apps: make(map[string]*runningApp)}
}

func TestHandle_ProvisionInfo(t *testing.T) {
	a := newTestAgent()
	resp := a.handle(agent.Request{Kind: agent.KindProvisionInfo})
	if resp.Kind != agent.KindSuccess {
		t.Errorf("Kind = %q, want %q", resp.Kind, agent.KindSuccess)
	}
}

func TestHandle_RebootAndShutdown(t *testing.T) {
	a := newTestAgent()
	for _, kind := range []string{agent.KindReboot, agent.KindShutdown} {
		resp := a.handle(agent.Request{Kind: kind})
		if resp.Kind != agent.KindSuccess {
			t.Errorf("handle(%s).Kind = %q, want %q", kind, resp.Kind, agent.KindSuccess)
		}
	}
}

func TestHandle_UnknownKind(t *testing.T) {
	a := newTestAgent()
	resp := a.handle(agent.Request{Kind: "Bogus"})
	if resp.Kind != agent.KindError {
		t.Errorf("Kind = %q, want %q", resp.Kind, agent.KindError)
	}
}

func TestHandle_CheckAppStatus_Unknown(t *testing.T) {
	a := newTestAgent()
	resp := a.handle(agent.Request{Kind: agent.KindCheckAppStatus, AppID: "nope"})
	if resp.Kind != agent.KindAppStatus {
		t.Fatalf("Kind = %q, want %q", resp.Kind, agent.KindAppStatus)
	}
	if resp.Running {
		t.Error("Running = true for an unknown app, want false")
	}
	if resp.ExitStatus != nil {
		t.Errorf("ExitStatus = %v, want nil", resp.ExitStatus)
	}
}

func TestHandle_StopApp_UnknownIsIdempotent(t *testing.T) {
	a := newTestAgent()
	resp := a.handle(agent.Request{Kind: agent.KindStopApp, AppID: "nope"})
	if resp.Kind != agent.KindSuccess {
		t.Errorf("StopApp on unknown app: Kind = %q, want %q", resp.Kind, agent.KindSuccess)
	}
}

func TestHandle_KillApp_UnknownIsIdempotent(t *testing.T) {
	a := newTestAgent()
	resp := a.handle(agent.Request{Kind: agent.KindKillApp, AppID: "nope"})
	if resp.Kind != agent.KindSuccess {
		t.Errorf("KillApp on unknown app: Kind = %q, want %q", resp.Kind, agent.KindSuccess)
	}
}

func TestCheckApp_RunningVsExited(t *testing.T) {
	a := newTestAgent()
	cmd := exec.Command("sh", "-c", "exit 3")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ra := &runningApp{cmd: cmd}
	a.apps["app-1"] = ra

	running, exitStatus := a.checkApp("app-1")
	if !running || exitStatus != nil {
		t.Errorf("before exit: running=%v exitStatus=%v, want true/nil", running, exitStatus)
	}

	a.awaitExit("app-1", ra)

	running, exitStatus = a.checkApp("app-1")
	if running {
		t.Error("after exit: running = true, want false")
	}
	if exitStatus == nil || *exitStatus != 3 {
		t.Errorf("after exit: exitStatus = %v, want 3", exitStatus)
	}
}

func TestStopApp_AlreadyExitedIsIdempotent(t *testing.T) {
	a := newTestAgent()
	status := 0
	a.apps["app-1"] = &runningApp{exitStatus: &status}

	if err := a.stopApp("app-1", 15); err != nil {
		t.Errorf("stopApp on already-exited app: %v, want nil", err)
	}
}
