package provider

import (
	"strings"
	"testing"
)

func TestRenderCallControlDialNumber(t *testing.T) {
	out, err := RenderCallControl(CallControl{
		Action:   CallControlDial,
		CallerID: "+15550001111",
		Target:   "+15557654321",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, `callerId="+15550001111"`) {
		t.Fatalf("expected callerId attr in: %s", out)
	}
	if !strings.Contains(out, "<Number>+15557654321</Number>") {
		t.Fatalf("expected Number verb in: %s", out)
	}
}

func TestRenderCallControlDialClient(t *testing.T) {
	out, err := RenderCallControl(CallControl{Action: CallControlDial, Target: "user-42"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Client>user-42</Client>") {
		t.Fatalf("expected Client verb in: %s", out)
	}
}

func TestRenderCallControlSayHangup(t *testing.T) {
	out, err := RenderCallControl(CallControl{Action: CallControlSayHangup, Message: "This call cannot be completed."})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Say>") || !strings.Contains(out, "<Hangup") {
		t.Fatalf("expected Say and Hangup verbs in: %s", out)
	}
}

func TestRenderCallControlDialRequiresTarget(t *testing.T) {
	if _, err := RenderCallControl(CallControl{Action: CallControlDial}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderCallControlUnknownAction(t *testing.T) {
	if _, err := RenderCallControl(CallControl{Action: "transfer"}); err == nil {
		t.Fatalf("expected error")
	}
}
