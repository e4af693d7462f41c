package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/servicedesk_bot/backend/internal/models"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestZoneCommand(t *testing.T) {
	out, err := runRoot(t, "zone", "55.7576", "37.6113")
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	var zc models.ZoneClassification
	if err := json.Unmarshal([]byte(out), &zc); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if zc.Tier != models.TierInZone {
		t.Fatalf("expected in_zone, got %+v", zc)
	}
}

func TestZoneCommandRejectsBadInput(t *testing.T) {
	if _, err := runRoot(t, "zone", "north", "37.6"); err == nil {
		t.Fatalf("expected error for non-numeric latitude")
	}
	if _, err := runRoot(t, "zone", "55.7"); err == nil {
		t.Fatalf("expected error for missing longitude")
	}
}

func TestDraftCommandRejectsBadChatID(t *testing.T) {
	if _, err := runRoot(t, "draft", "abc"); err == nil {
		t.Fatalf("expected error for bad chat id")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	if err != nil || out != version+"\n" {
		t.Fatalf("unexpected %q %v", out, err)
	}
}
