package state_test

import (
	"path/filepath"
	"testing"

	"github.com/basket/khoregos/internal/state"
)

func TestDaemonState_CreateRefusesWhenAlreadyRunning(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".khoregos")
	d := state.NewDaemonState(dir)

	if d.IsRunning() {
		t.Fatal("expected not running before Create")
	}
	if err := d.Create(state.Fields{SessionID: "session-1"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if !d.IsRunning() {
		t.Fatal("expected running after Create")
	}

	err := d.Create(state.Fields{SessionID: "session-2"})
	if err != state.ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	got := d.Read()
	if got.SessionID != "session-1" {
		t.Fatalf("expected the first session's id to survive the refused Create, got %q", got.SessionID)
	}
}

func TestDaemonState_RemoveThenCreateSucceeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".khoregos")
	d := state.NewDaemonState(dir)

	if err := d.Create(state.Fields{SessionID: "session-1"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := d.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if d.IsRunning() {
		t.Fatal("expected not running after Remove")
	}
	if err := d.Create(state.Fields{SessionID: "session-2"}); err != nil {
		t.Fatalf("Create after Remove: %v", err)
	}
	if got := d.Read().SessionID; got != "session-2" {
		t.Fatalf("expected session-2, got %q", got)
	}
}

func TestDaemonState_RemoveIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".khoregos")
	d := state.NewDaemonState(dir)

	if err := d.Remove(); err != nil {
		t.Fatalf("Remove on absent state: %v", err)
	}
	if err := d.Remove(); err != nil {
		t.Fatalf("second Remove on absent state: %v", err)
	}
}
