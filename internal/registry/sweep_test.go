package registry

import (
	"testing"
	"time"
)

func TestSweepIdleRoomsRemovesNeverJoinedShells(t *testing.T) {
	reg := New(0)

	stale, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom stale: %v", err)
	}
	fresh, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom fresh: %v", err)
	}
	occupied, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom occupied: %v", err)
	}

	s1 := reg.Connect()
	if _, _, err := reg.Join(occupied, s1.ID, "alice", "en"); err != nil {
		t.Fatalf("Join occupied: %v", err)
	}

	reg.mu.Lock()
	reg.rooms[stale].createdAt = time.Now().Add(-time.Hour)
	reg.rooms[occupied].createdAt = time.Now().Add(-time.Hour)
	reg.mu.Unlock()

	if removed := reg.SweepIdleRooms(10 * time.Minute); removed != 1 {
		t.Fatalf("swept %d shells, want 1", removed)
	}

	s2 := reg.Connect()
	if _, _, err := reg.Join(stale, s2.ID, "bob", "en"); err != ErrRoomNotFound {
		t.Fatalf("expected swept code to be unjoinable, got %v", err)
	}

	// A fresh reservation and an occupied room both survive the sweep.
	if _, _, err := reg.Join(fresh, s2.ID, "bob", "en"); err != nil {
		t.Fatalf("Join fresh after sweep: %v", err)
	}
	if _, err := reg.Members(occupied); err != nil {
		t.Fatalf("Members occupied after sweep: %v", err)
	}
}
