package core

import (
	"context"
	"testing"

	"pkt.systems/coderoom/schema"
)

func TestJoinDeliversSnapshotThenMembership(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(newFakeStore(testRoom("r1")), sink)
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %v", sink.kinds())
	}
	joined, ok := events[0].ev.(schema.JoinedEvent)
	if !ok || events[0].kind != "joined" {
		t.Fatalf("first event = %v, want joined", events[0].kind)
	}
	if joined.Document != "// Start coding in javascript..." || joined.Language != "javascript" {
		t.Fatalf("snapshot mismatch: %+v", joined)
	}
	if joined.RoomName != "pairing" || joined.CreatorName != "Alice" {
		t.Fatalf("room metadata mismatch: %+v", joined)
	}
	presence, ok := events[1].ev.(schema.PresenceEvent)
	if !ok || events[1].kind != "participantJoined" {
		t.Fatalf("second event = %v, want participantJoined", events[1].kind)
	}
	if len(presence.Participants) != 1 || presence.Participants[0].ConnID != "c1" {
		t.Fatalf("participants = %+v", presence.Participants)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	svc := newTestService(newFakeStore(), &recordingSink{})
	err := svc.Join(context.Background(), "ghost", "c1", schema.Identity{UserID: "alice"})
	if !errIs(err, schema.ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestRejoinReplacesPriorConnection(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(newFakeStore(testRoom("r1")), sink)
	ctx := context.Background()

	alice := schema.Identity{UserID: "alice", DisplayName: "Alice"}
	if err := svc.Join(ctx, "r1", "c1", alice); err != nil {
		t.Fatalf("join c1: %v", err)
	}
	if err := svc.ReportCursor(ctx, schema.CursorState{ConnID: "c1", RoomID: "r1", Position: 5}); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if err := svc.Join(ctx, "r1", "c2", alice); err != nil {
		t.Fatalf("join c2: %v", err)
	}

	got := svc.ListParticipants("r1")
	if len(got) != 1 || got[0].ConnID != "c2" {
		t.Fatalf("participants = %+v, want single c2", got)
	}

	// The replaced connection's cursor is retired before the new join events.
	var sawGone bool
	for _, e := range sink.snapshot() {
		if e.kind == "cursorGone" {
			gone := e.ev.(schema.CursorGoneEvent)
			if gone.ConnID != "c1" {
				t.Fatalf("cursorGone for %s, want c1", gone.ConnID)
			}
			sawGone = true
		}
		if e.kind == "participantLeft" {
			t.Fatal("rejoin must not broadcast participantLeft")
		}
	}
	if !sawGone {
		t.Fatal("missing cursorGone for replaced connection")
	}

	// The stale connection's eviction is a no-op now.
	if _, ok := svc.Leave(ctx, "c1"); ok {
		t.Fatal("leave of replaced conn reported an eviction")
	}
	if got := svc.ListParticipants("r1"); len(got) != 1 {
		t.Fatalf("participants after stale leave = %+v", got)
	}
}

func TestJoinSecondRoomEvictsFromFirst(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(newFakeStore(testRoom("r1"), testRoom("r2")), sink)
	ctx := context.Background()

	alice := schema.Identity{UserID: "alice", DisplayName: "Alice"}
	if err := svc.Join(ctx, "r1", "c1", alice); err != nil {
		t.Fatalf("join r1: %v", err)
	}
	if err := svc.Join(ctx, "r2", "c1", alice); err != nil {
		t.Fatalf("join r2: %v", err)
	}

	if got := svc.ListParticipants("r1"); got != nil {
		t.Fatalf("r1 participants after move = %+v", got)
	}
	got := svc.ListParticipants("r2")
	if len(got) != 1 || got[0].ConnID != "c1" {
		t.Fatalf("r2 participants = %+v, want single c1", got)
	}

	// The first room saw a departure before the second saw the arrival.
	var leftRoom, joinedRoom schema.RoomID
	for _, e := range sink.snapshot() {
		if e.kind == "participantLeft" && leftRoom == "" {
			leftRoom = e.ev.(schema.PresenceEvent).RoomID
		}
		if e.kind == "participantJoined" {
			joinedRoom = e.ev.(schema.PresenceEvent).RoomID
		}
	}
	if leftRoom != "r1" {
		t.Fatalf("participantLeft room = %q, want r1", leftRoom)
	}
	if joinedRoom != "r2" {
		t.Fatalf("final participantJoined room = %q, want r2", joinedRoom)
	}

	// Closing the connection detaches it from the current room only once.
	roomID, ok := svc.Leave(ctx, "c1")
	if !ok || roomID != "r2" {
		t.Fatalf("leave = %q, %v", roomID, ok)
	}
	if got := svc.ListParticipants("r1"); got != nil {
		t.Fatalf("r1 participants after close = %+v", got)
	}
}

func TestLeaveBroadcastsAndIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(newFakeStore(testRoom("r1")), sink)
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("join c1: %v", err)
	}
	if err := svc.Join(ctx, "r1", "c2", schema.Identity{UserID: "bob", DisplayName: "Bob"}); err != nil {
		t.Fatalf("join c2: %v", err)
	}

	roomID, ok := svc.Leave(ctx, "c1")
	if !ok || roomID != "r1" {
		t.Fatalf("leave = %q, %v", roomID, ok)
	}
	if _, ok := svc.Leave(ctx, "c1"); ok {
		t.Fatal("second leave reported an eviction")
	}
	if _, ok := svc.Leave(ctx, "never-joined"); ok {
		t.Fatal("leave of unknown conn reported an eviction")
	}

	events := sink.snapshot()
	last := events[len(events)-1]
	if last.kind != "participantLeft" {
		t.Fatalf("last event = %v, want participantLeft", last.kind)
	}
	left := last.ev.(schema.PresenceEvent)
	if left.Actor.ConnID != "c1" {
		t.Fatalf("actor = %+v", left.Actor)
	}
	if len(left.Participants) != 1 || left.Participants[0].ConnID != "c2" {
		t.Fatalf("remaining = %+v", left.Participants)
	}
}

func TestLastLeaveReleasesRoomState(t *testing.T) {
	fs := newFakeStore(testRoom("r1"))
	svc := newTestService(fs, &recordingSink{})
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.ApplyEdit(ctx, "r1", "c1", "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, ok := svc.Leave(ctx, "c1"); !ok {
		t.Fatal("leave failed")
	}
	if got := svc.ListParticipants("r1"); got != nil {
		t.Fatalf("participants after release = %+v", got)
	}

	// The next join reloads the persisted document.
	if err := svc.Join(ctx, "r1", "c2", schema.Identity{UserID: "bob"}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	doc, _, err := svc.Snapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if doc != "edited" {
		t.Fatalf("document = %q, want persisted edit", doc)
	}
}

func TestCloseRoomEvictsEveryone(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestService(newFakeStore(testRoom("r1")), sink)
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice"}); err != nil {
		t.Fatalf("join c1: %v", err)
	}
	if err := svc.Join(ctx, "r1", "c2", schema.Identity{UserID: "bob"}); err != nil {
		t.Fatalf("join c2: %v", err)
	}
	if err := svc.CloseRoom(ctx, "r1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := svc.ListParticipants("r1"); got != nil {
		t.Fatalf("participants after close = %+v", got)
	}
	var closed *schema.RoomClosedEvent
	for _, e := range sink.snapshot() {
		if e.kind == "roomClosed" {
			ev := e.ev.(schema.RoomClosedEvent)
			closed = &ev
		}
	}
	if closed == nil || len(closed.Members) != 2 {
		t.Fatalf("roomClosed = %+v", closed)
	}
	// Evicted connections are fully detached.
	if _, ok := svc.Leave(ctx, "c1"); ok {
		t.Fatal("leave after close reported an eviction")
	}
}
