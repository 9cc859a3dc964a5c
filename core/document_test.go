package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pkt.systems/coderoom/schema"
)

func TestApplyEditBroadcastsAndPersists(t *testing.T) {
	fs := newFakeStore(testRoom("r1"))
	sink := &recordingSink{}
	svc := newTestService(fs, sink)
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.ApplyEdit(ctx, "r1", "c1", "const x = 1"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	events := sink.snapshot()
	last := events[len(events)-1]
	if last.kind != "document" {
		t.Fatalf("last event = %v, want document", last.kind)
	}
	doc := last.ev.(schema.DocumentEvent)
	if doc.Sender != "c1" || doc.Text != "const x = 1" {
		t.Fatalf("document event = %+v", doc)
	}

	stored, err := fs.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Document != "const x = 1" {
		t.Fatalf("persisted document = %q", stored.Document)
	}
}

func TestApplyEditUnknownRoom(t *testing.T) {
	svc := newTestService(newFakeStore(), &recordingSink{})
	err := svc.ApplyEdit(context.Background(), "ghost", "c1", "x")
	if !errIs(err, schema.ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestApplyEditPersistFailureStillBroadcasts(t *testing.T) {
	fs := newFakeStore(testRoom("r1"))
	sink := &recordingSink{}
	svc := newTestService(fs, sink)
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	fs.saveErr = errors.New("disk full")

	err := svc.ApplyEdit(ctx, "r1", "c1", "lost write")
	if !errIs(err, schema.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}

	// The broadcast happened before the failed write; live state keeps the edit.
	events := sink.snapshot()
	if events[len(events)-1].kind != "document" {
		t.Fatalf("last event = %v, want document", events[len(events)-1].kind)
	}
	doc, _, err := svc.Snapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if doc != "lost write" {
		t.Fatalf("live document = %q", doc)
	}
}

func TestApplyLanguageChangeNormalizes(t *testing.T) {
	fs := newFakeStore(testRoom("r1"))
	sink := &recordingSink{}
	svc := newTestService(fs, sink)
	ctx := context.Background()

	if err := svc.Join(ctx, "r1", "c1", schema.Identity{UserID: "alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.ApplyLanguageChange(ctx, "r1", "c1", "  Python "); err != nil {
		t.Fatalf("language: %v", err)
	}

	_, lang, err := svc.Snapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if lang != "python" {
		t.Fatalf("language = %q", lang)
	}
	events := sink.snapshot()
	ev := events[len(events)-1].ev.(schema.LanguageEvent)
	if ev.Language != "python" {
		t.Fatalf("broadcast language = %q", ev.Language)
	}
}

func TestConcurrentEditsConvergeToLastBroadcast(t *testing.T) {
	fs := newFakeStore(testRoom("r1"))
	sink := &recordingSink{}
	svc := newTestService(fs, sink)
	ctx := context.Background()

	conns := []schema.ConnID{"c1", "c2", "c3", "c4"}
	for i, c := range conns {
		who := schema.Identity{UserID: schema.UserID(fmt.Sprintf("u%d", i))}
		if err := svc.Join(ctx, "r1", c, who); err != nil {
			t.Fatalf("join %s: %v", c, err)
		}
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		for n := 0; n < 25; n++ {
			wg.Add(1)
			go func(c schema.ConnID, text string) {
				defer wg.Done()
				if err := svc.ApplyEdit(ctx, "r1", c, text); err != nil {
					t.Errorf("edit: %v", err)
				}
			}(c, fmt.Sprintf("%s-%d-%d", c, i, n))
		}
	}
	wg.Wait()

	// The room converges on whichever edit was broadcast last.
	var lastText string
	for _, e := range sink.snapshot() {
		if e.kind == "document" {
			lastText = e.ev.(schema.DocumentEvent).Text
		}
	}
	doc, _, err := svc.Snapshot(ctx, "r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if doc != lastText {
		t.Fatalf("document %q diverged from last broadcast %q", doc, lastText)
	}
}

func TestEditOnEmptyRoomDoesNotPinState(t *testing.T) {
	fs := newFakeStore(testRoom("r1"))
	svc := newTestService(fs, &recordingSink{})
	ctx := context.Background()

	if err := svc.ApplyEdit(ctx, "r1", "c-ext", "headless edit"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := svc.ApplyLanguageChange(ctx, "r1", "c-ext", "python"); err != nil {
		t.Fatalf("language: %v", err)
	}

	// Both writes landed in the store.
	stored, err := fs.GetRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Document != "headless edit" || stored.Language != "python" {
		t.Fatalf("stored = %+v", stored)
	}

	// With no live members the room state is released again.
	inner := svc.(*service)
	inner.mu.Lock()
	resident := len(inner.rooms)
	inner.mu.Unlock()
	if resident != 0 {
		t.Fatalf("resident rooms = %d, want 0", resident)
	}
}

func TestSnapshotFallsBackToStore(t *testing.T) {
	room := testRoom("r1")
	room.Document = "persisted"
	room.Language = "GO"
	svc := newTestService(newFakeStore(room), &recordingSink{})

	doc, lang, err := svc.Snapshot(context.Background(), "r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if doc != "persisted" || lang != "go" {
		t.Fatalf("snapshot = %q, %q", doc, lang)
	}

	if _, _, err := svc.Snapshot(context.Background(), "ghost"); !errIs(err, schema.ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}
